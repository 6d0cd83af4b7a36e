package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
)

// Source is a pull-based frame supplier. ReadFrame returns the most recent
// frame the device produced, or nil when nothing is available yet; it never
// blocks on the device. Close releases the device.
type Source interface {
	ReadFrame() image.Image
	Close() error
}

// Camera runs an external capture process (ffmpeg, rpicam-vid ... anything
// that writes an MJPEG stream to stdout) and keeps only the latest decoded
// frame. Readers always get the freshest picture; stale frames are dropped
// at the source rather than queued.
type Camera struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	mu     sync.RWMutex
	latest image.Image
	closed bool

	done chan struct{}
}

// readBufferSize is sized for full 1080p JPEG frames in few syscalls.
const readBufferSize = 256 * 1024

// NewCamera starts the capture command and begins decoding frames in the
// background.
func NewCamera(command string) (*Camera, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start camera process: %w", err)
	}

	c := &Camera{
		cmd:    cmd,
		stdout: stdout,
		done:   make(chan struct{}),
	}
	go c.readStream()

	log.Printf("Camera process started: %s", command)
	return c, nil
}

// ReadFrame returns the latest decoded frame, or nil before the first frame
// arrives or after the stream ended.
func (c *Camera) ReadFrame() image.Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Close stops the capture process and waits for the reader to finish.
func (c *Camera) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	<-c.done
	err := c.cmd.Wait()
	log.Printf("Camera process stopped")
	if err != nil && !c.wasKilled(err) {
		return fmt.Errorf("camera process exited: %w", err)
	}
	return nil
}

func (c *Camera) wasKilled(err error) bool {
	_, ok := err.(*exec.ExitError)
	return ok
}

func (c *Camera) readStream() {
	defer close(c.done)

	buf := make([]byte, 0, readBufferSize*2)
	readBuf := make([]byte, readBufferSize)

	for {
		n, err := c.stdout.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			buf = c.extractFrames(buf)
		}
		if err != nil {
			if err != io.EOF {
				c.mu.RLock()
				closed := c.closed
				c.mu.RUnlock()
				if !closed {
					log.Printf("Camera stream read error: %v", err)
				}
			}
			return
		}
	}
}

// extractFrames pulls complete JPEG images out of buf, keeps the newest
// decodable one, and returns the unconsumed remainder.
func (c *Camera) extractFrames(buf []byte) []byte {
	for {
		start := bytes.Index(buf, jpegSOI)
		if start < 0 {
			// No frame start in sight; drop all but a trailing byte in
			// case a marker is split across reads.
			if len(buf) > 1 {
				buf = buf[len(buf)-1:]
			}
			return buf
		}
		end := bytes.Index(buf[start+2:], jpegEOI)
		if end < 0 {
			return buf[start:]
		}
		frame := buf[start : start+2+end+2]
		if img, err := jpeg.Decode(bytes.NewReader(frame)); err == nil {
			c.mu.Lock()
			c.latest = img
			c.mu.Unlock()
		}
		buf = buf[start+2+end+2:]
	}
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// NullSource is the stand-in when no capture command is configured. It
// never produces a frame, so every streamer falls back to placeholders.
type NullSource struct{}

func (NullSource) ReadFrame() image.Image { return nil }
func (NullSource) Close() error           { return nil }

// BlackFrame synthesizes a solid black frame at the given resolution. Used
// as the placeholder when the capture device has nothing to offer, so the
// outbound cadence never skips an interval.
func BlackFrame(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	black := color.RGBA{A: 0xFF}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+3] = black.A
	}
	return img
}
