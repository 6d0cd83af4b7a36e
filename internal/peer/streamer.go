package peer

import (
	"context"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/hwojcik/camstream/internal/capture"
)

// SampleWriter is the outbound side of a streamer. Satisfied by
// *webrtc.TrackLocalStaticSample.
type SampleWriter interface {
	WriteSample(media.Sample) error
}

// Encoder turns queued raw frames into encoded payloads.
type Encoder interface {
	Read() ([]byte, func(), error)
	Close() error
}

// EncoderFactory builds an encoder that reads frames from r at the given
// resolution.
type EncoderFactory func(r FrameReader, width, height int) (Encoder, error)

// FrameReader matches the reader shape the mediadevices encoders consume.
type FrameReader interface {
	Read() (image.Image, func(), error)
}

type frameFeed struct {
	frames chan image.Image
}

func (f *frameFeed) Read() (image.Image, func(), error) {
	frame, ok := <-f.frames
	if !ok {
		return nil, func() {}, fmt.Errorf("frame feed closed")
	}
	return frame, func() {}, nil
}

// newVP8Encoder is the production EncoderFactory.
func newVP8Encoder(r FrameReader, width, height int) (Encoder, error) {
	params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	params.BitRate = 2_000_000
	params.KeyFrameInterval = 60

	enc, err := params.BuildVideoEncoder(r, prop.Media{
		Video: prop.Video{Width: width, Height: height},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build VP8 encoder: %w", err)
	}
	return enc, nil
}

// Streamer drives one CONNECTED session's outbound video. Each interval it
// pulls the freshest frame from the source, falling back to a synthesized
// black frame so the timestamp cadence never skips, encodes it and writes
// the sample to the track.
type Streamer struct {
	track      SampleWriter
	source     capture.Source
	width      int
	height     int
	interval   time.Duration
	newEncoder EncoderFactory

	feed    *frameFeed
	encoder Encoder
	encSize image.Rectangle // locked in when the encoder is built
	elapsed time.Duration   // presentation-time cursor, strictly increasing
}

// NewStreamer builds a streamer for the given track and source. fps bounds
// the outbound cadence; 30 is the usual value.
func NewStreamer(track SampleWriter, source capture.Source, width, height, fps int) *Streamer {
	if fps <= 0 {
		fps = 30
	}
	return &Streamer{
		track:      track,
		source:     source,
		width:      width,
		height:     height,
		interval:   time.Second / time.Duration(fps),
		newEncoder: newVP8Encoder,
		feed:       &frameFeed{frames: make(chan image.Image, 1)},
	}
}

// Run loops until ctx is cancelled. Cancellation is observed within one
// interval. The deviceID is only for logging.
func (s *Streamer) Run(ctx context.Context, deviceID string) {
	log.Printf("Starting video stream for device %s", deviceID)
	defer log.Printf("Video stream stopped for device %s", deviceID)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer func() {
		if s.encoder != nil {
			_ = s.encoder.Close()
		}
	}()

	frameCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := s.source.ReadFrame()
			if frame == nil {
				frame = s.placeholder()
			}
			if err := s.writeFrame(frame); err != nil {
				log.Printf("Failed to send frame for device %s: %v", deviceID, err)
				continue
			}
			frameCount++
			if frameCount%300 == 0 {
				log.Printf("Sent %d frames to device %s", frameCount, deviceID)
			}
		}
	}
}

// placeholder synthesizes a black frame. Once the encoder is running it
// must match the negotiated resolution, not the configured one.
func (s *Streamer) placeholder() image.Image {
	if s.encoder != nil {
		return capture.BlackFrame(s.encSize.Dx(), s.encSize.Dy())
	}
	return capture.BlackFrame(s.width, s.height)
}

func (s *Streamer) writeFrame(frame image.Image) error {
	if s.encoder == nil {
		bounds := frame.Bounds()
		enc, err := s.newEncoder(s.feed, bounds.Dx(), bounds.Dy())
		if err != nil {
			return err
		}
		s.encoder = enc
		s.encSize = bounds
	}

	s.feed.frames <- frame
	encoded, release, err := s.encoder.Read()
	if err != nil {
		return fmt.Errorf("encoder read failed: %w", err)
	}
	defer release()

	s.elapsed += s.interval
	return s.track.WriteSample(media.Sample{
		Data:     encoded,
		Duration: s.interval,
	})
}
