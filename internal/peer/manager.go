package peer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/hwojcik/camstream/config"
	"github.com/hwojcik/camstream/internal/capture"
	"github.com/hwojcik/camstream/internal/models"
	"github.com/hwojcik/camstream/internal/store"
)

// Session states. CONNECTED is the only state in which frames flow.
const (
	StateNew         = "new"
	StateNegotiating = "negotiating"
	StateConnected   = "connected"
	StateFailed      = "failed"
	StateClosed      = "closed"
)

// NegotiationError marks offer handling failures that the HTTP caller
// should see as a client error.
type NegotiationError struct {
	DeviceID string
	Err      error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed for device %s: %v", e.DeviceID, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// Session is one device's peer connection plus its streaming task.
type Session struct {
	ID        string
	DeviceID  string
	CreatedAt time.Time

	pc       *webrtc.PeerConnection
	streamer *Streamer

	mu           sync.Mutex
	state        string
	cancelStream context.CancelFunc
	streamDone   chan struct{}
}

func (s *Session) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the session's current negotiation state.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// startStreaming launches the frame loop once. Repeated connected
// notifications are ignored.
func (s *Session) startStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelStream != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancelStream = cancel
	s.streamDone = done
	go func() {
		defer close(done)
		s.streamer.Run(ctx, s.DeviceID)
	}()
}

// stopStreaming cancels the frame loop and waits for it to exit. The wait
// is bounded by one frame interval.
func (s *Session) stopStreaming() {
	s.mu.Lock()
	cancel := s.cancelStream
	done := s.streamDone
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Manager owns every active peer connection, keyed by device id. At most
// one live session exists per device; a new offer replaces the old session
// after tearing it down.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store     store.Store
	source    capture.Source
	camera    config.CameraConfig
	webrtcCfg webrtc.Configuration
}

func NewManager(st store.Store, source capture.Source, camera config.CameraConfig) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    st,
		source:   source,
		camera:   camera,
		webrtcCfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
	}
}

// Offer runs the full synchronous negotiation for a device: create the
// connection, attach the outbound track, apply the remote offer and return
// the local answer. The answer is also stored in the mailbox so later polls
// can re-deliver it.
func (m *Manager) Offer(deviceID, sdp string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[deviceID]; ok {
		log.Printf("Replacing existing session for device %s", deviceID)
		m.teardownLocked(deviceID, old)
	}

	pc, err := webrtc.NewPeerConnection(m.webrtcCfg)
	if err != nil {
		return "", &NegotiationError{DeviceID: deviceID, Err: err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "camstream-"+deviceID,
	)
	if err != nil {
		_ = pc.Close()
		return "", &NegotiationError{DeviceID: deviceID, Err: err}
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return "", &NegotiationError{DeviceID: deviceID, Err: err}
	}

	sess := &Session{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		CreatedAt: time.Now(),
		pc:        pc,
		streamer:  NewStreamer(track, m.source, m.camera.Width, m.camera.Height, m.camera.FPS),
		state:     StateNegotiating,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		candidate := models.ICECandidate{
			Candidate:     init.Candidate,
			SDPMLineIndex: init.SDPMLineIndex,
			SDPMid:        init.SDPMid,
		}
		if err := m.store.AppendCandidate(deviceID, candidate); err != nil {
			log.Printf("Failed to queue ICE candidate for device %s: %v", deviceID, err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("Connection state for device %s: %s", deviceID, state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			sess.setState(StateConnected)
			sess.startStreaming()
		case webrtc.PeerConnectionStateFailed:
			sess.setState(StateFailed)
			m.remove(deviceID, sess)
		case webrtc.PeerConnectionStateClosed:
			sess.setState(StateClosed)
			m.remove(deviceID, sess)
		}
	})

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(offer); err != nil {
		_ = pc.Close()
		return "", &NegotiationError{DeviceID: deviceID, Err: err}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", &NegotiationError{DeviceID: deviceID, Err: err}
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", &NegotiationError{DeviceID: deviceID, Err: err}
	}

	local := pc.LocalDescription()
	if err := m.store.SetAnswer(deviceID, models.SessionDescription{
		Type: "answer",
		SDP:  local.SDP,
	}); err != nil {
		log.Printf("Failed to store answer for device %s: %v", deviceID, err)
	}

	m.sessions[deviceID] = sess
	log.Printf("Answer created for device %s (session %s)", deviceID, sess.ID)
	return local.SDP, nil
}

// AddCandidate feeds a remote ICE candidate into the device's connection.
// An unknown device is not an error; early candidates racing the offer are
// expected and dropped.
func (m *Manager) AddCandidate(deviceID string, c models.ICECandidate) {
	m.mu.Lock()
	sess, ok := m.sessions[deviceID]
	m.mu.Unlock()
	if !ok {
		log.Printf("Dropping ICE candidate for unknown device %s", deviceID)
		return
	}

	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMLineIndex: c.SDPMLineIndex,
		SDPMid:        c.SDPMid,
	}
	if err := sess.pc.AddICECandidate(init); err != nil {
		log.Printf("Failed to add ICE candidate for device %s: %v", deviceID, err)
		return
	}
	log.Printf("ICE candidate added for device %s", deviceID)
}

// ActiveCount reports how many sessions are currently registered.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sessions lists the registered sessions for the admin API.
func (m *Manager) Sessions() []models.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]models.SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, models.SessionInfo{
			DeviceID:     sess.DeviceID,
			ConnectionID: sess.ID,
			State:        sess.State(),
			CreatedAt:    sess.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return infos
}

// Teardown force-closes a device's session. Reports whether one existed.
func (m *Manager) Teardown(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[deviceID]
	if !ok {
		return false
	}
	m.teardownLocked(deviceID, sess)
	return true
}

// Close tears down every session. Individual close errors are logged, not
// fatal; the rest still get closed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for deviceID, sess := range m.sessions {
		m.teardownLocked(deviceID, sess)
	}
}

// teardownLocked stops the streamer, closes the connection and wipes the
// mailbox. Caller holds m.mu.
func (m *Manager) teardownLocked(deviceID string, sess *Session) {
	sess.stopStreaming()
	if err := sess.pc.Close(); err != nil {
		log.Printf("Failed to close connection for device %s: %v", deviceID, err)
	}
	delete(m.sessions, deviceID)
	if err := m.store.Clear(deviceID); err != nil {
		log.Printf("Failed to clear mailbox for device %s: %v", deviceID, err)
	}
	log.Printf("Session removed for device %s", deviceID)
}

// remove handles transport-reported terminal states. The session pointer is
// compared so a stale callback from a replaced connection can never tear
// down its successor.
func (m *Manager) remove(deviceID string, sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[deviceID]
	if !ok || current != sess {
		return
	}
	m.teardownLocked(deviceID, sess)
}
