package peer

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwojcik/camstream/config"
	"github.com/hwojcik/camstream/internal/capture"
	"github.com/hwojcik/camstream/internal/models"
	"github.com/hwojcik/camstream/internal/store"
)

var testCamera = config.CameraConfig{Width: 64, Height: 48, FPS: 30}

// clientOffer builds a real SDP offer the way a browser would: a
// receive-only video transceiver.
func clientOffer(t *testing.T) string {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))
	return offer.SDP
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	m := NewManager(st, capture.NullSource{}, testCamera)
	t.Cleanup(m.Close)
	return m, st
}

func TestOfferProducesAnswer(t *testing.T) {
	m, st := newTestManager(t)

	answer, err := m.Offer("dev1", clientOffer(t))
	require.NoError(t, err)
	assert.NotEmpty(t, answer)
	assert.Equal(t, 1, m.ActiveCount())

	// The answer lands in the mailbox and survives repeated polls.
	for i := 0; i < 2; i++ {
		stored, _, err := st.Drain("dev1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "answer", stored.Type)
		assert.Equal(t, answer, stored.SDP)
	}
}

func TestOfferMalformedSDP(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Offer("dev1", "this is not sdp")
	require.Error(t, err)

	var negErr *NegotiationError
	assert.ErrorAs(t, err, &negErr)

	// A failed negotiation leaves nothing half-registered.
	assert.Equal(t, 0, m.ActiveCount())
}

func TestReplacingOfferTearsDownOldSession(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Offer("dev1", clientOffer(t))
	require.NoError(t, err)

	first := m.Sessions()
	require.Len(t, first, 1)

	_, err = m.Offer("dev1", clientOffer(t))
	require.NoError(t, err)
	assert.Equal(t, 1, m.ActiveCount())

	second := m.Sessions()
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ConnectionID, second[0].ConnectionID)
}

func TestAddCandidateUnknownDevice(t *testing.T) {
	m, _ := newTestManager(t)

	// Must be a silent no-op, not an error or a panic.
	m.AddCandidate("ghost", models.ICECandidate{Candidate: "candidate:1"})
	assert.Equal(t, 0, m.ActiveCount())
}

func TestTeardownClearsSessionAndMailbox(t *testing.T) {
	m, st := newTestManager(t)

	_, err := m.Offer("dev1", clientOffer(t))
	require.NoError(t, err)

	require.True(t, m.Teardown("dev1"))
	assert.Equal(t, 0, m.ActiveCount())

	answer, candidates, err := st.Drain("dev1")
	require.NoError(t, err)
	assert.Nil(t, answer)
	assert.Empty(t, candidates)

	assert.False(t, m.Teardown("dev1"))
}

func TestCloseTearsDownEverything(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Offer("dev1", clientOffer(t))
	require.NoError(t, err)
	_, err = m.Offer("dev2", clientOffer(t))
	require.NoError(t, err)
	require.Equal(t, 2, m.ActiveCount())

	m.Close()
	assert.Equal(t, 0, m.ActiveCount())
}

func TestSessionStateLifecycle(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Offer("dev1", clientOffer(t))
	require.NoError(t, err)

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, StateNegotiating, sessions[0].State)
	assert.Equal(t, "dev1", sessions[0].DeviceID)
	assert.NotEmpty(t, sessions[0].ConnectionID)
	assert.NotEmpty(t, sessions[0].CreatedAt)
}
