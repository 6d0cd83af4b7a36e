package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwojcik/camstream/internal/models"
	"github.com/hwojcik/camstream/internal/store"
)

type fakeBroker struct {
	mu         sync.Mutex
	offerSDP   string
	offerErr   error
	candidates []models.ICECandidate
	active     int
	tornDown   []string
}

func (f *fakeBroker) Offer(deviceID, sdp string) (string, error) {
	if f.offerErr != nil {
		return "", f.offerErr
	}
	return f.offerSDP, nil
}

func (f *fakeBroker) AddCandidate(deviceID string, c models.ICECandidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
}

func (f *fakeBroker) receivedCandidates() []models.ICECandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ICECandidate(nil), f.candidates...)
}

func (f *fakeBroker) ActiveCount() int { return f.active }

func (f *fakeBroker) Sessions() []models.SessionInfo { return nil }

func (f *fakeBroker) Teardown(deviceID string) bool {
	f.tornDown = append(f.tornDown, deviceID)
	return true
}

func newTestRouter(broker SignalBroker, st store.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS())
	router.POST("/signal", PostOffer(broker))
	router.POST("/signal/candidate", PostCandidate(broker))
	router.GET("/signal", GetSignal(st))
	router.GET("/health", GetHealth(broker))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPostOfferReturnsAnswer(t *testing.T) {
	broker := &fakeBroker{offerSDP: "v=0\r\nanswer"}
	router := newTestRouter(broker, store.NewMemoryStore())

	w := doJSON(t, router, http.MethodPost, "/signal", `{"deviceId":"dev1","sdp":"v=0"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.SessionDescription
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "answer", resp.Type)
	assert.Equal(t, "v=0\r\nanswer", resp.SDP)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPostOfferMalformed(t *testing.T) {
	router := newTestRouter(&fakeBroker{}, store.NewMemoryStore())

	for _, body := range []string{`{}`, `{"deviceId":"dev1"}`, `{"sdp":"v=0"}`, `not json`} {
		w := doJSON(t, router, http.MethodPost, "/signal", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body: %s", body)
		assert.Contains(t, w.Body.String(), "error")
	}
}

func TestPostOfferNegotiationFailure(t *testing.T) {
	broker := &fakeBroker{offerErr: errors.New("negotiation failed for device dev1: bad sdp")}
	router := newTestRouter(broker, store.NewMemoryStore())

	w := doJSON(t, router, http.MethodPost, "/signal", `{"deviceId":"dev1","sdp":"garbage"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "bad sdp")
}

func TestPostCandidateUnknownDeviceIsOK(t *testing.T) {
	broker := &fakeBroker{}
	st := store.NewMemoryStore()
	router := newTestRouter(broker, st)

	w := doJSON(t, router, http.MethodPost, "/signal/candidate",
		`{"deviceId":"ghost","candidate":{"candidate":"candidate:1","sdpMLineIndex":0,"sdpMid":"0"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)

	// Nothing is queued for the unknown device.
	_, candidates, err := st.Drain("ghost")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestPostCandidateMissingDeviceID(t *testing.T) {
	router := newTestRouter(&fakeBroker{}, store.NewMemoryStore())

	w := doJSON(t, router, http.MethodPost, "/signal/candidate", `{"candidate":{"candidate":"candidate:1"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSignalDrainsCandidatesOnce(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.SetAnswer("dev1", models.SessionDescription{Type: "answer", SDP: "v=0"}))
	require.NoError(t, st.AppendCandidate("dev1", models.ICECandidate{Candidate: "candidate:1"}))
	router := newTestRouter(&fakeBroker{}, st)

	w := doJSON(t, router, http.MethodGet, "/signal?deviceId=dev1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var first models.PollResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, "answer", first.Type)
	assert.Equal(t, "v=0", first.SDP)
	require.Len(t, first.Candidates, 1)

	// Second poll: answer again, candidates gone.
	w = doJSON(t, router, http.MethodGet, "/signal?deviceId=dev1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var second models.PollResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, "answer", second.Type)
	assert.Empty(t, second.Candidates)
}

func TestGetSignalUnknownDeviceEmpty(t *testing.T) {
	router := newTestRouter(&fakeBroker{}, store.NewMemoryStore())

	w := doJSON(t, router, http.MethodGet, "/signal?deviceId=ghost", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())
}

func TestGetSignalMissingDeviceID(t *testing.T) {
	router := newTestRouter(&fakeBroker{}, store.NewMemoryStore())

	w := doJSON(t, router, http.MethodGet, "/signal", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeBroker{active: 2}, store.NewMemoryStore())

	w := doJSON(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, float64(2), resp["active_connections"])
	assert.NotEmpty(t, resp["timestamp"])
}

func TestPreflight(t *testing.T) {
	router := newTestRouter(&fakeBroker{}, store.NewMemoryStore())

	req := httptest.NewRequest(http.MethodOptions, "/signal", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}
