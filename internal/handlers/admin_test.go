package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwojcik/camstream/internal/middleware"
)

const testSecret = "test-secret"

func newAdminRouter(broker SignalBroker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api")
	api.POST("/auth/login", Login(testSecret))
	api.GET("/sessions", middleware.JWTAuth(testSecret), ListSessions(broker))
	api.DELETE("/sessions/:deviceId", middleware.JWTAuth(testSecret), DeleteSession(broker))
	return router
}

func login(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestSessionsRequireAuth(t *testing.T) {
	router := newAdminRouter(&fakeBroker{})

	w := doJSON(t, router, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListSessionsWithToken(t *testing.T) {
	router := newAdminRouter(&fakeBroker{})
	token := login(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sessions")
}

func TestDeleteSession(t *testing.T) {
	broker := &fakeBroker{}
	router := newAdminRouter(broker)
	token := login(t, router)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/dev1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"dev1"}, broker.tornDown)
}
