package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPostsAlertPayload(t *testing.T) {
	var got alertRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/alerts", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"alertId": "alert-42"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "device-1")
	id, err := client.Send(context.Background(), Alert{
		RiskLabel:       "Medium",
		DetectedObjects: []string{"person"},
		Description:     []string{"movement detected"},
		ConfidenceScore: 0.85,
	})
	require.NoError(t, err)
	assert.Equal(t, "alert-42", id)

	assert.Equal(t, "device-1", got.DeviceID)
	assert.Equal(t, "Medium", got.Alert.RiskLabel)
	assert.Equal(t, "Alert", got.Alert.NotificationType, "default notification type filled in")
	assert.NotZero(t, got.Alert.Timestamp, "default timestamp filled in")
}

func TestSendBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "device-1")
	_, err := client.Send(context.Background(), Alert{RiskLabel: "High"})
	assert.Error(t, err)
}
