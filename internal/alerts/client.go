package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Alert is the payload shape the backend's /api/alerts endpoint expects.
type Alert struct {
	NotificationType string         `json:"notification_type"`
	DetectedObjects  []string       `json:"detected_objects"`
	RiskLabel        string         `json:"risk_label"`
	PredictedRisk    string         `json:"predicted_risk"`
	Description      []string       `json:"description"`
	Screenshot       []string       `json:"screenshot"`
	DeviceIdentifier string         `json:"device_identifier"`
	Timestamp        int64          `json:"timestamp"` // unix millis
	ModelVersion     string         `json:"model_version"`
	ConfidenceScore  float64        `json:"confidence_score"`
	AdditionalData   map[string]any `json:"additional_data,omitempty"`
}

type alertRequest struct {
	DeviceID string `json:"deviceId"`
	Alert    Alert  `json:"alert"`
}

type alertResponse struct {
	AlertID string `json:"alertId"`
}

// Client posts alerts to the remote backend. It holds no state beyond the
// target URL and device identity; alert persistence is the backend's
// problem.
type Client struct {
	baseURL  string
	deviceID string
	http     *http.Client
}

func NewClient(baseURL, deviceID string) *Client {
	return &Client{
		baseURL:  baseURL,
		deviceID: deviceID,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one alert and returns the backend-assigned alert id. A missing
// timestamp is filled in with the current time.
func (c *Client) Send(ctx context.Context, alert Alert) (string, error) {
	if alert.Timestamp == 0 {
		alert.Timestamp = time.Now().UnixMilli()
	}
	if alert.NotificationType == "" {
		alert.NotificationType = "Alert"
	}

	body, err := json.Marshal(alertRequest{DeviceID: c.deviceID, Alert: alert})
	if err != nil {
		return "", fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/alerts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("alert API returned status %d", resp.StatusCode)
	}

	var parsed alertResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode alert response: %w", err)
	}
	if parsed.AlertID == "" {
		// Some backend deployments don't echo an id back.
		parsed.AlertID = uuid.New().String()
	}
	return parsed.AlertID, nil
}
