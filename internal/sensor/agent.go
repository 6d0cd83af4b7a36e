package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hwojcik/camstream/config"
	"github.com/hwojcik/camstream/internal/alerts"
)

// Reading is one temperature/humidity sample.
type Reading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Reader abstracts the physical sensor. The hardware protocol lives behind
// this boundary.
type Reader interface {
	Read() (Reading, error)
}

// Thresholds trigger an alert when a reading crosses them. Zero values
// disable the check.
type Thresholds struct {
	MaxTemperature float64
	MaxHumidity    float64
}

// Agent mirrors the on-device control script: a local control surface for
// turning the sensor on and off, a background loop keeping the enabled
// flag in sync with the backend, and alert dispatch on threshold breaches.
type Agent struct {
	cfg        config.BackendConfig
	reader     Reader
	alerts     *alerts.Client
	thresholds Thresholds
	http       *http.Client

	mu      sync.Mutex
	enabled bool
	last    *Reading
}

func NewAgent(cfg config.BackendConfig, reader Reader, alertClient *alerts.Client, thresholds Thresholds) *Agent {
	return &Agent{
		cfg:        cfg,
		reader:     reader,
		alerts:     alertClient,
		thresholds: thresholds,
		http:       &http.Client{Timeout: 10 * time.Second},
		enabled:    true,
	}
}

// Enabled reports whether the sensor is currently switched on.
func (a *Agent) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// SetEnabled flips the sensor on or off locally.
func (a *Agent) SetEnabled(enabled bool) {
	a.mu.Lock()
	changed := a.enabled != enabled
	a.enabled = enabled
	a.mu.Unlock()
	if changed {
		if enabled {
			log.Printf("Sensor turned ON")
		} else {
			log.Printf("Sensor turned OFF")
		}
	}
}

// LastReading returns the most recent sample, or nil before the first read.
func (a *Agent) LastReading() *Reading {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// RegisterIP reports this device's local address to the backend so the app
// can reach the control surface directly.
func (a *Agent) RegisterIP(ctx context.Context) error {
	ip, err := localIP()
	if err != nil {
		return fmt.Errorf("could not determine local IP: %w", err)
	}

	body, err := json.Marshal(map[string]string{"ip_address": ip})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/devices/%s/metadata", a.cfg.URL, a.cfg.DeviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to register IP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("IP registration returned status %d", resp.StatusCode)
	}
	log.Printf("Device IP registered: %s", ip)
	return nil
}

// Run drives the agent until ctx is cancelled: sync the enabled flag with
// the backend every poll interval and take a reading while enabled.
func (a *Agent) Run(ctx context.Context) {
	interval := time.Duration(a.cfg.PollInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	log.Printf("Starting status monitor (device %s, sensor %d)", a.cfg.DeviceID, a.cfg.SensorID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Status monitor stopped")
			return
		case <-ticker.C:
			a.syncStatus(ctx)
			if a.Enabled() {
				a.sample(ctx)
			}
		}
	}
}

type backendSensor struct {
	SensorID int   `json:"sensor_id"`
	Enabled  *bool `json:"enabled"`
}

// syncStatus pulls the authoritative enabled flag from the backend. Errors
// leave the local state untouched.
func (a *Agent) syncStatus(ctx context.Context) {
	url := fmt.Sprintf("%s/api/sensors?deviceId=%s", a.cfg.URL, a.cfg.DeviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}

	resp, err := a.http.Do(req)
	if err != nil {
		log.Printf("Error checking backend status: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return
	}

	var sensors []backendSensor
	if err := json.NewDecoder(resp.Body).Decode(&sensors); err != nil {
		log.Printf("Error parsing backend status: %v", err)
		return
	}

	for _, s := range sensors {
		if s.SensorID != a.cfg.SensorID {
			continue
		}
		enabled := true
		if s.Enabled != nil {
			enabled = *s.Enabled
		}
		if enabled != a.Enabled() {
			log.Printf("Sensor state updated from backend: enabled=%v", enabled)
			a.SetEnabled(enabled)
		}
		return
	}
}

func (a *Agent) sample(ctx context.Context) {
	reading, err := a.reader.Read()
	if err != nil {
		log.Printf("Sensor read failed: %v", err)
		return
	}

	a.mu.Lock()
	a.last = &reading
	a.mu.Unlock()

	a.checkThresholds(ctx, reading)
}

func (a *Agent) checkThresholds(ctx context.Context, reading Reading) {
	if a.alerts == nil {
		return
	}
	var reasons []string
	if a.thresholds.MaxTemperature > 0 && reading.Temperature > a.thresholds.MaxTemperature {
		reasons = append(reasons, fmt.Sprintf("temperature %.1f exceeds %.1f", reading.Temperature, a.thresholds.MaxTemperature))
	}
	if a.thresholds.MaxHumidity > 0 && reading.Humidity > a.thresholds.MaxHumidity {
		reasons = append(reasons, fmt.Sprintf("humidity %.1f exceeds %.1f", reading.Humidity, a.thresholds.MaxHumidity))
	}
	if len(reasons) == 0 {
		return
	}

	alertID, err := a.alerts.Send(ctx, alerts.Alert{
		RiskLabel:     "Medium",
		PredictedRisk: "Medium",
		Description:   reasons,
	})
	if err != nil {
		log.Printf("Failed to send alert: %v", err)
		return
	}
	log.Printf("Alert sent: %s", alertID)
}

// Routes registers the local control surface on r.
func (a *Agent) Routes(r gin.IRoutes) {
	r.GET("/sensor/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"enabled":   a.Enabled(),
			"device_id": a.cfg.DeviceID,
			"sensor_id": a.cfg.SensorID,
			"timestamp": time.Now().Unix(),
		})
	})

	r.GET("/sensor/control", func(c *gin.Context) {
		switch c.Query("action") {
		case "on":
			a.SetEnabled(true)
			c.JSON(http.StatusOK, gin.H{"status": "Sensor turned ON", "enabled": true})
		case "off":
			a.SetEnabled(false)
			c.JSON(http.StatusOK, gin.H{"status": "Sensor turned OFF", "enabled": false})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action. Use ?action=on or ?action=off"})
		}
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sensor_enabled": a.Enabled()})
	})
}

func localIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type")
	}
	return addr.IP.String(), nil
}
