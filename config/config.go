package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port             string
	Environment      string
	JWTSecret        string
	SignalingBackend string // "memory" or "redis"
	Redis            RedisConfig
	Camera           CameraConfig
	Backend          BackendConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// CameraConfig describes the local capture device and the outbound stream.
type CameraConfig struct {
	Command string // shell command producing MJPEG on stdout; empty disables capture
	Width   int
	Height  int
	FPS     int
}

// BackendConfig points at the remote sensor/alert backend used by the
// sensor agent. Not consumed by the signaling server itself.
type BackendConfig struct {
	URL          string
	DeviceID     string
	SensorID     int
	PollInterval int // seconds between backend status checks
}

func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		JWTSecret:        getEnv("JWT_SECRET", "change-me-in-production"),
		SignalingBackend: getEnv("SIGNALING_BACKEND", "memory"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		Camera: CameraConfig{
			Command: getEnv("CAMERA_COMMAND", ""),
			Width:   getEnvInt("CAMERA_WIDTH", 1280),
			Height:  getEnvInt("CAMERA_HEIGHT", 720),
			FPS:     getEnvInt("CAMERA_FPS", 30),
		},
		Backend: BackendConfig{
			URL:          getEnv("BACKEND_URL", ""),
			DeviceID:     getEnv("DEVICE_ID", ""),
			SensorID:     getEnvInt("SENSOR_ID", 0),
			PollInterval: getEnvInt("STATUS_CHECK_INTERVAL", 5),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
