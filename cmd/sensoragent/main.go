package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hwojcik/camstream/config"
	"github.com/hwojcik/camstream/internal/alerts"
	"github.com/hwojcik/camstream/internal/sensor"
)

// simulatedReader stands in for the DHT11 when no hardware is attached.
// Readings wander around typical indoor values.
type simulatedReader struct{}

func (simulatedReader) Read() (sensor.Reading, error) {
	return sensor.Reading{
		Temperature: 21 + rand.Float64()*4,
		Humidity:    45 + rand.Float64()*15,
	}, nil
}

func main() {
	cfg := config.Load()
	if cfg.Backend.URL == "" || cfg.Backend.DeviceID == "" {
		log.Fatal("BACKEND_URL and DEVICE_ID are required")
	}

	alertClient := alerts.NewClient(cfg.Backend.URL, cfg.Backend.DeviceID)
	agent := sensor.NewAgent(cfg.Backend, simulatedReader{}, alertClient, sensor.Thresholds{
		MaxTemperature: 35,
		MaxHumidity:    85,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.RegisterIP(ctx); err != nil {
		log.Printf("Failed to register device IP: %v", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	agent.Routes(router)

	port := os.Getenv("SENSOR_PORT")
	if port == "" {
		port = "5000"
	}
	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Printf("Sensor control server started on port %s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Status monitor runs in the foreground until shutdown.
	agent.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
}
