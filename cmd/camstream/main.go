package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hwojcik/camstream/config"
	"github.com/hwojcik/camstream/internal/capture"
	"github.com/hwojcik/camstream/internal/handlers"
	"github.com/hwojcik/camstream/internal/middleware"
	"github.com/hwojcik/camstream/internal/peer"
	"github.com/hwojcik/camstream/internal/redis"
	"github.com/hwojcik/camstream/internal/store"
)

func main() {
	cfg := config.Load()

	// Signaling mailbox backend
	var signalStore store.Store
	switch cfg.SignalingBackend {
	case "redis":
		client, err := redis.Connect(cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()
		signalStore = store.NewRedisStore(client)
		log.Println("Redis signaling store ready")
	default:
		signalStore = store.NewMemoryStore()
	}

	// Capture device: process-wide, shared by every streamer
	var source capture.Source
	if cfg.Camera.Command != "" {
		camera, err := capture.NewCamera(cfg.Camera.Command)
		if err != nil {
			log.Fatalf("Failed to start camera: %v", err)
		}
		source = camera
	} else {
		log.Println("No camera command configured, streaming placeholder frames")
		source = capture.NullSource{}
	}

	manager := peer.NewManager(signalStore, source, cfg.Camera)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(handlers.CORS())

	// Signaling surface
	router.POST("/signal", handlers.PostOffer(manager))
	router.POST("/signal/candidate", handlers.PostCandidate(manager))
	router.GET("/signal", handlers.GetSignal(signalStore))
	router.GET("/health", handlers.GetHealth(manager))
	router.GET("/ws/signal", handlers.HandleSignalSocket(manager, signalStore))

	// Admin API
	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))
		apiGroup.GET("/sessions", middleware.JWTAuth(cfg.JWTSecret), handlers.ListSessions(manager))
		apiGroup.DELETE("/sessions/:deviceId", middleware.JWTAuth(cfg.JWTSecret), handlers.DeleteSession(manager))
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting camera streaming server on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	manager.Close()
	if err := source.Close(); err != nil {
		log.Printf("Failed to close capture source: %v", err)
	}
}
