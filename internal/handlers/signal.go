package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hwojcik/camstream/internal/models"
	"github.com/hwojcik/camstream/internal/store"
)

// SignalBroker is the slice of the peer manager the handlers need.
type SignalBroker interface {
	Offer(deviceID, sdp string) (string, error)
	AddCandidate(deviceID string, c models.ICECandidate)
	ActiveCount() int
	Sessions() []models.SessionInfo
	Teardown(deviceID string) bool
}

// PostOffer handles POST /signal: run the offer/answer exchange and return
// the answer in the same response.
func PostOffer(broker SignalBroker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.OfferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId and sdp are required"})
			return
		}

		log.Printf("Received offer from device %s", req.DeviceID)

		answer, err := broker.Offer(req.DeviceID, req.SDP)
		if err != nil {
			log.Printf("Offer failed for device %s: %v", req.DeviceID, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, models.SessionDescription{Type: "answer", SDP: answer})
	}
}

// PostCandidate handles POST /signal/candidate. A candidate for a device
// with no session is acknowledged and dropped: candidates racing the offer
// over the network are expected.
func PostCandidate(broker SignalBroker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CandidateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
			return
		}

		broker.AddCandidate(req.DeviceID, req.Candidate)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// GetSignal handles GET /signal?deviceId=. The answer (if any) is returned
// on every poll; queued candidates are returned exactly once.
func GetSignal(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Query("deviceId")
		if deviceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
			return
		}

		answer, candidates, err := st.Drain(deviceID)
		if err != nil {
			log.Printf("Failed to drain mailbox for device %s: %v", deviceID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read signaling state"})
			return
		}

		resp := models.PollResponse{Candidates: candidates}
		if answer != nil {
			resp.Type = answer.Type
			resp.SDP = answer.SDP
		}
		c.JSON(http.StatusOK, resp)
	}
}

// GetHealth handles GET /health.
func GetHealth(broker SignalBroker) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":             "healthy",
			"active_connections": broker.ActiveCount(),
			"timestamp":          time.Now().UTC().Format(time.RFC3339),
		})
	}
}
