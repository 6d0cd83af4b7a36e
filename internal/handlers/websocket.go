package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/hwojcik/camstream/internal/models"
	"github.com/hwojcik/camstream/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The signaling surface is open; see CORS middleware.
		return true
	},
}

// mailboxPushInterval bounds how long a trickled candidate waits before the
// socket delivers it.
const mailboxPushInterval = 250 * time.Millisecond

// socketMessage is the single frame shape on the signaling socket, both
// directions. Type is one of offer, answer, candidate, error.
type socketMessage struct {
	Type      string               `json:"type"`
	SDP       string               `json:"sdp,omitempty"`
	Candidate *models.ICECandidate `json:"candidate,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// signalClient is one device's WebSocket signaling connection.
type signalClient struct {
	deviceID string
	conn     *websocket.Conn
	send     chan []byte
	broker   SignalBroker
	store    store.Store
}

// HandleSignalSocket handles GET /ws/signal?deviceId=. It is the push-mode
// alternative to HTTP polling: offers and candidates arrive as messages,
// the answer goes back immediately, and mailbox candidates are pushed as
// the connection trickles them instead of waiting for a poll.
func HandleSignalSocket(broker SignalBroker, st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Query("deviceId")
		if deviceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		client := &signalClient{
			deviceID: deviceID,
			conn:     conn,
			send:     make(chan []byte, 64),
			broker:   broker,
			store:    st,
		}

		log.Printf("Signaling socket opened for device %s", deviceID)
		go client.writePump()
		client.readPump()
	}
}

func (c *signalClient) readPump() {
	defer func() {
		close(c.send)
		c.conn.Close()
		log.Printf("Signaling socket closed for device %s", c.deviceID)
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg socketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Failed to parse message from device %s: %v", c.deviceID, err)
			continue
		}

		switch msg.Type {
		case "offer":
			if msg.SDP == "" {
				c.sendMessage(socketMessage{Type: "error", Error: "sdp is required"})
				continue
			}
			answer, err := c.broker.Offer(c.deviceID, msg.SDP)
			if err != nil {
				log.Printf("Offer failed for device %s: %v", c.deviceID, err)
				c.sendMessage(socketMessage{Type: "error", Error: err.Error()})
				continue
			}
			c.sendMessage(socketMessage{Type: "answer", SDP: answer})

		case "candidate":
			if msg.Candidate == nil {
				continue
			}
			c.broker.AddCandidate(c.deviceID, *msg.Candidate)

		default:
			log.Printf("Unknown message type from device %s: %s", c.deviceID, msg.Type)
		}
	}
}

// writePump forwards queued responses, pushes mailbox candidates on a short
// ticker and keeps the connection alive with pings.
func (c *signalClient) writePump() {
	pingTicker := time.NewTicker(54 * time.Second)
	drainTicker := time.NewTicker(mailboxPushInterval)
	defer func() {
		pingTicker.Stop()
		drainTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-drainTicker.C:
			// The answer already went back on the offer exchange, so
			// only candidates are pushed here. The drain is the same
			// exactly-once operation the HTTP poll uses.
			_, candidates, err := c.store.Drain(c.deviceID)
			if err != nil {
				log.Printf("Failed to drain mailbox for device %s: %v", c.deviceID, err)
				continue
			}
			for i := range candidates {
				data, err := json.Marshal(socketMessage{Type: "candidate", Candidate: &candidates[i]})
				if err != nil {
					continue
				}
				c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *signalClient) sendMessage(msg socketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("Failed to send message to device %s, buffer full", c.deviceID)
	}
}
