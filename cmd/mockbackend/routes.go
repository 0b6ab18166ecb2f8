package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"queue-sync/src/logger"
	"queue-sync/src/models"
	"queue-sync/src/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------
// mockServer exposes the simulator over the channel and REST contracts.
// -----------------------------------------------------------------------------

type mockServer struct {
	sim         *simulator
	logger      *logger.Logger
	requireAuth bool
	pingPeriod  time.Duration
}

func (m *mockServer) routes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/ws/queues/:business/:date", m.handleChannel)

	api := engine.Group("/api/businesses/:business")
	api.POST("/booking-preview", m.handlePreview)
	api.POST("/bookings", m.handleBooking)

	engine.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	return engine
}

// -----------------------------------------------------------------------------

func (m *mockServer) topicKey(c *gin.Context, date string) (models.MTopicKey, bool) {
	if _, err := utils.ParseDate(date, time.UTC); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "date must be YYYY-MM-DD"})
		return models.MTopicKey{}, false
	}
	return models.MTopicKey{BusinessID: c.Param("business"), Date: date}, true
}

// caller identifies the booking user by bearer token, or "anonymous".
func (m *mockServer) caller(c *gin.Context) (string, bool) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		if m.requireAuth {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
			return "", false
		}
		return "anonymous", true
	}
	return token, true
}

// -----------------------------------------------------------------------------
// Channel
// -----------------------------------------------------------------------------

func (m *mockServer) handleChannel(c *gin.Context) {
	key, ok := m.topicKey(c, c.Param("date"))
	if !ok {
		return
	}
	if _, ok := m.caller(c); !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	sub, initial := m.sim.subscribe(key)
	sub.send <- initial
	m.logger.Info("Channel opened for %s", key)

	done := make(chan struct{})
	go m.writeChannel(conn, sub, done)

	defer func() {
		m.sim.unsubscribe(key, sub)
		close(done)
		conn.Close()
		m.logger.Info("Channel closed for %s", key)
	}()

	for {
		var msg models.MChannelMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case models.MessageRefresh:
			select {
			case sub.send <- m.sim.current(key):
			default:
			}
		case models.MessagePing:
			select {
			case sub.send <- encodeMessage(models.MessagePong, nil):
			default:
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (m *mockServer) writeChannel(conn *websocket.Conn, sub *subscriber, done <-chan struct{}) {
	period := m.pingPeriod
	if period <= 0 {
		period = pingPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case frame := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, encodeMessage(models.MessagePing, nil)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// -----------------------------------------------------------------------------
// REST
// -----------------------------------------------------------------------------

func (m *mockServer) handlePreview(c *gin.Context) {
	if _, ok := m.caller(c); !ok {
		return
	}
	var req models.MPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid body"})
		return
	}
	key, ok := m.topicKey(c, req.Date)
	if !ok {
		return
	}

	body, err := m.sim.preview(key, req.ServiceIDs)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

// -----------------------------------------------------------------------------

func (m *mockServer) handleBooking(c *gin.Context) {
	caller, ok := m.caller(c)
	if !ok {
		return
	}
	var req models.MBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid body"})
		return
	}
	key, ok := m.topicKey(c, req.Date)
	if !ok {
		return
	}

	result, err := m.sim.book(key, req, caller)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	m.logger.Info("Booked %s on %s for %s: position %d (repeat=%v)", result.QueueID, key, caller, result.Position, result.AlreadyInQueue)
	c.JSON(http.StatusOK, result)
}

// -----------------------------------------------------------------------------

func writeAPIError(c *gin.Context, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.status, gin.H{"detail": apiErr.detail})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
}
