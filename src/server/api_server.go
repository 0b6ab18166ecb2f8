package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"queue-sync/src/interfaces"
	"queue-sync/src/logger"
	"queue-sync/src/metrics"
	"queue-sync/src/models"
	"queue-sync/src/utils"

	"github.com/gin-gonic/gin"
)

const (
	requestTimeout      = 20 * time.Second
	defaultEventsLimit  = 20
	defaultListingLimit = 50
)

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

// APIServer is the local UI surface: a small REST API over the booking
// session plus a websocket hub pushing every view change.
type APIServer struct {
	Config  *models.MConfig
	Logger  *logger.Logger
	engine  *gin.Engine
	httpSrv *http.Server

	session interfaces.IBookingSession
	metrics *metrics.Metrics

	// WebSocket clients, owned by the hub loop
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	resend     chan *Client
	notify     chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	// Latest pushed view
	latestView  models.MSessionView
	stateMutex  sync.RWMutex
	clientCount int
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, sess interfaces.IBookingSession, m *metrics.Metrics, log *logger.Logger) *APIServer {
	if cfg.LogLevel != "DEBUG" && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &APIServer{
		Config:     cfg,
		Logger:     log,
		engine:     gin.New(),
		session:    sess,
		metrics:    m,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		resend:     make(chan *Client),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		latestView: sess.View(),
	}

	s.engine.Use(gin.Recovery())
	if m != nil {
		s.engine.Use(s.metricsMiddleware())
	}

	// CORS for the local UI
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.handleWebsockets()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/health", s.getHealth)
		api.GET("/view", s.getView)
		api.PUT("/selection", s.putSelection)
		api.POST("/booking", s.postBooking)
		api.DELETE("/reservation", s.deleteReservation)
		api.POST("/refresh", s.postRefresh)
		api.POST("/reconnect", s.postReconnect)
		api.DELETE("/session", s.deleteSession)
		api.GET("/reservations", s.getReservations)
		api.GET("/events", s.getEvents)
	}

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler exposes the router, mainly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start blocks serving HTTP until Stop is called.
func (s *APIServer) Start() error {
	s.Logger.Info("Starting local API on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *APIServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.httpSrv.Shutdown(ctx)
		close(s.done)
	})
	return err
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	view := s.session.View()

	s.stateMutex.RLock()
	connections := s.clientCount
	s.stateMutex.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"channel":       view.Connection.Status,
		"connections":   connections,
		"latest_update": view.SnapshotAt,
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getView(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.View())
}

// -----------------------------------------------------------------------------

func (s *APIServer) putSelection(c *gin.Context) {
	var cmd models.MSelectionCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid selection body"})
		return
	}
	if cmd.Date != nil && *cmd.Date != "" {
		if _, err := utils.ParseDate(*cmd.Date, time.UTC); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "date must be YYYY-MM-DD"})
			return
		}
	}

	change := s.session.SetSelection(cmd.Patch())
	c.JSON(http.StatusOK, gin.H{
		"date_changed":     change.DateChanged,
		"services_changed": change.ServicesChanged,
		"queue_cleared":    change.QueueCleared,
		"queue_ignored":    change.QueueIgnored,
		"view":             s.session.View(),
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) postBooking(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	reservation, err := s.session.Submit(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if reservation.Conflict {
		status = http.StatusOK
	}
	c.JSON(status, reservation)
}

// -----------------------------------------------------------------------------

func (s *APIServer) deleteReservation(c *gin.Context) {
	s.session.DismissReservation()
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------

func (s *APIServer) postRefresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	preview, err := s.session.Refresh(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// -----------------------------------------------------------------------------

func (s *APIServer) postReconnect(c *gin.Context) {
	if err := s.session.Reconnect(); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.session.View().Connection)
}

// -----------------------------------------------------------------------------

func (s *APIServer) deleteSession(c *gin.Context) {
	s.session.Leave()
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getReservations(c *gin.Context) {
	limit := queryInt(c, "limit", defaultListingLimit)
	list, err := s.session.Reservations(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": list})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getEvents(c *gin.Context) {
	n := queryInt(c, "n", defaultEventsLimit)
	c.JSON(http.StatusOK, gin.H{"events": s.session.Events(n)})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *APIServer) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// -----------------------------------------------------------------------------

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
