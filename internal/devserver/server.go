// Package devserver is a local stand-in for the banking backend: the
// notification REST API, a STOMP-over-WebSocket push endpoint and a
// development endpoint that creates and pushes notifications.
package devserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nhle/bank-notifications/internal/model"
)

// Config configures a Server.
type Config struct {
	// Secret signs and verifies bearer tokens.
	Secret []byte

	// TokenTTL bounds minted tokens. Zero means no expiry.
	TokenTTL time.Duration

	// HeartBeat is the broker's heart-beat preference.
	HeartBeat time.Duration

	// Registry receives the server metrics and backs /metrics. Nil creates
	// a private registry.
	Registry *prometheus.Registry

	Logger zerolog.Logger
}

// Server is the development banking backend.
type Server struct {
	repo     *Repository
	signer   *Signer
	hub      *Hub
	metrics  *metrics
	registry *prometheus.Registry
	log      zerolog.Logger
	engine   *gin.Engine
}

// New builds the server and starts its broker.
func New(cfg Config) (*Server, error) {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	hub, err := NewHub(cfg.HeartBeat, cfg.Logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		repo:     NewRepository(),
		signer:   NewSigner(cfg.Secret, cfg.TokenTTL),
		hub:      hub,
		metrics:  newMetrics(reg),
		registry: reg,
		log:      cfg.Logger,
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Repository exposes the backing store, e.g. for seeding.
func (s *Server) Repository() *Repository { return s.repo }

// Signer exposes the token signer.
func (s *Server) Signer() *Signer { return s.signer }

// Close stops the broker.
func (s *Server) Close() error { return s.hub.Close() }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	r.GET("/ws/websocket", s.websocket)

	api := r.Group("/api")

	notifications := api.Group("/notifications")
	notifications.Use(AuthMiddleware(s.signer))
	{
		notifications.GET("/:userId", s.listNotifications(false))
		notifications.GET("/:userId/unread", s.listNotifications(true))
		notifications.PUT("/:userId/read", s.markRead)
		notifications.GET("/preferences/:userId", s.getPreferences)
		notifications.PUT("/preferences/:userId", s.putPreferences)
	}

	dev := api.Group("/dev")
	{
		dev.POST("/token", s.mintToken)
		dev.POST("/notifications", s.createNotification)
	}

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// pathUser resolves the :userId parameter and checks it against the token.
func (s *Server) pathUser(c *gin.Context) (model.UserID, bool) {
	uid, err := model.ParseUserID(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	caller, ok := userFromCtx(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return 0, false
	}
	if caller != uid {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden: cannot access other users' notifications"})
		return 0, false
	}
	return uid, true
}

func (s *Server) listNotifications(unreadOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := s.pathUser(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, s.repo.List(uid, unreadOnly))
	}
}

// markRead handles PUT /notifications/{id}/read. The route shares its
// wildcard name with the user routes.
func (s *Server) markRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}
	caller, ok := userFromCtx(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return
	}
	if !s.repo.MarkRead(caller, model.NotificationID(id)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) getPreferences(c *gin.Context) {
	uid, ok := s.pathUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.repo.Preferences(uid))
}

func (s *Server) putPreferences(c *gin.Context) {
	uid, ok := s.pathUser(c)
	if !ok {
		return
	}
	var p model.Preferences
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := p.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.repo.SavePreferences(uid, p))
}

func (s *Server) mintToken(c *gin.Context) {
	var req struct {
		UserID int64 `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	tok, err := s.signer.Mint(model.UserID(req.UserID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

type createRequest struct {
	UserID           int64  `json:"userId" binding:"required"`
	Message          string `json:"message" binding:"required"`
	NotificationType string `json:"notificationType"`
	Severity         string `json:"severity"`
	ReferenceID      *int64 `json:"referenceId"`
	ReferenceType    string `json:"referenceType"`
	AdditionalData   string `json:"additionalData"`
}

// createNotification stores a notification and delivers it over the
// channels the owner's preferences select. Email and SMS are logged only.
func (s *Server) createNotification(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and message are required"})
		return
	}
	if req.NotificationType == "" {
		req.NotificationType = string(model.NotificationSystem)
	}

	uid := model.UserID(req.UserID)
	n := s.repo.Create(uid, NewNotification{
		Message:        req.Message,
		Type:           req.NotificationType,
		Severity:       model.ParseSeverity(req.Severity),
		ReferenceID:    req.ReferenceID,
		ReferenceType:  model.ReferenceType(req.ReferenceType),
		AdditionalData: req.AdditionalData,
	})
	s.metrics.created.WithLabelValues(string(n.Type)).Inc()

	ch := s.repo.Preferences(uid).Channels(n)
	if ch.RealTime {
		if err := s.hub.Publish(uid, n); err != nil {
			s.log.Error().Err(err).Stringer("id", n.ID).Msg("push failed")
		} else {
			s.metrics.pushed.Inc()
		}
	}
	if ch.Email {
		s.log.Info().Stringer("user_id", uid).Stringer("id", n.ID).Msg("email notification queued")
	}
	if ch.SMS {
		s.log.Info().Stringer("user_id", uid).Stringer("id", n.ID).Msg("sms notification queued")
	}

	c.JSON(http.StatusCreated, n)
}

func (s *Server) websocket(c *gin.Context) {
	if _, err := s.signer.Verify(BearerToken(c.Request)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		Subprotocols:       []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	nc := websocket.NetConn(context.Background(), ws, websocket.MessageText)
	if err := s.hub.Attach(nc); err != nil {
		s.log.Warn().Err(err).Msg("broker closed")
		return
	}
	s.metrics.clients.Inc()
}
