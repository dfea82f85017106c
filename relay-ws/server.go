// Package relayws is the real-time job relay: it keeps authenticated client
// sockets, answers their frames and pushes job notifications received over
// HTTP from the backend.
package relayws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	relaycli "github.com/socialjobs/job-relay/relay-cli"
	relayrest "github.com/socialjobs/job-relay/relay-rest"
	"github.com/socialjobs/job-relay/relay-ws/connectiondao"
	"github.com/socialjobs/job-relay/relay-ws/jobdao"
)

const maxBodyBytes = 1 << 20

// JobReader returns the recent-jobs snapshot for a user.
type JobReader interface {
	Recent(ctx context.Context, userID string) ([]jobdao.Job, error)
}

type Config struct {
	Secret         string
	AllowedOrigins []string
	Store          connectiondao.Store
	Jobs           JobReader
	Logger         zerolog.Logger
	Prometheus     *prometheus.Registry
	CloudWatch     relaycli.Metrics
	SendQueue      int
	MaxMessageSize int64
}

// Server is the relay gateway: the websocket endpoint plus the notify API.
type Server struct {
	registry   *Registry
	router     *Router
	dispatcher *Dispatcher
	book       *Bookkeeper
	jobs       JobReader
	metrics    *relayMetrics
	cloudwatch relaycli.Metrics
	prometheus *prometheus.Registry
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
	origins    []string
	sendQueue  int
	maxMessage int64

	mu       sync.Mutex
	closing  bool
	handlers sync.WaitGroup
}

func New(config Config) *Server {
	reg := config.Prometheus
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := newRelayMetrics(reg)
	registry := NewRegistry()
	book := newBookkeeper(config.Store, metrics)

	return &Server{
		registry: registry,
		router: &Router{
			auth:    newAuthenticator(config.Secret, registry, book, metrics),
			metrics: metrics,
		},
		dispatcher: &Dispatcher{registry: registry, metrics: metrics},
		book:       book,
		jobs:       config.Jobs,
		metrics:    metrics,
		cloudwatch: config.CloudWatch,
		prometheus: reg,
		upgrader:   makeUpgrader(config.AllowedOrigins),
		logger:     config.Logger,
		origins:    config.AllowedOrigins,
		sendQueue:  config.SendQueue,
		maxMessage: config.MaxMessageSize,
	}
}

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// Routes returns the full HTTP surface of the relay.
func (s *Server) Routes() http.Handler {
	router := relayrest.DefaultRouter(s.logger, s.origins)
	router.Get("/health", s.handleHealth)
	router.Get("/ws/test", s.handleWebsocketTest)
	router.Get("/ws", s.handleWebsocket)
	router.Post("/api/notify-job", s.handleNotifyJob)
	router.Post("/api/broadcast-job", s.handleBroadcastJob)
	router.Post("/api/notify-job-status", s.handleNotifyJobStatus)
	router.Get("/api/jobs/{userId}", s.handleRecentJobs)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.prometheus, promhttp.HandlerOpts{}))
	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	relayrest.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleWebsocketTest(w http.ResponseWriter, req *http.Request) {
	relayrest.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "WebSocket endpoint is available",
		"path":    "/ws",
	})
}

func (s *Server) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.handlers.Add(1)
	return true
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) handleWebsocket(w http.ResponseWriter, req *http.Request) {
	logger := zerolog.Ctx(req.Context())

	if !s.enter() {
		relayrest.WriteError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	defer s.handlers.Done()

	ws, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	client := NewClient(ws, s.sendQueue)
	if err := s.registry.Register(id, client); err != nil {
		logger.Error().Err(err).Str("connection_id", id).Msg("unable to register connection")
		_ = ws.Close()
		return
	}
	s.metrics.connOpened()
	if s.isClosing() {
		// registered after Shutdown swept the registry
		client.Close()
	}

	connLogger := logger.With().Str("connection_id", id).Logger()
	ctx := connLogger.WithContext(context.WithoutCancel(req.Context()))
	connLogger.Info().Str("remote_addr", req.RemoteAddr).Msg("connection opened")

	go client.writePump()

	err = client.readPump(s.maxMessage, func(data []byte) {
		reply := s.router.Handle(ctx, id, data)
		if err := client.Send(reply); err != nil {
			connLogger.Warn().Err(err).Msg("reply dropped")
		}
	})
	if err != nil {
		connLogger.Debug().Err(err).Msg("read loop ended")
	}

	userID, _ := s.registry.Remove(id)
	client.Close()
	s.metrics.connClosed()
	if userID != "" {
		s.book.Deactivate(ctx, id)
	}
	connLogger.Info().Str("user_id", userID).Msg("connection closed")
}

func (s *Server) handleNotifyJob(w http.ResponseWriter, req *http.Request) {
	var (
		ctx    = req.Context()
		logger = zerolog.Ctx(ctx)
		start  = time.Now()
		body   struct {
			UserID UserID          `json:"userId"`
			Job    json.RawMessage `json:"job"`
		}
	)

	if err := relayrest.DecodeJSON(w, req, maxBodyBytes, &body); err != nil {
		relayrest.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" || isBlank(body.Job) {
		relayrest.WriteError(w, http.StatusBadRequest, "userId and job are required")
		return
	}

	sent, err := s.dispatcher.Broadcast(ctx, string(body.UserID), NewJobNotification(body.Job))
	if err != nil {
		logger.Error().Err(err).Msg("unable to send notification")
		relayrest.WriteError(w, http.StatusInternalServerError, "Failed to send notification")
		return
	}

	logger.Info().Str("user_id", string(body.UserID)).Int("sent", sent).Msg("job notification pushed")
	s.cloudwatch.Timing(ctx, relaycli.PushLatencyMetric, start, relaycli.Operation("notify-job"))
	s.cloudwatch.Gauge(ctx, relaycli.NotificationsSentMetric, float64(sent), relaycli.Operation("notify-job"))
	relayrest.WriteJSON(w, http.StatusOK, notifyResponse{Success: true, NotificationsSent: sent})
}

func (s *Server) handleBroadcastJob(w http.ResponseWriter, req *http.Request) {
	var (
		ctx    = req.Context()
		logger = zerolog.Ctx(ctx)
		start  = time.Now()
		body   struct {
			Job json.RawMessage `json:"job"`
		}
	)

	if err := relayrest.DecodeJSON(w, req, maxBodyBytes, &body); err != nil {
		relayrest.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if isBlank(body.Job) {
		relayrest.WriteError(w, http.StatusBadRequest, "job is required")
		return
	}

	sent, err := s.dispatcher.BroadcastAll(ctx, NewJobNotification(body.Job))
	if err != nil {
		logger.Error().Err(err).Msg("unable to broadcast job")
		relayrest.WriteError(w, http.StatusInternalServerError, "Failed to broadcast job")
		return
	}

	logger.Info().Int("sent", sent).Msg("job broadcast")
	s.cloudwatch.Timing(ctx, relaycli.PushLatencyMetric, start, relaycli.Operation("broadcast-job"))
	s.cloudwatch.Gauge(ctx, relaycli.NotificationsSentMetric, float64(sent), relaycli.Operation("broadcast-job"))
	relayrest.WriteJSON(w, http.StatusOK, notifyResponse{Success: true, NotificationsSent: sent})
}

func (s *Server) handleNotifyJobStatus(w http.ResponseWriter, req *http.Request) {
	var (
		ctx    = req.Context()
		logger = zerolog.Ctx(ctx)
		start  = time.Now()
		body   struct {
			UserID UserID          `json:"userId"`
			JobID  json.RawMessage `json:"jobId"`
			Status string          `json:"status"`
		}
	)

	if err := relayrest.DecodeJSON(w, req, maxBodyBytes, &body); err != nil {
		relayrest.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.UserID == "" || isBlank(body.JobID) || body.Status == "" {
		relayrest.WriteError(w, http.StatusBadRequest, "userId, jobId and status are required")
		return
	}

	sent, err := s.dispatcher.Broadcast(ctx, string(body.UserID), JobStatusNotification(body.JobID, body.Status))
	if err != nil {
		logger.Error().Err(err).Msg("unable to send status notification")
		relayrest.WriteError(w, http.StatusInternalServerError, "Failed to send notification")
		return
	}

	s.cloudwatch.Timing(ctx, relaycli.PushLatencyMetric, start, relaycli.Operation("notify-job-status"))
	s.cloudwatch.Gauge(ctx, relaycli.NotificationsSentMetric, float64(sent), relaycli.Operation("notify-job-status"))
	relayrest.WriteJSON(w, http.StatusOK, notifyResponse{Success: true, NotificationsSent: sent})
}

type notifyResponse struct {
	Success           bool `json:"success"`
	NotificationsSent int  `json:"notificationsSent"`
}

func (s *Server) handleRecentJobs(w http.ResponseWriter, req *http.Request) {
	var (
		ctx    = req.Context()
		logger = zerolog.Ctx(ctx)
		userID = chi.URLParam(req, "userId")
	)

	if s.jobs == nil {
		logger.Error().Msg("job store not configured")
		relayrest.WriteError(w, http.StatusInternalServerError, "Failed to fetch jobs")
		return
	}

	jobs, err := s.jobs.Recent(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("failed to fetch jobs")
		relayrest.WriteError(w, http.StatusInternalServerError, "Failed to fetch jobs")
		return
	}
	relayrest.WriteJSON(w, http.StatusOK, jobs)
}

// Shutdown closes every connection, waits for their handlers to finish, then
// waits for outstanding bookkeeping writes. It gives up when ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	closed := s.registry.CloseAll()
	s.logger.Info().Int("connections", closed).Msg("closing connections")

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections to close: %w", ctx.Err())
	}
	return s.book.Drain(ctx)
}
