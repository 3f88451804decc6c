// Package api serves the loopback control surface consumed by the popup UI:
// agent state, the remote log feed, verdict history and a websocket event
// stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"websentry/internal/config"
	"websentry/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StateSnapshot is the agent state document served to the UI.
type StateSnapshot struct {
	ProtectionEnabled  bool `json:"protectionEnabled"`
	Authenticated      bool `json:"authenticated"`
	PendingDownloads   int  `json:"pendingDownloads"`
	PendingNavigations int  `json:"pendingNavigations"`
}

// StateProvider exposes and mutates agent state.
type StateProvider interface {
	State(ctx context.Context) StateSnapshot
	SetProtectionEnabled(ctx context.Context, enabled bool) error
}

// LogProvider reads and clears the remote service's log feed.
type LogProvider interface {
	Logs(ctx context.Context, logType string) ([]models.LogEntry, error)
	ClearLogs(ctx context.Context, logType string) error
}

// HistoryProvider reads persisted verdicts.
type HistoryProvider interface {
	Recent(limit int) ([]models.VerdictRecordRow, error)
}

// Server is the loopback HTTP server.
type Server struct {
	cfg        config.APIConfig
	state      StateProvider
	logs       LogProvider
	history    HistoryProvider
	hub        *Hub
	logger     zerolog.Logger
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer creates the API server. logs and history may be nil; their
// endpoints then answer 503.
func NewServer(
	cfg config.APIConfig,
	state StateProvider,
	logs LogProvider,
	history HistoryProvider,
	hub *Hub,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		cfg:     cfg,
		state:   state,
		logs:    logs,
		history: history,
		hub:     hub,
		logger:  logger.With().Str("component", "APIServer").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Loopback only; the listener never leaves 127.0.0.1.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the chi route tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleGetState)
		r.Put("/state", s.handlePutState)
		r.Get("/logs", s.handleGetLogs)
		r.Delete("/logs", s.handleClearLogs)
		r.Get("/history", s.handleGetHistory)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Start runs the listener until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("Control API disabled")
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("Control API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops the listener and disconnects event subscribers.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.State(r.Context()))
}

type putStateRequest struct {
	ProtectionEnabled *bool `json:"protectionEnabled"`
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	var req putStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProtectionEnabled == nil {
		writeError(w, http.StatusBadRequest, "protectionEnabled is required")
		return
	}
	if err := s.state.SetProtectionEnabled(r.Context(), *req.ProtectionEnabled); err != nil {
		s.logger.Error().Err(err).Msg("Failed to update protection state")
		writeError(w, http.StatusInternalServerError, "failed to update state")
		return
	}
	writeJSON(w, http.StatusOK, s.state.State(r.Context()))
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusServiceUnavailable, "log feed unavailable")
		return
	}
	entries, err := s.logs.Logs(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Log feed retrieval failed")
		writeError(w, http.StatusBadGateway, "log retrieval failed")
		return
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusServiceUnavailable, "log feed unavailable")
		return
	}
	logType := r.URL.Query().Get("type")
	if err := s.logs.ClearLogs(r.Context(), logType); err != nil {
		s.logger.Warn().Err(err).Msg("Log clearing failed")
		writeError(w, http.StatusBadGateway, "log clearing failed")
		return
	}
	s.hub.Publish(models.NewAgentEvent(models.EventLogsCleared, map[string]string{
		"type": logType,
	}))
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "verdict history unavailable")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := parseLimit(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	rows, err := s.history.Recent(limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Verdict history retrieval failed")
		writeError(w, http.StatusInternalServerError, "history retrieval failed")
		return
	}
	if rows == nil {
		rows = []models.VerdictRecordRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	s.hub.attach(conn)
}

func parseLimit(raw string) (int, error) {
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if limit <= 0 || limit > 1000 {
		return 0, errors.New("limit out of range")
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
