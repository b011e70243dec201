// Package web exposes the local status surface over HTTP. It reports
// agent state, the tracked working directory, and shell session
// liveness, and hosts additional handlers such as the MCP endpoint.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/gulfsync/gulfsync/internal/shell"
	"github.com/gulfsync/gulfsync/internal/state"
)

// Server serves the status API on a localhost address.
type Server struct {
	addr    string
	states  *state.Store
	shell   *shell.Manager
	logger  zerolog.Logger
	router  *mux.Router
	httpSrv *http.Server
	started time.Time
}

// StatusResponse is the GET /api/status payload.
type StatusResponse struct {
	Status       string `json:"status"`
	Step         string `json:"step,omitempty"`
	Detail       string `json:"detail,omitempty"`
	StopPending  bool   `json:"stop_pending"`
	WorkingDir   string `json:"working_dir"`
	SessionAlive bool   `json:"session_alive"`
	UptimeSecs   int64  `json:"uptime_secs"`
}

// NewServer creates a Server. The shell manager may be nil when no
// session is running in this process.
func NewServer(addr string, states *state.Store, sh *shell.Manager, logger zerolog.Logger) *Server {
	s := &Server{
		addr:    addr,
		states:  states,
		shell:   sh,
		logger:  logger.With().Str("component", "web").Logger(),
		router:  mux.NewRouter(),
		started: time.Now(),
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")

	return s
}

// Mount attaches a handler under the given path prefix. Used for the
// MCP endpoint.
func (s *Server) Mount(prefix string, h http.Handler) {
	s.router.PathPrefix(prefix).Handler(h)
}

// Router returns the underlying router, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.logger.Info().Str("addr", s.addr).Msg("Status server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.states.Read()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read state")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := StatusResponse{
		Status:      snap.Status,
		Step:        snap.Step,
		Detail:      snap.Detail,
		StopPending: s.states.StopRequested(),
		UptimeSecs:  int64(time.Since(s.started).Seconds()),
	}
	if s.shell != nil {
		resp.WorkingDir = s.shell.WorkingDir()
		resp.SessionAlive = s.shell.Alive()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode status response")
	}
}
