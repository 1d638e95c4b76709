package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"mmstatus/internal/config"
	"mmstatus/internal/engine"
	appLog "mmstatus/internal/log"
	"mmstatus/internal/model"
)

// Controller is the part of the sync engine the API exposes.
type Controller interface {
	Snapshot() engine.Snapshot
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Server provides a small HTTP API to observe and control the sync loop.
type Server struct {
	cfg  *config.Config
	ctrl Controller
	mux  *http.ServeMux

	// baseCtx outlives individual requests; a run started over HTTP must
	// not end when the request that started it returns.
	baseCtx context.Context

	// limiter throttles the start/stop endpoints.
	limiter *rate.Limiter
}

// NewServer constructs a new Server.
func NewServer(ctx context.Context, cfg *config.Config, ctrl Controller) *Server {
	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		mux:     http.NewServeMux(),
		baseCtx: ctx,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="mmstatus", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/start", s.limited(s.handleStart))
	s.mux.HandleFunc("POST /api/stop", s.limited(s.handleStop))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	State           string     `json:"state"`
	Presence        string     `json:"presence"`
	EventTitle      string     `json:"event_title"`
	LastError       string     `json:"last_error,omitempty"`
	LastTick        *time.Time `json:"last_tick,omitempty"`
	RunID           string     `json:"run_id,omitempty"`
	Calendar        string     `json:"calendar"`
	IntervalSeconds int        `json:"interval_seconds"`
}

func newStatusResponse(snap engine.Snapshot) statusResponse {
	resp := statusResponse{
		State:           snap.State.String(),
		Presence:        snap.LastApplied.String(),
		EventTitle:      snap.EventTitle,
		RunID:           snap.RunID,
		Calendar:        snap.Config.CalendarID,
		IntervalSeconds: snap.Config.IntervalSeconds,
	}
	if snap.LastError != nil {
		resp.LastError = snap.LastError.Error()
	}
	if !snap.LastTick.IsZero() {
		t := snap.LastTick
		resp.LastTick = &t
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newStatusResponse(s.ctrl.Snapshot()))
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Start(s.baseCtx); err != nil {
		var cfgErr *model.ConfigError
		switch {
		case errors.Is(err, engine.ErrIllegalState):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &cfgErr):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			appLog.Error("api start failed", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(s.ctrl.Snapshot()))
}

// handleStop always stops; a failed revert to online is reported in the
// response but does not change the status code. The revert runs on the
// server context so a client hanging up does not cancel it.
func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.stopTimeout())
	defer cancel()

	err := s.ctrl.Stop(ctx)
	resp := newStatusResponse(s.ctrl.Snapshot())
	if err != nil {
		resp.LastError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) stopTimeout() time.Duration {
	if s.cfg != nil && s.cfg.RequestTimeoutSeconds > 0 {
		return time.Duration(s.cfg.RequestTimeoutSeconds) * time.Second
	}
	return engine.DefaultRequestTimeout
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
