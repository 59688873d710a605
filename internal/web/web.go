package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"calgrid/internal/agenda"
	"calgrid/internal/config"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/render"
)

var errInvalidDate = errors.New("invalid date")

// EventStore is the local event store. *storage.Storage implements it.
type EventStore interface {
	Create(ctx context.Context, ev model.Event) (model.Event, error)
	Get(ctx context.Context, id string) (model.Event, error)
	Update(ctx context.Context, ev model.Event) (model.Event, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.Event, error)
}

// Server provides the HTTP API, the rendered calendar and the preview image.
type Server struct {
	cfg    atomic.Pointer[config.Config]
	labels atomic.Pointer[render.Labels]
	agenda *agenda.Service
	store  EventStore
	debug  bool
	mux    *http.ServeMux

	// localVersion changes on every local event write; it keys svgCache.
	localVersion atomic.Int64

	// In-memory cache for /calendar.svg so repeated captures and browser
	// reloads do not re-render an unchanged month.
	svgMu    sync.RWMutex
	svgCache *svgCache
}

type svgCache struct {
	key  string
	body []byte
}

// NewServer constructs a new Server. In debug mode every computed layout
// is checked with layout.Verify.
func NewServer(cfg *config.Config, svc *agenda.Service, store EventStore, debug bool) (*Server, error) {
	s := &Server{
		agenda: svc,
		store:  store,
		debug:  debug,
		mux:    http.NewServeMux(),
	}
	if err := s.SetConfig(cfg); err != nil {
		return nil, err
	}
	s.registerRoutes()
	return s, nil
}

// SetConfig swaps the configuration used by handlers (e.g. after a reload).
func (s *Server) SetConfig(cfg *config.Config) error {
	labels, err := render.NewLabels(cfg.Language)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	s.cfg.Store(cfg)
	s.labels.Store(labels)
	s.invalidate()
	return nil
}

func (s *Server) config() *config.Config {
	return s.cfg.Load()
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.basicAuthMiddleware(s.mux)
}

// basicAuthCredentials returns the configured credentials, or ok=false when
// auth is disabled. Empty username or password disables it.
func (s *Server) basicAuthCredentials() (user, pass string, ok bool) {
	cfg := s.config()
	if cfg == nil || cfg.BasicAuth == nil {
		return "", "", false
	}
	if cfg.BasicAuth.Username == "" || cfg.BasicAuth.Password == "" {
		return "", "", false
	}
	return cfg.BasicAuth.Username, cfg.BasicAuth.Password, true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
// Credentials are read per request so config reloads apply immediately.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, enabled := s.basicAuthCredentials()
		if !enabled || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calgrid", charset="UTF-8"`)
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

// Listen binds addr. Bind errors show up here, before anything is served.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String(), "debug", s.debug)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/week", s.handleWeek)
	s.mux.HandleFunc("GET /api/month", s.handleMonth)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	s.mux.HandleFunc("GET /api/local-events", s.handleListLocal)
	s.mux.HandleFunc("POST /api/local-events", s.handleCreateLocal)
	s.mux.HandleFunc("GET /api/local-events/{id}", s.handleGetLocal)
	s.mux.HandleFunc("PUT /api/local-events/{id}", s.handleUpdateLocal)
	s.mux.HandleFunc("DELETE /api/local-events/{id}", s.handleDeleteLocal)

	s.mux.HandleFunc("GET /calendar.svg", s.handleCalendarSVG)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendarICS)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/calendar.svg", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last captured PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	// http.ServeFile answers 404 when no capture has run yet.
	http.ServeFile(w, r, s.config().PreviewPath())
}

func (s *Server) invalidate() {
	s.localVersion.Add(1)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
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
