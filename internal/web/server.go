// Package web serves the current snapshot over HTTP and WebSocket.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ccpanes/ccpanes/internal/logging"
	"github.com/ccpanes/ccpanes/internal/refresh"
)

var webLog = logging.ForComponent(logging.CompWeb)

// DefaultListenAddr is loopback only; the API exposes prompts and paths.
const DefaultListenAddr = "127.0.0.1:8421"

// SnapshotSource returns the latest published snapshot, or nil before the
// first pass.
type SnapshotSource interface {
	Snapshot() *refresh.Snapshot
}

// Refresher queues a full detection pass. It reports false when no pass
// can be scheduled.
type Refresher interface {
	RequestRefresh() bool
}

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	// Token, when set, is required as ?token= or a bearer header.
	Token   string
	Source  SnapshotSource
	Metrics http.Handler
	// Refresher serves the ws "refresh" message. Without one the client
	// gets the cached snapshot.
	Refresher Refresher
}

// Server wraps an HTTP server for daemon mode.
type Server struct {
	cfg        Config
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
	started    time.Time

	subscribersMu sync.Mutex
	subscribers   map[chan struct{}]struct{}
}

// NewServer creates the server with its routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	s := &Server{
		cfg:         cfg,
		started:     time.Now(),
		subscribers: make(map[chan struct{}]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/sessions", s.requireAuth(s.handleSessions))
	mux.HandleFunc("/events/sessions", s.requireAuth(s.handleSessionEvents))
	mux.HandleFunc("/ws", s.requireAuth(s.handleWS))
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown. Returns nil on graceful shutdown.
func (s *Server) Start() error {
	webLog.Info("web_listening", slog.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	// Long-lived handlers (SSE/WS) watch the base context.
	s.cancelBase()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

// Publish wakes every stream subscriber. The daemon calls it when a pass
// changes the snapshot.
func (s *Server) Publish(*refresh.Snapshot) {
	s.subscribersMu.Lock()
	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subscribersMu.Unlock()
}

func (s *Server) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	s.subscribersMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subscribersMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan struct{}) {
	s.subscribersMu.Lock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.subscribersMu.Unlock()
}

func (s *Server) subscriberCount() int {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()
	return len(s.subscribers)
}

func (s *Server) snapshot() *refresh.Snapshot {
	if s.cfg.Source == nil {
		return nil
	}
	return s.cfg.Source.Snapshot()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"ok":     true,
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if snap := s.snapshot(); snap != nil {
		resp["pass"] = snap.Pass
		resp["sessions"] = len(snap.Sessions)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				webLog.Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
