// Package api exposes the timing engine and lifecycle watcher over a local
// HTTP JSON API with a server-sent event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/FocusCoin/internal/clock"
	"github.com/BTreeMap/FocusCoin/internal/engine"
	"github.com/BTreeMap/FocusCoin/internal/models"
	"github.com/BTreeMap/FocusCoin/internal/pubsub"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// shutdownTimeout bounds how long in-flight requests may run after the
// server is asked to stop.
const shutdownTimeout = 5 * time.Second

// Engine is the set of engine intents the API drives.
type Engine interface {
	Start() error
	Pause() error
	Reset(mode *models.Mode) error
	ChangeMode(mode models.Mode) error
	UpdatePlan(update models.PlanUpdate) error
	SetTask(taskID string) error
	Snapshot() models.TimerState
	Unload()
	Subscribe(ctx context.Context) <-chan pubsub.Event[engine.Notification]
}

// Lifecycle receives host visibility and focus changes.
type Lifecycle interface {
	OnHidden()
	OnVisible() models.TimerState
	OnFocus() models.TimerState
	OnBlur() models.TimerState
	OnUnload()
}

// Opts holds server configuration.
type Opts struct {
	Addr string
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		if addr != "" {
			o.Addr = addr
		}
	}
}

// Server serves the timer API.
type Server struct {
	engine    Engine
	lifecycle Lifecycle
	clock     clock.Clock
	opts      Opts
}

// NewServer creates a Server. lc may be nil, in which case the lifecycle
// routes fall through to the engine directly.
func NewServer(eng Engine, lc Lifecycle, clk clock.Clock, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{engine: eng, lifecycle: lc, clock: clk, opts: cfg}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/timer", s.timerHandler)
	mux.HandleFunc("/timer/start", s.startHandler)
	mux.HandleFunc("/timer/pause", s.pauseHandler)
	mux.HandleFunc("/timer/reset", s.resetHandler)
	mux.HandleFunc("/timer/mode", s.modeHandler)
	mux.HandleFunc("/timer/plan", s.planHandler)
	mux.HandleFunc("/timer/task", s.taskHandler)
	mux.HandleFunc("/lifecycle/hidden", s.hiddenHandler)
	mux.HandleFunc("/lifecycle/visible", s.visibleHandler)
	mux.HandleFunc("/lifecycle/focus", s.focusHandler)
	mux.HandleFunc("/lifecycle/blur", s.blurHandler)
	mux.HandleFunc("/lifecycle/unload", s.unloadHandler)
	mux.HandleFunc("/events", s.eventsHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	return mux
}

// Run listens on the configured address until ctx is done, then shuts the
// server down and unloads the engine so unsaved seconds are handed off.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx so open event streams close on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: graceful shutdown failed", "error", err)
	}
	<-errCh
	s.engine.Unload()
	slog.Info("Server.Run: API stopped, engine unloaded")
	return nil
}
