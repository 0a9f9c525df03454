// Package mockserver is an in-memory stand-in for the media-analysis backend.
// It serves the REST envelope contract and the analysis websocket so the
// client can be developed and tested without the real service.
package mockserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/pixelsort/taskwatch/internals/logbuf"
	"github.com/pixelsort/taskwatch/internals/schemas"
	"github.com/pixelsort/taskwatch/internals/timeouts"
)

const (
	DefaultCookieName = "sessionid"
	WebSocketPath     = "/ws/analysis/"
)

type Options struct {
	// Session, when set, is the cookie value every request must carry.
	Session    string
	CookieName string
	// StepInterval advances tasks automatically while Run is serving.
	StepInterval time.Duration
	Clock        clockwork.Clock
	Logger       *slog.Logger
}

type Server struct {
	Store  *Store
	opts   Options
	logger *slog.Logger
	buffer *logbuf.Buffer
	hub    *hub
}

func New(opts Options) *Server {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		Store:  NewStore(opts.Clock),
		opts:   opts,
		logger: opts.Logger,
		buffer: logbuf.New(slog.String("component", "mockserver")),
		hub:    newHub(opts.Logger),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.MiddlewareLogger)
	r.Use(s.MiddlewareSession)
	r.Route("/api/analyses", func(r chi.Router) {
		r.Get("/", s.HandlerList)
		r.Post("/", s.HandlerSubmit)
		r.Get("/stats", s.HandlerStats)
		r.Get("/{id}", s.HandlerGet)
		r.Post("/{id}/retry", s.HandlerRetry)
		r.Post("/{id}/cancel", s.HandlerCancel)
	})
	r.Get(WebSocketPath, s.hub.serve)
	return r
}

// Step advances the store and pushes every change to websocket clients.
func (s *Server) Step() []schemas.AnalysisTask {
	changed := s.Store.Step()
	for _, task := range changed {
		s.hub.broadcast(schemas.WSMessageAnalysisUpdate, task)
	}
	if len(changed) > 0 {
		s.pushStats()
	}
	return changed
}

// Publish pushes a task update and fresh stats to websocket clients.
func (s *Server) Publish(task schemas.AnalysisTask) {
	s.hub.broadcast(schemas.WSMessageAnalysisUpdate, task)
	s.pushStats()
}

func (s *Server) pushStats() {
	stats, err := s.Store.Stats()
	if err != nil {
		s.logger.Warn("Skipping stats push", "error", err)
		return
	}
	s.hub.broadcast(schemas.WSMessageStatsUpdate, stats)
}

func (s *Server) Connections() int {
	return s.hub.count()
}

// DropConnections closes every websocket abruptly.
func (s *Server) DropConnections() {
	s.hub.dropAll()
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: timeouts.SecondDefault,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stepDone := make(chan struct{})
	go func() {
		defer close(stepDone)
		s.stepLoop(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Mock backend listening", "addr", listener.Addr().String())
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		cancel()
		<-stepDone
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.dropAll()
	shutdownCtx, stop := context.WithTimeout(context.Background(), timeouts.SecondDefault)
	defer stop()
	err := httpServer.Shutdown(shutdownCtx)
	<-stepDone
	return err
}

func (s *Server) stepLoop(ctx context.Context) {
	if s.opts.StepInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := s.opts.Clock.NewTicker(s.opts.StepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if changed := s.Step(); len(changed) > 0 {
				s.logger.Debug("Advanced analyses", "count", len(changed))
			}
		}
	}
}
