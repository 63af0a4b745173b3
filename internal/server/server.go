// Package server composes the HTTP surface and runs it with graceful
// shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

// Server runs an http.Server until its context ends, then drains it.
type Server struct {
	http            *http.Server
	log             *slog.Logger
	shutdownTimeout time.Duration
	beforeShutdown  []func(context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithShutdownTimeout bounds the graceful drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// BeforeShutdown registers fn to run before the listener drains. Long-lived
// streams must be ended here or the drain waits for them.
func BeforeShutdown(fn func(context.Context) error) Option {
	return func(s *Server) { s.beforeShutdown = append(s.beforeShutdown, fn) }
}

// New returns a Server for handler.
func New(addr string, handler http.Handler, opts ...Option) *Server {
	s := &Server{
		log:             slog.Default(),
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
	return s
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then runs the
// BeforeShutdown hooks and drains open requests. It returns nil after a clean
// shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.InfoContext(ctx, "server.listen.ok", slog.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.InfoContext(ctx, "server.shutdown.start")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()

		var errs []error
		for _, fn := range s.beforeShutdown {
			if err := fn(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
		if err := errors.Join(errs...); err != nil {
			s.log.ErrorContext(shutdownCtx, "server.shutdown.fail", slog.String("err", err.Error()))
			return err
		}
		s.log.InfoContext(shutdownCtx, "server.shutdown.ok")
		return nil
	})

	return g.Wait()
}
