package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kadirpekel/docqa/pkg/config"
	"github.com/kadirpekel/docqa/pkg/runtime"
)

// Server runs the HTTP API over a Runtime and rebuilds both when the
// configuration changes.
type Server struct {
	opts Options

	mu      sync.Mutex
	config  *config.Config
	runtime *runtime.Runtime
	http    *HTTPServer

	reloadCh chan *config.Config
}

// Options configures a Server.
type Options struct {
	Config *config.Config

	// Address overrides server.address.
	Address string

	RuntimeOptions []runtime.Option
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return &Server{
		opts:     opts,
		config:   opts.Config,
		reloadCh: make(chan *config.Config, 1),
	}, nil
}

// Reload schedules a restart with cfg. It is meant as a config.Loader
// change callback; a pending reload is replaced by the newer one.
func (s *Server) Reload(cfg *config.Config) {
	for {
		select {
		case s.reloadCh <- cfg:
			return
		default:
			select {
			case <-s.reloadCh:
			default:
			}
		}
	}
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	for {
		runCtx, cancel := context.WithCancel(ctx)
		errCh, err := s.start(runCtx)
		if err != nil {
			cancel()
			return err
		}

		var next *config.Config
		select {
		case <-ctx.Done():
		case err = <-errCh:
		case next = <-s.reloadCh:
			slog.Info("Configuration changed, restarting")
		}

		cancel()
		if serveErr := <-errCh; err == nil {
			err = serveErr
		}
		s.stop()

		if next == nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.config = next
		s.mu.Unlock()
	}
}

// Runtime returns the running runtime, if any.
func (s *Server) Runtime() *runtime.Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime
}

func (s *Server) start(ctx context.Context) (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, err := runtime.New(ctx, s.config, s.opts.RuntimeOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}

	cfg := s.config.Server
	if s.opts.Address != "" {
		cfg.Address = s.opts.Address
	}
	s.runtime = rt
	s.http = NewHTTPServer(cfg, rt.Service(), WithObservability(rt.Observability()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Start(ctx)
		close(errCh)
	}()
	return errCh, nil
}

func (s *Server) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime != nil {
		if err := s.runtime.Close(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Shutdown error", "component", "runtime", "error", err)
		}
	}
	s.runtime = nil
	s.http = nil
}
