package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/desertthunder/sobelx/internal/metrics"
	"github.com/desertthunder/sobelx/internal/session"
	"github.com/desertthunder/sobelx/internal/shared"
)

// DefaultShutdownTimeout bounds how long [Server.ListenAndServe] waits for in-flight sessions.
const DefaultShutdownTimeout = 10 * time.Second

const maxAcceptBackoff = time.Second

// SessionHandler serves one connection to completion and closes it. [*session.Handler] implements it.
type SessionHandler interface {
	Serve(conn net.Conn) session.Report
}

// Config controls the acceptor.
type Config struct {
	// Addr is the host:port to bind. It is expected to be validated already, see [shared.ListenAddr].
	Addr string
	// AcceptRate limits accepted connections per second. Zero disables the limiter.
	AcceptRate float64
	// AcceptBurst is the limiter bucket size. Values below 1 are treated as 1.
	AcceptBurst int
	// MetricsAddr enables the operational HTTP listener when non-empty.
	MetricsAddr string
	// ShutdownTimeout bounds the drain of in-flight sessions. Zero means [DefaultShutdownTimeout].
	ShutdownTimeout time.Duration
	// Ready, when set, is closed once the listener is bound.
	Ready chan<- struct{}
}

// Opts contains the dependencies of a [Server]. Handler is required.
type Opts struct {
	Config  Config
	Handler SessionHandler
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// Server is the connection acceptor.
type Server struct {
	cfg     Config
	handler SessionHandler
	metrics *metrics.Metrics
	logger  *log.Logger
	limiter *rate.Limiter

	mu       sync.Mutex
	addr     net.Addr
	sessions sync.WaitGroup
	active   atomic.Int64
}

// New creates a [Server] from opts.
func New(opts Opts) *Server {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Config.ShutdownTimeout <= 0 {
		opts.Config.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		cfg:     opts.Config,
		handler: opts.Handler,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if opts.Config.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.Config.AcceptRate), max(opts.Config.AcceptBurst, 1))
	}
	return s
}

// Addr returns the bound listener address, or nil before [Server.Listen].
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Active returns the number of sessions currently running.
func (s *Server) Active() int64 {
	return s.active.Load()
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("server listening", "addr", ln.Addr().String())
	if s.cfg.Ready != nil {
		close(s.cfg.Ready)
	}
	return ln, nil
}

// Serve runs the accept loop on ln until ctx is cancelled or accepting fails for good.
//
// The listener is closed when Serve returns. Cancellation is not an error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var closing atomic.Bool
	stop := context.AfterFunc(ctx, func() {
		closing.Store(true)
		ln.Close()
	})
	defer stop()
	defer ln.Close()

	var backoff time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if closing.Load() {
				return nil
			}
			if transientAcceptError(err) {
				backoff = nextBackoff(backoff)
				s.logger.Warn("accept failed, retrying", "error", err, "backoff", backoff)
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			s.logger.Error("accept failed, stopping server", "error", err)
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		s.spawn(conn)
	}
}

// spawn runs the session on its own goroutine and registers it for draining.
func (s *Server) spawn(conn net.Conn) {
	s.sessions.Add(1)
	s.active.Add(1)
	go func() {
		defer s.sessions.Done()
		defer s.active.Add(-1)
		defer func() {
			if v := recover(); v != nil {
				conn.Close()
				s.logger.Error("session panic", "peer", conn.RemoteAddr().String(), "panic", v)
			}
		}()

		rep := s.handler.Serve(conn)
		s.logger.Debug("session finished", "session_id", rep.ID, "result", rep.Result(), "error", rep.Err)
	}()
}

// Wait blocks until every registered session has finished or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d sessions still running: %w", s.Active(), ctx.Err())
	}
}

// ListenAndServe binds the listener, runs the accept loop and, if configured, the operational HTTP
// listener until ctx is cancelled or either fails. In-flight sessions are then drained for up to
// [Config.ShutdownTimeout].
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(gctx, ln)
	})
	if s.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return s.serveOps(gctx)
		})
	}
	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.Wait(drainCtx); err != nil {
		s.logger.Warn("shutdown before all sessions finished", "error", err)
	}

	s.logger.Info("server stopped")
	return runErr
}

func (s *Server) serveOps(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics listener %s: %w", s.cfg.MetricsAddr, err)
	}

	srv := &http.Server{
		Handler:           NewOpsRouter(s),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("metrics listening", "addr", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func transientAcceptError(err error) bool {
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED)
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	return min(d*2, maxAcceptBackoff)
}
