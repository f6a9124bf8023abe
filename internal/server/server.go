// Package server accepts client connections and runs the chat command
// protocol over them.
//
// All chat state (sessions, message logs, reports) lives behind one mutex
// held for the duration of a command. Delayed messages run on the scheduler's
// goroutines and take the same mutex when they fire, so a delivery never
// interleaves with a command touching the same session.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/linechat/internal/ban"
	"github.com/whisper/linechat/internal/chat"
	"github.com/whisper/linechat/internal/config"
	"github.com/whisper/linechat/internal/moderation"
	"github.com/whisper/linechat/internal/ratelimit"
	"github.com/whisper/linechat/internal/schedule"
	"github.com/whisper/linechat/internal/session"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Notifier receives moderation events. Publishing is fire and forget.
type Notifier interface {
	PublishModeration(ev moderation.Event) error
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces time.Now for ban bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLimiter replaces the default in-process command limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithNotifier publishes moderation events through n.
func WithNotifier(n Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// Server owns the chat state and the live connections.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	now      func() time.Time
	limiter  ratelimit.Limiter
	notifier Notifier

	mu       sync.Mutex // guards sessions, chats and policy
	sessions *session.Registry
	chats    *chat.Store
	policy   *ban.Policy

	scheduler *schedule.Scheduler

	connMu   sync.Mutex
	conns    map[string]*client
	listener net.Listener
	closing  bool
	wg       sync.WaitGroup
}

// New creates a Server from cfg.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	sessions := session.NewRegistry()
	s := &Server{
		cfg:       cfg,
		logger:    logger.Named("server"),
		now:       time.Now,
		sessions:  sessions,
		chats:     chat.NewStore(sessions),
		policy:    ban.NewPolicy(sessions, cfg.ReportThreshold, cfg.BanDuration),
		scheduler: schedule.New(logger),
		conns:     make(map[string]*client),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewLocalLimiter(
			ratelimit.CommandRule(cfg.RateLimit.Commands, cfg.RateLimit.Window))
	}
	return s
}

// ListenAndServe binds the configured address and serves until Shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := listen(ctx, s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.ListenAddr(), err)
	}
	return s.Serve(l)
}

// Serve accepts connections on l and handles each on its own goroutine. It
// always returns a non-nil error; after Shutdown it is ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	s.connMu.Lock()
	if s.closing {
		s.connMu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.connMu.Unlock()

	s.logger.Info("listening", zap.String("addr", l.Addr().String()))

	var backoff time.Duration
	for {
		nc, err := l.Accept()
		if err != nil {
			if s.isClosing() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn("accept error, retrying", zap.Duration("backoff", backoff), zap.Error(err))
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		backoff = 0
		go s.ServeConn(nc)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) isClosing() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.closing
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, closes every connection (signing its user out),
// waits for the handlers to finish and then drops pending delayed messages.
// If ctx expires first the scheduler is still stopped and ctx.Err() is
// returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connMu.Lock()
	if s.closing {
		s.connMu.Unlock()
		return nil
	}
	s.closing = true
	if s.listener != nil {
		s.listener.Close()
	}
	open := len(s.conns)
	for _, c := range s.conns {
		c.conn.Close()
	}
	s.connMu.Unlock()

	s.logger.Info("shutting down", zap.Int("connections", open))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.scheduler.Shutdown()
	return err
}
