package server

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/linechat/internal/metrics"
)

// client is one connection's state. user is empty until sign-in succeeds
// and is only touched by the connection's own goroutine.
type client struct {
	id   string
	conn net.Conn
	peer string
	user string
}

func (c *client) authenticated() bool { return c.user != "" }

// ServeConn runs the read loop for nc until the peer disconnects, a read or
// write fails, or the server shuts down. Every non-blank line gets exactly
// one reply written in a single Write. On exit the connection's user, if
// any, is signed out.
func (s *Server) ServeConn(nc net.Conn) {
	c := &client{
		id:   uuid.NewString(),
		conn: nc,
		peer: nc.RemoteAddr().String(),
	}
	if !s.track(c) {
		nc.Close()
		return
	}
	defer s.untrack(c)

	logger := s.logger.With(zap.String("conn_id", c.id), zap.String("peer", c.peer))
	logger.Info("connection opened")

	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 0, 512), s.cfg.MaxLineBytes)

	for scanner.Scan() {
		reply, ok := s.handleLine(c, scanner.Text())
		if !ok {
			continue
		}
		if _, err := nc.Write(reply.Encode()); err != nil {
			logger.Debug("write failed", zap.Error(err))
			break
		}
	}
	if err := scanner.Err(); err != nil && !s.isClosing() {
		logger.Debug("read failed", zap.Error(err))
	}

	if c.authenticated() {
		s.signOut(c)
	}
	logger.Info("connection closed")
}

func (s *Server) track(c *client) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	metrics.Connections.Inc()
	return true
}

func (s *Server) untrack(c *client) {
	c.conn.Close()
	s.limiter.Forget(c.id)

	s.connMu.Lock()
	delete(s.conns, c.id)
	s.connMu.Unlock()

	metrics.Connections.Dec()
	s.wg.Done()
}

// allow applies the per-connection command limit. Limiter errors let the
// command through.
func (s *Server) allow(c *client) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	ok, err := s.limiter.Allow(ctx, c.id)
	if err != nil {
		s.logger.Debug("rate limiter error", zap.String("conn_id", c.id), zap.Error(err))
		return true
	}
	return ok
}
