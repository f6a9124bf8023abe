// Package messaging provides a NATS client wrapper for publishing moderation
// events from the chat server and consuming them in the moderator service.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/whisper/linechat/internal/moderation"
)

// NATS subjects.
const (
	SubjectModerationReport = "moderation.report"
	SubjectModerationBan    = "moderation.ban"
	SubjectModerationAll    = "moderation.>"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "linechat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger *zap.Logger) (*NATSClient, error) {
	logger = logger.Named("nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// SubjectFor returns the subject a moderation event is published on.
func SubjectFor(ev moderation.Event) string {
	if ev.Type == moderation.TypeBan {
		return SubjectModerationBan
	}
	return SubjectModerationReport
}

// PublishModeration publishes ev as JSON on its moderation subject.
func (c *NATSClient) PublishModeration(ev moderation.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: marshal moderation event: %w", err)
	}
	return c.Publish(SubjectFor(ev), data)
}

// SubscribeModeration delivers every moderation event to handler. Payloads
// that do not decode are logged and dropped.
func (c *NATSClient) SubscribeModeration(handler func(ev moderation.Event)) error {
	return c.Subscribe(SubjectModerationAll, func(msg *nats.Msg) {
		ev, err := moderation.Decode(msg.Data)
		if err != nil {
			c.logger.Warn("dropping moderation message",
				zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(ev)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", zap.String("subject", subject), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("connection drain", zap.Error(err))
	}
	c.logger.Info("client closed")
}
