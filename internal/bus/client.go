// Package bus provides the message-bus adapter used by the aggregator and
// the symbol coordinators. It wraps a NATS connection behind a small pub/sub
// interface so that engine components never touch the client library
// directly and tests can substitute an in-process fake.
package bus

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Msg is a message delivered to a subscription handler.
type Msg struct {
	Subject string
	Data    []byte
}

// Handler processes one delivered message. Handlers are invoked serially
// per subscription.
type Handler func(msg *Msg)

// Bus is the pub/sub surface consumed by engine components.
type Bus interface {
	// Publish sends data to a subject. It fails when the client is
	// disconnected; outbound messages are never buffered across disconnects.
	Publish(subject string, data []byte) error

	// Subscribe delivers every message matching subject to handler.
	// Wildcards * (one segment) and > (tail) are honored.
	Subscribe(subject string, handler Handler) error

	// QueueSubscribe joins the named queue group: each matching message is
	// delivered to exactly one member of the group.
	QueueSubscribe(subject, queue string, handler Handler) error

	// Request publishes data and waits up to timeout for a reply.
	Request(subject string, data []byte, timeout time.Duration) ([]byte, error)
}

// Config holds bus connection settings.
type Config struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
}

// ConfigFromEnv reads bus settings from BUS_SERVERS, BUS_CLIENT_NAME and
// BUS_RECONNECT_WAIT.
func ConfigFromEnv() Config {
	servers := os.Getenv("BUS_SERVERS")
	if servers == "" {
		servers = "nats://localhost:4222"
	}
	name := os.Getenv("BUS_CLIENT_NAME")
	if name == "" {
		name = "trading-engine"
	}
	wait := 2 * time.Second
	if v := os.Getenv("BUS_RECONNECT_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			wait = d
		}
	}
	return Config{
		Servers:       strings.Split(servers, ","),
		Name:          name,
		ReconnectWait: wait,
	}
}

// Client is the NATS-backed Bus implementation.
type Client struct {
	nc  *nats.Conn
	log *slog.Logger
}

// Connect establishes the bus connection. Reconnect attempts are unbounded
// with a fixed wait; connection state changes are logged.
func Connect(cfg Config) (*Client, error) {
	log := slog.With(slog.String("component", "bus"))

	nc, err := nats.Connect(
		strings.Join(cfg.Servers, ","),
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		// Fail publishes while disconnected instead of buffering them.
		nats.ReconnectBufSize(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("bus disconnected", slog.Any("err", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("bus reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Warn("bus connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus connect %v: %w", cfg.Servers, err)
	}

	log.Info("connected to bus", slog.String("url", nc.ConnectedUrl()), slog.String("name", cfg.Name))
	return &Client{nc: nc, log: log}, nil
}

// Publish sends data to subject.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for all messages matching subject.
func (c *Client) Subscribe(subject string, handler Handler) error {
	_, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(&Msg{Subject: m.Subject, Data: m.Data})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.log.Info("subscribed", slog.String("subject", subject))
	return nil
}

// QueueSubscribe registers handler as a member of queue for subject.
func (c *Client) QueueSubscribe(subject, queue string, handler Handler) error {
	_, err := c.nc.QueueSubscribe(subject, queue, func(m *nats.Msg) {
		handler(&Msg{Subject: m.Subject, Data: m.Data})
	})
	if err != nil {
		return fmt.Errorf("queue subscribe %s (%s): %w", subject, queue, err)
	}
	c.log.Info("subscribed", slog.String("subject", subject), slog.String("queue", queue))
	return nil
}

// Request publishes data and waits up to timeout for a single reply.
func (c *Client) Request(subject string, data []byte, timeout time.Duration) ([]byte, error) {
	msg, err := c.nc.Request(subject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// Close drains in-flight messages and closes the connection.
func (c *Client) Close() {
	if err := c.nc.Drain(); err != nil {
		c.log.Warn("bus drain failed", slog.Any("err", err))
	}
	c.nc.Close()
}
