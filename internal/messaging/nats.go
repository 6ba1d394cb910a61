// Package messaging publishes zone and signal events to NATS.
package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/logging"
)

// Config holds NATS connection settings.
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	// ConnectTimeout bounds the whole initial connect, retries included.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DefaultConfig returns the default NATS configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		URL:            nats.DefaultURL,
		SubjectPrefix:  "fibtargets",
		MaxReconnects:  10,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 30 * time.Second,
	}
}

// Publisher is the part of a NATS connection the taps need.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Client wraps a NATS connection.
type Client struct {
	conn   *nats.Conn
	cfg    Config
	logger zerolog.Logger
}

// NewClient connects to cfg.URL, retrying with exponential backoff until
// ConnectTimeout elapses or ctx ends.
func NewClient(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	logger = logging.WithComponent(logger, "nats")

	opts := []nats.Option{
		nats.Name("fib-targets"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS connection closed")
		}),
	}

	var conn *nats.Conn
	operation := func() error {
		var err error
		conn, err = nats.Connect(cfg.URL, opts...)
		if err != nil {
			logger.Debug().Err(err).Str("url", cfg.URL).Msg("NATS connect attempt failed")
		}
		return err
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = cfg.ConnectTimeout
	if err := backoff.Retry(operation, backoff.WithContext(strategy, ctx)); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrNotConnected, "connecting to NATS at %s: %v", cfg.URL, err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Msg("Connected to NATS")
	return &Client{conn: conn, cfg: cfg, logger: logger}, nil
}

// Publish sends data on subject.
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return apperrors.Wrapf(err, "publishing to %s", subject)
	}
	return nil
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Close flushes pending messages and closes the connection.
func (c *Client) Close() error {
	if err := c.conn.FlushTimeout(5 * time.Second); err != nil {
		c.logger.Warn().Err(err).Msg("NATS flush failed")
	}
	c.conn.Close()
	return nil
}

// Subjects builds the subjects events are published on.
type Subjects struct {
	Prefix string
}

// ZoneDraw is the subject for zones drawn for symbol.
func (s Subjects) ZoneDraw(symbol string) string {
	return s.join("zones", symbol, "draw")
}

// ZoneRemove is the subject for zones removed for symbol.
func (s Subjects) ZoneRemove(symbol string) string {
	return s.join("zones", symbol, "remove")
}

// Signals is the subject for retrace signals of symbol.
func (s Subjects) Signals(symbol string) string {
	return s.join("signals", symbol)
}

func (s Subjects) join(parts ...string) string {
	tokens := make([]string, 0, len(parts)+1)
	if s.Prefix != "" {
		tokens = append(tokens, s.Prefix)
	}
	for i, p := range parts {
		if i == 1 {
			p = token(p)
		}
		tokens = append(tokens, p)
	}
	return strings.Join(tokens, ".")
}

// token makes a symbol safe to use as one subject token.
func token(symbol string) string {
	if symbol == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, symbol)
}
