// Package bridge republishes bus events to NATS so external consumers can
// follow verdicts without reading the ledger.
package bridge

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/config"
	"github.com/qorelogic/sentinel/internal/events"
)

// DefaultSubjectPrefix is prepended to every topic
const DefaultSubjectPrefix = "sentinel"

// Publisher is satisfied by *nats.Conn
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Bridge forwards envelopes to NATS subjects
type Bridge struct {
	pub    Publisher
	prefix string
	logger zerolog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// New creates a bridge publishing through pub
func New(pub Publisher, prefix string, logger zerolog.Logger) *Bridge {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Bridge{
		pub:    pub,
		prefix: prefix,
		logger: logger.With().Str("component", "bridge").Logger(),
	}
}

// Connect dials the configured NATS server
func Connect(cfg config.BridgeConfig, logger zerolog.Logger) (*nats.Conn, error) {
	log := logger.With().Str("component", "bridge").Logger()
	nc, err := nats.Connect(cfg.URL,
		nats.Name("sentinel"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// Subject returns the NATS subject for a topic
func (b *Bridge) Subject(topic events.Topic) string {
	return b.prefix + "." + string(topic)
}

// Attach subscribes the bridge to every topic on bus
func (b *Bridge) Attach(bus *events.Bus) events.Unsubscribe {
	return bus.OnAll(func(env events.Envelope) {
		if err := b.Publish(env); err != nil {
			b.logger.Warn().Err(err).Str("topic", string(env.Topic)).Uint64("seq", env.Seq).Msg("failed to republish event")
		}
	})
}

// Publish sends env as JSON. The message ID is the envelope cursor, so a
// JetStream stream with duplicate detection drops replays.
func (b *Bridge) Publish(env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		b.failed.Add(1)
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	msg := nats.NewMsg(b.Subject(env.Topic))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, events.FormatCursor(env.SessionID, env.Seq))

	if err := b.pub.PublishMsg(msg); err != nil {
		b.failed.Add(1)
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}
	b.published.Add(1)
	return nil
}

// Stats returns the number of published and failed envelopes
func (b *Bridge) Stats() (published, failed int64) {
	return b.published.Load(), b.failed.Load()
}
