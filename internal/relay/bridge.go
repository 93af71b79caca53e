package relay

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mseidel19/wallcast/internal/protocol"
)

// Bridge republishes relay fan-out traffic onto NATS subjects and feeds
// envelopes published by external systems back into the dispatch loop.
// Delivery is core NATS, fire-and-forget: nothing is persisted or retried,
// matching the relay's own no-queueing rule.
type Bridge struct {
	nc     *nats.Conn
	prefix string
	ingest *nats.Subscription
}

// NewBridge connects to NATS and, when an ingest subject is configured,
// subscribes to it. Ingested payloads are handed to inject, which must not
// block: it runs on the NATS delivery goroutine.
func NewBridge(cfg BridgeConfig, inject func([]byte)) (*Bridge, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	b := &Bridge{nc: nc, prefix: cfg.SubjectPrefix}

	if cfg.IngestSubject != "" {
		sub, err := nc.Subscribe(cfg.IngestSubject, func(m *nats.Msg) {
			inject(m.Data)
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.IngestSubject, err)
		}
		b.ingest = sub
	}

	log.Info().
		Str("url", cfg.URL).
		Str("subject_prefix", cfg.SubjectPrefix).
		Str("ingest_subject", cfg.IngestSubject).
		Msg("event bridge connected")
	return b, nil
}

// Publish taps one encoded envelope onto the per-type subject.
func (b *Bridge) Publish(t protocol.MessageType, data []byte) {
	subject := b.prefix + "." + string(t)
	if err := b.nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("bridge publish failed")
	}
}

// Connected reports whether the NATS connection is currently up.
func (b *Bridge) Connected() bool {
	return b.nc.Status() == nats.CONNECTED
}

// Close drains the ingest subscription and closes the connection.
func (b *Bridge) Close() {
	if b.ingest != nil {
		if err := b.ingest.Unsubscribe(); err != nil {
			log.Debug().Err(err).Msg("failed to unsubscribe ingest subject")
		}
	}
	b.nc.Close()
	log.Info().Msg("event bridge closed")
}
