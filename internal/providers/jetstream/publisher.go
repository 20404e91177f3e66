package jetstream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/messaging"
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
	// DuplicateWindow is how long the stream remembers message ids. Events republished
	// after an emitter restart within the window are dropped by the server.
	DuplicateWindow time.Duration
}

type publisher struct {
	nc         adapter.NatsConn
	js         adapter.JetStream
	streamName string
	json       adapter.JSON
}

// StreamConfig returns the configuration of the stream holding every ledger event
func StreamConfig(cfg Config) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{"ledger.>"},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: cfg.DuplicateWindow,
	}
}

// NewPublisher creates a new NATS JetStream publisher and makes sure the ledger stream exists
func NewPublisher(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Publisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	info, err := js.CreateOrUpdateStream(ctx, StreamConfig(cfg))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.StreamName, err)
	}
	logger.InfoCtx(ctx, "Stream ready",
		zap.String("stream", cfg.StreamName),
		zap.Uint64("messages", info.State.Msgs))

	return &publisher{
		nc:         nc,
		js:         js,
		streamName: cfg.StreamName,
		json:       jsonAdapter,
	}, nil
}

// MessageID identifies an event for JetStream de-duplication
func MessageID(event *domain.Event) string {
	return fmt.Sprintf("%s:%s", event.Chain, event.ID())
}

// PublishEvent publishes a ledger event to NATS JetStream
func (p *publisher) PublishEvent(ctx context.Context, event *domain.Event) error {
	logger.DebugCtx(ctx, "Publishing ledger event",
		zap.String("event", event.ID()),
		zap.String("kind", string(event.Kind)))

	data, err := p.json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := messaging.Subject(event.Chain, event.Kind)

	ack, err := p.js.Publish(ctx, subject, data,
		jetstream.WithMsgID(MessageID(event)),
		jetstream.WithExpectStream(p.streamName))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if ack != nil && ack.Duplicate {
		logger.DebugCtx(ctx, "Event already in stream", zap.String("event", event.ID()))
	}

	return nil
}

// Close closes the NATS connection
func (p *publisher) Close() {
	if p.nc == nil {
		return
	}

	p.nc.Close()
}
