package processor

import (
	"context"
	"errors"
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

// ConsumerConfig holds the configuration for the JetStream consumer
type ConsumerConfig struct {
	URL            string
	StreamName     string
	ConsumerName   string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
	AckWaitTimeout time.Duration
	MaxDeliver     int
}

// Consumer feeds the events of a chain to a processor one at a time
type Consumer interface {
	// Run consumes until ctx is done or an event cannot be applied
	Run(ctx context.Context) error
	// Close closes the NATS connection
	Close()
}

type consumer struct {
	nc        adapter.NatsConn
	js        adapter.JetStream
	processor Processor
	json      adapter.JSON
	chain     domain.Chain
	config    ConsumerConfig
}

// NewConsumer connects to NATS and creates a consumer for the events of chain
func NewConsumer(
	cfg ConsumerConfig,
	chain domain.Chain,
	natsJS adapter.NatsJetStream,
	proc Processor,
	jsonAdapter adapter.JSON,
) (Consumer, error) {
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

	return &consumer{
		nc:        nc,
		js:        js,
		processor: proc,
		json:      jsonAdapter,
		chain:     chain,
		config:    cfg,
	}, nil
}

// ConsumerConfigFor returns the durable consumer configuration used for chain.
// One message is in flight at a time so events are applied in stream order.
func ConsumerConfigFor(cfg ConsumerConfig, chain domain.Chain) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWaitTimeout,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: messaging.ChainSubjects(chain),
	}
}

// Run consumes until ctx is done or an event cannot be applied
func (c *consumer) Run(ctx context.Context) error {
	logger.InfoCtx(ctx, "Starting ledger consumer",
		zap.String("stream", c.config.StreamName),
		zap.String("consumer", c.config.ConsumerName),
		zap.String("chain", string(c.chain)))

	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.config.StreamName, ConsumerConfigFor(c.config, c.chain))
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := cons.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.InfoCtx(ctx, "Consumer created/retrieved",
		zap.String("consumer", consumerInfo.Name),
		zap.Uint64("pending", consumerInfo.NumPending))

	msgChan := make(chan adapter.Message, 1)
	sub, err := cons.Consume(func(msg adapter.Message) {
		msgChan <- msg
	}, jetstream.PullMaxMessages(1))
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Shutting down ledger consumer")
			return ctx.Err()
		case <-sub.Closed():
			return errors.New("consumer subscription closed")
		case msg := <-msgChan:
			if err := c.handleMessage(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// handleMessage applies the event carried by msg and acknowledges it once committed.
// It returns an error only when the event could not be applied and consumption must stop.
func (c *consumer) handleMessage(ctx context.Context, msg adapter.Message) error {
	var deliveryCount uint64
	if metadata, err := msg.Metadata(); err == nil {
		deliveryCount = metadata.NumDelivered
	}

	var event domain.Event
	if err := c.json.Unmarshal(msg.Data(), &event); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to unmarshal event"), zap.String("subject", msg.Subject()))
		// Terminate message for unparseable data
		if err := msg.Term(); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to terminate message"))
		}
		return nil
	}

	logger.DebugCtx(ctx, "Received event",
		zap.String("event", event.ID()),
		zap.String("kind", string(event.Kind)),
		zap.Uint64("block", event.BlockNumber),
		zap.Uint64("deliveryCount", deliveryCount),
	)

	stop := c.keepAlive(msg)
	err := c.processor.Process(ctx, &event)
	stop()

	if err != nil {
		if errors.Is(err, domain.ErrUnknownEventKind) {
			logger.WarnCtx(ctx, "Dropping event of unknown kind",
				zap.String("event", event.ID()),
				zap.String("kind", string(event.Kind)))
			if err := msg.Term(); err != nil {
				logger.ErrorCtx(ctx, err, zap.String("message", "Failed to terminate message"))
			}
			return nil
		}

		logger.ErrorCtx(ctx, err,
			zap.String("message", "Failed to apply event"),
			zap.String("event", event.ID()),
			zap.String("kind", string(event.Kind)))
		if err := msg.Nak(); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to NAK message"))
		}
		return err
	}

	// A lost ACK only causes a redelivery, which the cursor skips
	if err := msg.Ack(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to ACK message"))
	}

	return nil
}

// keepAlive extends the ack deadline of msg while its event is being retried
func (c *consumer) keepAlive(msg adapter.Message) func() {
	interval := c.config.AckWaitTimeout / 2
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					logger.Error(err, zap.String("message", "Failed to extend ack deadline"))
				}
			}
		}
	}()

	return func() { close(done) }
}

// Close closes the NATS connection
func (c *consumer) Close() {
	if c.nc == nil {
		return
	}

	c.nc.Close()
}
