package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/jobs"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
	"dpsrecon.io/reconciliation/internal/telemetry"
)

// Message results recorded in telemetry.InboundMessages.
const (
	ResultEnqueued = "enqueued"
	ResultDropped  = "dropped"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// JobInserter enqueues River jobs. *river.Client satisfies it.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// SubscriberConfig configures the JetStream subscription.
type SubscriberConfig struct {
	URL              string
	Subject          string
	DurableName      string
	QueueGroup       string
	StreamName       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration
}

// NewSubscriber creates a durable queue-group JetStream subscriber.
func NewSubscriber(cfg SubscriberConfig, wlog watermill.LoggerAdapter) (message.Subscriber, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				wlog.Error("Subscriber disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			wlog.Info("Subscriber reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.MaxAckPending(cfg.MaxAckPending),
		natsgo.AckWait(cfg.AckWaitTimeout),
		natsgo.DeliverNew(),
	}
	autoProvision := true
	if cfg.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(cfg.StreamName))
		autoProvision = false
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision:    autoProvision,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}, wlog)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	return sub, nil
}

// Listener moves messages from a topic into the job queue. A message is
// acknowledged only after its job is inserted; decode and insert failures
// are nacked for redelivery. Messages with no handler are acknowledged and
// dropped.
type Listener struct {
	subscriber message.Subscriber
	topic      string
	decoder    *Decoder
	inserter   JobInserter
}

// New creates a Listener.
func New(subscriber message.Subscriber, topic string, decoder *Decoder, inserter JobInserter) *Listener {
	return &Listener{subscriber: subscriber, topic: topic, decoder: decoder, inserter: inserter}
}

// Run consumes until ctx is cancelled or the subscription closes.
func (l *Listener) Run(ctx context.Context) error {
	messages, err := l.subscriber.Subscribe(ctx, l.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", l.topic, err)
	}
	logger.Info("Listening for inbound events", zap.String("topic", l.topic))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			l.process(ctx, msg)
		}
	}
}

// process handles one message and returns the recorded result.
func (l *Listener) process(ctx context.Context, msg *message.Message) string {
	ev, err := l.decoder.Decode(msg.Payload)
	if err != nil {
		if errors.Is(err, ErrNotNotification) || errors.Is(err, ErrUnknownEventType) {
			logger.Info("Ignoring message without a handler",
				zap.String("message_uuid", msg.UUID),
				zap.Error(err),
			)
			telemetry.InboundMessages.WithLabelValues("unknown", ResultDropped).Inc()
			msg.Ack()
			return ResultDropped
		}
		logger.Error("Rejecting malformed message",
			zap.String("message_uuid", msg.UUID),
			zap.Error(err),
		)
		telemetry.InboundMessages.WithLabelValues("unknown", ResultRejected).Inc()
		msg.Nack()
		return ResultRejected
	}

	eventType := ev.EventType()
	args, err := jobs.ArgsFor(ev)
	if err == nil {
		_, err = l.inserter.Insert(ctx, args, nil)
	}
	if err != nil {
		logger.Error("Failed to enqueue event job",
			zap.String("message_uuid", msg.UUID),
			zap.String("event_type", eventType),
			zap.String("subject_id", ev.Subject()),
			zap.Error(err),
		)
		telemetry.InboundMessages.WithLabelValues(eventType, ResultFailed).Inc()
		msg.Nack()
		return ResultFailed
	}

	logger.Debug("Event job enqueued",
		zap.String("message_uuid", msg.UUID),
		zap.String("event_type", eventType),
		zap.String("subject_id", ev.Subject()),
	)
	telemetry.InboundMessages.WithLabelValues(eventType, ResultEnqueued).Inc()
	msg.Ack()
	return ResultEnqueued
}
