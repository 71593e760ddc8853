package modules

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/api/handlers"
	"dpsrecon.io/reconciliation/internal/listener"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
	"dpsrecon.io/reconciliation/internal/pkg/worker"
)

// InboundModule owns the event subscription: an optional embedded JetStream
// server, the watermill subscriber and the listener feeding River.
// A disabled module starts nothing.
type InboundModule struct {
	topic      string
	embedded   *listener.EmbeddedServer
	subscriber message.Subscriber
	listener   *listener.Listener
}

// NewInboundModule builds the subscription. inserter is normally the River client.
func NewInboundModule(infra *Infrastructure, inserter listener.JobInserter) (*InboundModule, error) {
	cfg := infra.Config.NATS
	if !cfg.Enabled {
		return &InboundModule{}, nil
	}

	m := &InboundModule{topic: cfg.Subject}
	url := cfg.URL
	if cfg.Embedded {
		srv, err := listener.StartEmbeddedServer(listener.EmbeddedConfig{
			Host:     "127.0.0.1",
			Port:     cfg.EmbeddedPort,
			StoreDir: cfg.StoreDir,
		})
		if err != nil {
			return nil, fmt.Errorf("start embedded nats: %w", err)
		}
		m.embedded = srv
		url = srv.ClientURL()
		logger.Info("Embedded NATS server started", zap.String("url", url))
	}

	sub, err := listener.NewSubscriber(listener.SubscriberConfig{
		URL:              url,
		Subject:          cfg.Subject,
		DurableName:      cfg.DurableName,
		QueueGroup:       cfg.QueueGroup,
		StreamName:       cfg.StreamName,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		MaxDeliver:       cfg.MaxDeliver,
		MaxAckPending:    cfg.MaxAckPending,
		CloseTimeout:     cfg.CloseTimeout,
		MaxReconnects:    cfg.MaxReconnects,
		ReconnectWait:    cfg.ReconnectWait,
	}, listener.NewZapLoggerAdapter(logger.L()))
	if err != nil {
		m.shutdownEmbedded(context.Background())
		return nil, err
	}
	m.subscriber = sub
	m.listener = listener.New(sub, cfg.Subject, listener.NewDecoder(infra.Location), inserter)
	return m, nil
}

func (m *InboundModule) Name() string { return "inbound" }

func (m *InboundModule) ContributeServerDeps(*handlers.ServerDeps) {}

func (m *InboundModule) RegisterWorkers(*river.Workers) {}

// Start runs the listener on the general pool until the pools shut down.
func (m *InboundModule) Start(_ context.Context, pools *worker.Pools) error {
	if m.listener == nil {
		logger.Info("Inbound subscription disabled")
		return nil
	}
	return pools.SubmitDetached(func(ctx context.Context) {
		if err := m.listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Listener stopped", zap.String("topic", m.topic), zap.Error(err))
		}
	})
}

func (m *InboundModule) Shutdown(ctx context.Context) error {
	var err error
	if m.subscriber != nil {
		err = m.subscriber.Close()
	}
	m.shutdownEmbedded(ctx)
	return err
}

func (m *InboundModule) shutdownEmbedded(ctx context.Context) {
	if m.embedded == nil {
		return
	}
	if err := m.embedded.Shutdown(ctx); err != nil {
		logger.Warn("Embedded NATS shutdown", zap.Error(err))
	}
	m.embedded = nil
}
