package events

import (
	"context"

	"github.com/meridian-commerce/orchestrator/log"
)

// Broker is the transport behind the publisher. Fan-out publishes reach every
// subscriber of the topic; queue publishes are consumed by exactly one worker.
type Broker interface {
	PublishFanout(ctx context.Context, topic string, body []byte) error
	PublishQueue(ctx context.Context, queue string, body []byte) error
	Close(ctx context.Context) error
}

// LogBroker is a Broker that only logs dispatches. It backs local runs and
// environments without a message broker.
type LogBroker struct {
	logger log.Logger
}

// NewLogBroker creates a broker that records dispatches to the logger.
func NewLogBroker(logger log.Logger) *LogBroker {
	if logger == nil {
		logger = log.NewNop()
	}

	return &LogBroker{logger: logger}
}

// PublishFanout logs the fan-out dispatch.
func (br *LogBroker) PublishFanout(ctx context.Context, topic string, body []byte) error {
	br.logger.Log(ctx, log.LevelInfo, "event dispatched",
		log.String("channel_kind", string(KindFanout)),
		log.String("channel", topic),
		log.Int("bytes", len(body)))

	return nil
}

// PublishQueue logs the queue dispatch.
func (br *LogBroker) PublishQueue(ctx context.Context, queue string, body []byte) error {
	br.logger.Log(ctx, log.LevelInfo, "event dispatched",
		log.String("channel_kind", string(KindQueue)),
		log.String("channel", queue),
		log.Int("bytes", len(body)))

	return nil
}

// Close is a no-op.
func (br *LogBroker) Close(_ context.Context) error { return nil }
