package events

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/meridian-commerce/orchestrator/log"
)

// ErrNilPublisher is returned when a method is called on a nil Publisher.
var ErrNilPublisher = errors.New("event publisher is nil")

// Publisher maps event types to destinations and dispatches envelopes through
// the broker. Dispatch failures are logged and swallowed: event publication
// must never fail a surrounding workflow, and there is no automatic retry.
type Publisher struct {
	broker Broker
	table  *DestinationTable
	logger log.Logger
	tracer trace.Tracer
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithDestinationTable replaces the default destination table.
func WithDestinationTable(table *DestinationTable) PublisherOption {
	return func(pub *Publisher) {
		if table != nil {
			pub.table = table
		}
	}
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(tracer trace.Tracer) PublisherOption {
	return func(pub *Publisher) {
		if tracer != nil {
			pub.tracer = tracer
		}
	}
}

// NewPublisher creates an event publisher over broker.
func NewPublisher(broker Broker, logger log.Logger, opts ...PublisherOption) *Publisher {
	if logger == nil {
		logger = log.NewNop()
	}

	pub := &Publisher{
		broker: broker,
		table:  DefaultDestinationTable(),
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer("events"),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pub)
		}
	}

	return pub
}

// Publish classifies eventType, resolves its destination and dispatches the
// envelope. High-priority order events always go out on the fan-out order
// topic regardless of their configured destination; normal order events go to
// the order processing queue. Severe system events are additionally copied to
// the audit queue for observability (deliberate at-least-twice delivery).
func (pub *Publisher) Publish(ctx context.Context, eventType string, data any) {
	if pub == nil || pub.broker == nil {
		return
	}

	ctx, span := pub.tracer.Start(ctx, "events.publish")
	defer span.End()

	class := Classify(eventType)

	envelope, err := NewEnvelope(eventType, data)
	if err != nil {
		pub.logger.Log(ctx, log.LevelError, "event dropped: payload not encodable",
			log.String("event_type", eventType),
			log.Err(err))

		return
	}

	span.SetAttributes(
		attribute.String("event.type", envelope.EventType),
		attribute.String("event.priority", string(envelope.Priority)),
		attribute.String("event.category", string(class.Category)),
	)

	body, err := envelope.Encode()
	if err != nil {
		pub.logger.Log(ctx, log.LevelError, "event dropped: envelope not encodable",
			log.String("event_type", eventType),
			log.Err(err))

		return
	}

	dest := pub.route(eventType, class)

	pub.dispatch(ctx, envelope, dest, body)

	if class.Category == CategorySystem && class.Severe {
		pub.dispatch(ctx, envelope, Destination{Kind: KindQueue, Name: AuditQueue}, body)
	}
}

// route applies the order-category overrides on top of the destination table.
func (pub *Publisher) route(eventType string, class Classification) Destination {
	if class.Category == CategoryOrder {
		if class.Priority == PriorityHigh {
			// Lifecycle events every consumer must see immediately.
			return Destination{Kind: KindFanout, Name: OrderEventsTopic}
		}

		return Destination{Kind: KindQueue, Name: OrderProcessingQueue}
	}

	return pub.table.Resolve(eventType, class)
}

func (pub *Publisher) dispatch(ctx context.Context, envelope Envelope, dest Destination, body []byte) {
	var err error

	switch dest.Kind {
	case KindFanout:
		err = pub.broker.PublishFanout(ctx, dest.Name, body)
	case KindQueue:
		err = pub.broker.PublishQueue(ctx, dest.Name, body)
	default:
		err = ErrUnknownChannelKind
	}

	if err != nil {
		// Swallowed: publication is a side effect, never a saga failure.
		pub.logger.Log(ctx, log.LevelError, "event dispatch failed",
			log.String("event_type", envelope.EventType),
			log.String("event_id", envelope.ID.String()),
			log.String("channel_kind", string(dest.Kind)),
			log.String("channel", dest.Name),
			log.Err(err))

		return
	}

	pub.logger.Log(ctx, log.LevelDebug, "event published",
		log.String("event_type", envelope.EventType),
		log.String("event_id", envelope.ID.String()),
		log.String("channel_kind", string(dest.Kind)),
		log.String("channel", dest.Name),
		log.String("priority", string(envelope.Priority)))
}
