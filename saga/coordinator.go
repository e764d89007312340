package saga

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/meridian-commerce/orchestrator/events"
	"github.com/meridian-commerce/orchestrator/log"
	"github.com/meridian-commerce/orchestrator/modules"
)

// ErrNilCoordinator is returned when a method is called on a nil Coordinator.
var ErrNilCoordinator = errors.New("saga coordinator is nil")

// defaultJoinTimeout bounds every join over concurrent saga tasks so one slow
// module cannot stall an aggregation indefinitely.
const defaultJoinTimeout = 5 * time.Second

// Locker serializes a critical section across service instances. A nil Locker
// means every guarded section runs optimistically.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Coordinator runs the cross-module sagas. All fields are read-only after
// construction; the coordinator is safe for concurrent use.
type Coordinator struct {
	users         modules.UserClient
	catalog       modules.CatalogClient
	orders        modules.OrderClient
	notifications modules.NotificationClient
	publisher     *events.Publisher
	locks         Locker
	logger        log.Logger
	tracer        trace.Tracer
	joinTimeout   time.Duration
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLocker wires a distributed lock manager used to reserve inventory
// between the availability check and order creation.
func WithLocker(locks Locker) CoordinatorOption {
	return func(co *Coordinator) {
		co.locks = locks
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger log.Logger) CoordinatorOption {
	return func(co *Coordinator) {
		if logger != nil {
			co.logger = logger
		}
	}
}

// WithTracer sets the tracer used for saga spans.
func WithTracer(tracer trace.Tracer) CoordinatorOption {
	return func(co *Coordinator) {
		if tracer != nil {
			co.tracer = tracer
		}
	}
}

// WithJoinTimeout overrides the bounded-join timeout.
func WithJoinTimeout(timeout time.Duration) CoordinatorOption {
	return func(co *Coordinator) {
		if timeout > 0 {
			co.joinTimeout = timeout
		}
	}
}

// NewCoordinator creates a saga coordinator over the module clients.
func NewCoordinator(
	users modules.UserClient,
	catalog modules.CatalogClient,
	orders modules.OrderClient,
	notifications modules.NotificationClient,
	publisher *events.Publisher,
	opts ...CoordinatorOption,
) (*Coordinator, error) {
	if users == nil || catalog == nil || orders == nil || notifications == nil {
		return nil, errors.New("all module clients are required")
	}

	co := &Coordinator{
		users:         users,
		catalog:       catalog,
		orders:        orders,
		notifications: notifications,
		publisher:     publisher,
		logger:        log.NewNop(),
		tracer:        noop.NewTracerProvider().Tracer("saga"),
		joinTimeout:   defaultJoinTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(co)
		}
	}

	return co, nil
}

// publish emits an event when a publisher is wired. Publication is a side
// effect and never fails the surrounding saga.
func (co *Coordinator) publish(ctx context.Context, eventType string, data any) {
	if co.publisher != nil {
		co.publisher.Publish(ctx, eventType, data)
	}
}
