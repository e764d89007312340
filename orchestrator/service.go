package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/meridian-commerce/orchestrator/breaker"
	"github.com/meridian-commerce/orchestrator/events"
	"github.com/meridian-commerce/orchestrator/log"
	"github.com/meridian-commerce/orchestrator/modules"
	"github.com/meridian-commerce/orchestrator/pool"
	"github.com/meridian-commerce/orchestrator/saga"
)

// Breaker names. Reads are guarded per downstream module; sagas and event
// handling share the orchestration breaker so that event-handler failures
// gate saga admission.
const (
	breakerUsers         = "user-module"
	breakerCatalog       = "catalog-module"
	breakerOrders        = "order-module"
	breakerOrchestration = "orchestration"
)

// Messages of the structured non-success results every public operation can
// return in place of an error.
const (
	msgUnavailable  = "service temporarily unavailable"
	msgShuttingDown = "service is shutting down"
)

// defaultShutdownGrace bounds the wait for in-flight asynchronous tasks
// during graceful shutdown.
const defaultShutdownGrace = 10 * time.Second

// Request types accepted by ProcessUserRequest.
const (
	RequestRegister  = "register"
	RequestAggregate = "aggregate"
	RequestValidate  = "validate"
)

// Service is the orchestration entry point. All fields are read-only after
// construction; concurrent callers share the breakers and the task pool.
type Service struct {
	coordinator   *saga.Coordinator
	users         modules.UserClient
	catalog       modules.CatalogClient
	orders        modules.OrderClient
	notifications modules.NotificationClient
	publisher     *events.Publisher
	breakers      *breaker.Registry
	tasks         *pool.Pool
	lifecycle     *Lifecycle
	logger        log.Logger
	tracer        trace.Tracer
	shutdownGrace time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger log.Logger) ServiceOption {
	return func(svc *Service) {
		if logger != nil {
			svc.logger = logger
		}
	}
}

// WithTracer sets the tracer for operation spans.
func WithTracer(tracer trace.Tracer) ServiceOption {
	return func(svc *Service) {
		if tracer != nil {
			svc.tracer = tracer
		}
	}
}

// WithShutdownGrace overrides the bounded drain timeout used during graceful
// shutdown.
func WithShutdownGrace(grace time.Duration) ServiceOption {
	return func(svc *Service) {
		if grace > 0 {
			svc.shutdownGrace = grace
		}
	}
}

// WithBreakerConfig sets the default circuit breaker configuration.
func WithBreakerConfig(config breaker.Config) ServiceOption {
	return func(svc *Service) {
		svc.breakers = breaker.NewRegistry(config, svc.logger)
	}
}

// WithTaskPool replaces the default asynchronous task pool.
func WithTaskPool(tasks *pool.Pool) ServiceOption {
	return func(svc *Service) {
		if tasks != nil {
			svc.tasks = tasks
		}
	}
}

// NewService builds the orchestration service over the module clients, the
// saga coordinator and the event publisher.
func NewService(
	coordinator *saga.Coordinator,
	users modules.UserClient,
	catalog modules.CatalogClient,
	orders modules.OrderClient,
	notifications modules.NotificationClient,
	publisher *events.Publisher,
	opts ...ServiceOption,
) (*Service, error) {
	if coordinator == nil {
		return nil, errors.New("saga coordinator is required")
	}

	if users == nil || catalog == nil || orders == nil || notifications == nil {
		return nil, errors.New("all module clients are required")
	}

	svc := &Service{
		coordinator:   coordinator,
		users:         users,
		catalog:       catalog,
		orders:        orders,
		notifications: notifications,
		publisher:     publisher,
		lifecycle:     NewLifecycle(),
		logger:        log.NewNop(),
		tracer:        noop.NewTracerProvider().Tracer("orchestrator"),
		shutdownGrace: defaultShutdownGrace,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}

	if svc.breakers == nil {
		svc.breakers = breaker.NewRegistry(breaker.DefaultConfig(), svc.logger)
	}

	if svc.tasks == nil {
		svc.tasks = pool.New(svc.logger)
	}

	return svc, nil
}

// Breakers exposes the breaker registry for health inspection.
func (svc *Service) Breakers() *breaker.Registry {
	if svc == nil {
		return nil
	}

	return svc.breakers
}

// guarded wraps op in the shutdown gate and the named circuit breaker. While
// shutting down the breaker and downstream modules are never touched.
func (svc *Service) guarded(ctx context.Context, name string, op func() (any, error), fallback func() any) any {
	if svc.lifecycle.ShuttingDown() {
		return saga.Fail(msgShuttingDown)
	}

	return svc.breakers.Execute(ctx, name, op, fallback)
}

func unavailable() any {
	return saga.Fail(msgUnavailable)
}

// GetUsers returns a page of users, or a structured fallback result.
func (svc *Service) GetUsers(ctx context.Context, page, size int) saga.Result {
	ctx, span := svc.tracer.Start(ctx, "orchestrator.get_users")
	defer span.End()

	result := svc.guarded(ctx, breakerUsers, func() (any, error) {
		users, err := svc.users.GetUsers(ctx, page, size)
		if err != nil {
			return nil, err
		}

		return saga.Ok("users fetched", map[string]any{"users": users, "page": page}), nil
	}, unavailable)

	return result.(saga.Result)
}

// GetProducts returns a page of catalog products for a category.
func (svc *Service) GetProducts(ctx context.Context, category string, page, size int) saga.Result {
	ctx, span := svc.tracer.Start(ctx, "orchestrator.get_products")
	defer span.End()

	result := svc.guarded(ctx, breakerCatalog, func() (any, error) {
		products, err := svc.catalog.GetProducts(ctx, category, page, size)
		if err != nil {
			return nil, err
		}

		return saga.Ok("products fetched", map[string]any{"products": products, "page": page}), nil
	}, unavailable)

	return result.(saga.Result)
}

// GetOrders returns a user's order history.
func (svc *Service) GetOrders(ctx context.Context, userID string) saga.Result {
	ctx, span := svc.tracer.Start(ctx, "orchestrator.get_orders")
	defer span.End()

	result := svc.guarded(ctx, breakerOrders, func() (any, error) {
		orders, err := svc.orders.GetOrderHistory(ctx, userID, 0)
		if err != nil {
			return nil, err
		}

		return saga.Ok("orders fetched", map[string]any{"orders": orders}), nil
	}, unavailable)

	return result.(saga.Result)
}

// ProcessUserRequest routes a typed user request to the matching saga.
// Business and transient failures come back as structured results; only an
// unknown validation operation propagates as an error.
func (svc *Service) ProcessUserRequest(ctx context.Context, requestType string, data map[string]any) (saga.Result, error) {
	ctx, span := svc.tracer.Start(ctx, "orchestrator.process_user_request")
	defer span.End()

	if svc.lifecycle.ShuttingDown() {
		return saga.Fail(msgShuttingDown), nil
	}

	switch requestType {
	case RequestRegister:
		result := svc.guarded(ctx, breakerOrchestration, func() (any, error) {
			return svc.coordinator.CoordinateUserRegistration(ctx, modules.NewUser{
				Email: stringField(data, "email"),
				Name:  stringField(data, "name"),
			}), nil
		}, unavailable)

		return result.(saga.Result), nil

	case RequestAggregate:
		dataType := stringField(data, "dataType")
		filters := stringMapField(data, "filters")

		var aggErr error

		result := svc.guarded(ctx, breakerOrchestration, func() (any, error) {
			aggregated, err := svc.coordinator.FetchAggregatedData(ctx, dataType, filters)
			if err != nil {
				// Configuration error: propagate loudly, but do not count it
				// against the breaker.
				aggErr = err

				return saga.Result{}, nil
			}

			return aggregated, nil
		}, unavailable)

		if aggErr != nil {
			return saga.Result{}, aggErr
		}

		return result.(saga.Result), nil

	case RequestValidate:
		operation := stringField(data, "operation")

		var validateErr error

		result := svc.guarded(ctx, breakerOrchestration, func() (any, error) {
			valid, err := svc.coordinator.ValidateServiceConstraints(ctx, operation, data)
			if err != nil {
				// Configuration error: propagate loudly, but do not count it
				// against the breaker.
				validateErr = err

				return saga.Result{}, nil
			}

			if !valid {
				return saga.Fail("constraints not satisfied"), nil
			}

			return saga.Ok("constraints satisfied", nil), nil
		}, unavailable)

		if validateErr != nil {
			return saga.Result{}, validateErr
		}

		return result.(saga.Result), nil
	}

	return saga.Fail("unknown request type: " + requestType), nil
}

// ProcessOrderWorkflow runs the order placement saga behind the orchestration
// breaker.
func (svc *Service) ProcessOrderWorkflow(ctx context.Context, data map[string]any) saga.Result {
	ctx, span := svc.tracer.Start(ctx, "orchestrator.process_order_workflow")
	defer span.End()

	if svc.lifecycle.ShuttingDown() {
		return saga.Fail(msgShuttingDown)
	}

	request := saga.OrderRequest{
		Draft: modules.OrderDraft{
			UserID: stringField(data, "userId"),
			Items:  itemsField(data),
		},
		PaymentRef: stringField(data, "paymentRef"),
	}

	result := svc.guarded(ctx, breakerOrchestration, func() (any, error) {
		return svc.coordinator.ProcessOrderPlacement(ctx, request), nil
	}, unavailable)

	return result.(saga.Result)
}

func stringField(data map[string]any, key string) string {
	value, _ := data[key].(string)

	return value
}

func stringMapField(data map[string]any, key string) map[string]string {
	switch raw := data[key].(type) {
	case map[string]string:
		return raw
	case map[string]any:
		out := make(map[string]string, len(raw))

		for k, v := range raw {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}

		return out
	}

	return nil
}

func itemsField(data map[string]any) []modules.OrderItem {
	switch raw := data["items"].(type) {
	case []modules.OrderItem:
		return raw
	case []any:
		items := make([]modules.OrderItem, 0, len(raw))

		for _, entry := range raw {
			fields, ok := entry.(map[string]any)
			if !ok {
				continue
			}

			item := modules.OrderItem{ProductID: stringField(fields, "productId")}

			switch qty := fields["quantity"].(type) {
			case float64:
				item.Quantity = int(qty)
			case int:
				item.Quantity = qty
			}

			items = append(items, item)
		}

		return items
	}

	return nil
}
