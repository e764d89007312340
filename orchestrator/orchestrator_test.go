package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-commerce/orchestrator/breaker"
	"github.com/meridian-commerce/orchestrator/events"
	"github.com/meridian-commerce/orchestrator/log"
	"github.com/meridian-commerce/orchestrator/modules"
	"github.com/meridian-commerce/orchestrator/modules/memory"
	"github.com/meridian-commerce/orchestrator/saga"
)

type fixture struct {
	users         *memory.UserStore
	catalog       *memory.CatalogStore
	orders        *memory.OrderStore
	notifications *memory.Notifier
	broker        *captureBroker
	service       *Service
}

type captureBroker struct {
	fanouts []string
	queues  []string
}

func (br *captureBroker) PublishFanout(_ context.Context, topic string, _ []byte) error {
	br.fanouts = append(br.fanouts, topic)
	return nil
}

func (br *captureBroker) PublishQueue(_ context.Context, queue string, _ []byte) error {
	br.queues = append(br.queues, queue)
	return nil
}

func (br *captureBroker) Close(_ context.Context) error { return nil }

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()

	fx := &fixture{
		users:         memory.NewUserStore(),
		catalog:       memory.NewCatalogStore(),
		orders:        memory.NewOrderStore(),
		notifications: memory.NewNotifier(),
		broker:        &captureBroker{},
	}

	publisher := events.NewPublisher(fx.broker, log.NewNop())

	coordinator, err := saga.NewCoordinator(fx.users, fx.catalog, fx.orders, fx.notifications, publisher)
	require.NoError(t, err)

	service, err := NewService(coordinator, fx.users, fx.catalog, fx.orders, fx.notifications, publisher, opts...)
	require.NoError(t, err)

	fx.service = service

	return fx
}

func TestGetUsers_FallbackWhenModuleDown(t *testing.T) {
	fx := newFixture(t)
	fx.users.FailWith("GetUsers", errors.New("user module down"))

	result := fx.service.GetUsers(context.Background(), 1, 10)

	assert.False(t, result.Success)
	assert.Equal(t, msgUnavailable, result.Message)
}

func TestGetUsers_Success(t *testing.T) {
	fx := newFixture(t)
	fx.users.Seed(modules.User{ID: "u1", Active: true})

	result := fx.service.GetUsers(context.Background(), 1, 10)

	require.True(t, result.Success)
	users, ok := result.Data["users"].([]modules.User)
	require.True(t, ok)
	assert.Len(t, users, 1)
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	fx := newFixture(t, WithBreakerConfig(breaker.Config{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	}))
	fx.users.FailWith("GetUsers", errors.New("user module down"))

	for i := 0; i < 3; i++ {
		fx.service.GetUsers(context.Background(), 1, 10)
	}

	assert.Equal(t, breaker.StateOpen, fx.service.Breakers().State(breakerUsers))

	// While open the module is not touched.
	before := fx.users.Calls("GetUsers")
	result := fx.service.GetUsers(context.Background(), 1, 10)

	assert.False(t, result.Success)
	assert.Equal(t, before, fx.users.Calls("GetUsers"))
}

func TestProcessOrderWorkflow(t *testing.T) {
	fx := newFixture(t)
	fx.users.Seed(modules.User{ID: "u1", Active: true})
	fx.catalog.Seed(modules.Product{ID: "p1", Stock: 5})

	result := fx.service.ProcessOrderWorkflow(context.Background(), map[string]any{
		"userId": "u1",
		"items":  []modules.OrderItem{{ProductID: "p1", Quantity: 1}},
	})

	require.True(t, result.Success)
	assert.Equal(t, 1, fx.orders.Calls("CreateOrder"))
}

func TestProcessUserRequest_Register(t *testing.T) {
	fx := newFixture(t)

	result, err := fx.service.ProcessUserRequest(context.Background(), RequestRegister, map[string]any{
		"email": "a@example.com",
		"name":  "Ada",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Contains(t, result.Data, "user")
}

func TestProcessUserRequest_AggregateUnknownTypePropagates(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.service.ProcessUserRequest(context.Background(), RequestAggregate, map[string]any{
		"dataType": "warehouse_totals",
	})
	assert.ErrorIs(t, err, saga.ErrUnknownDataType)
}

func TestProcessUserRequest_ValidateRunsBehindBreaker(t *testing.T) {
	fx := newFixture(t, WithBreakerConfig(breaker.Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	}))
	fx.users.Seed(modules.User{ID: "u1", Active: true})

	// Trip the orchestration breaker.
	fx.service.Breakers().RecordFailure(breakerOrchestration, errors.New("downstream failure"))
	require.Equal(t, breaker.StateOpen, fx.service.Breakers().State(breakerOrchestration))

	result, err := fx.service.ProcessUserRequest(context.Background(), RequestValidate, map[string]any{
		"operation": saga.OpPlaceOrder,
		"userId":    "u1",
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, msgUnavailable, result.Message)
	assert.Zero(t, fx.users.Calls("IsUserActive"), "modules untouched while breaker open")
	assert.Zero(t, fx.catalog.Calls("CheckAvailability"))
	assert.Zero(t, fx.orders.Calls("CheckOrderLimits"))
}

func TestProcessUserRequest_ValidateSatisfied(t *testing.T) {
	fx := newFixture(t)
	fx.users.Seed(modules.User{ID: "u1", Active: true})
	fx.catalog.Seed(modules.Product{ID: "p1", Stock: 5})

	result, err := fx.service.ProcessUserRequest(context.Background(), RequestValidate, map[string]any{
		"operation": saga.OpPlaceOrder,
		"userId":    "u1",
		"items":     []modules.OrderItem{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestProcessUserRequest_ValidateUnknownOperationPropagates(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.service.ProcessUserRequest(context.Background(), RequestValidate, map[string]any{
		"operation": "teleport_order",
	})
	assert.ErrorIs(t, err, saga.ErrUnknownOperation)
	assert.EqualValues(t, 0, fx.service.Breakers().Counts(breakerOrchestration).ConsecutiveFailures,
		"configuration errors do not count against the breaker")
}

func TestProcessUserRequest_UnknownTypeIsStructuredFailure(t *testing.T) {
	fx := newFixture(t)

	result, err := fx.service.ProcessUserRequest(context.Background(), "mystery", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestHandleServiceEvent_PaymentProcessed(t *testing.T) {
	fx := newFixture(t)
	fx.users.Seed(modules.User{ID: "u1", Active: true})

	order, err := fx.orders.CreateOrder(context.Background(), modules.OrderDraft{
		UserID: "u1",
		Items:  []modules.OrderItem{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)

	result := fx.service.HandleServiceEvent(context.Background(), EventPaymentProcessed, map[string]any{
		"orderId": order.ID,
	})

	require.True(t, result.Success)
	assert.Contains(t, fx.broker.queues, events.OrderProcessingQueue)
}

func TestHandleServiceEvent_CriticalFailureFeedsBreaker(t *testing.T) {
	fx := newFixture(t)
	fx.orders.FailWith("GetOrder", errors.New("order module down"))

	result := fx.service.HandleServiceEvent(context.Background(), EventPaymentProcessed, map[string]any{
		"orderId": "ord-1",
	})

	assert.False(t, result.Success)
	assert.EqualValues(t, 1, fx.service.Breakers().Counts(breakerOrchestration).ConsecutiveFailures)
	assert.Contains(t, fx.broker.queues, events.AuditQueue, "handler error event republished")
}

func TestHandleServiceEvent_NonCriticalFailureDoesNotFeedBreaker(t *testing.T) {
	fx := newFixture(t)

	result := fx.service.HandleServiceEvent(context.Background(), EventUserStatusChanged, map[string]any{
		"userId": "ghost",
	})

	assert.False(t, result.Success)
	assert.EqualValues(t, 0, fx.service.Breakers().Counts(breakerOrchestration).ConsecutiveFailures)
}

func TestHandleServiceEvent_UnknownType(t *testing.T) {
	fx := newFixture(t)

	result := fx.service.HandleServiceEvent(context.Background(), "solar_flare", nil)
	assert.False(t, result.Success)
}

func TestGracefulShutdown(t *testing.T) {
	fx := newFixture(t, WithShutdownGrace(2*time.Second))

	result := fx.service.InitiateGracefulShutdown(context.Background())
	require.True(t, result.Success)

	assert.Contains(t, fx.broker.fanouts, events.BroadcastTopic, "prepare-shutdown broadcast")
	assert.Equal(t, 1, fx.users.Calls("Shutdown"))
	assert.Equal(t, 1, fx.catalog.Calls("Shutdown"))
	assert.Equal(t, 1, fx.orders.Calls("Shutdown"))
	assert.Equal(t, 1, fx.notifications.Calls("Shutdown"))

	// Subsequent calls are rejected without touching the breaker or modules.
	before := fx.users.Calls("GetUsers")
	rejected := fx.service.GetUsers(context.Background(), 1, 10)

	assert.False(t, rejected.Success)
	assert.Equal(t, msgShuttingDown, rejected.Message)
	assert.Equal(t, before, fx.users.Calls("GetUsers"))
	assert.Equal(t, breaker.StateUnknown, fx.service.Breakers().State(breakerUsers), "breaker never exercised")

	// Idempotent.
	again := fx.service.InitiateGracefulShutdown(context.Background())
	assert.True(t, again.Success)
	assert.Equal(t, 1, fx.users.Calls("Shutdown"))
}
