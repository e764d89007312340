package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-commerce/orchestrator/events"
	"github.com/meridian-commerce/orchestrator/log"
	"github.com/meridian-commerce/orchestrator/runtime"
	"github.com/meridian-commerce/orchestrator/saga"
)

// Inbound service event types.
const (
	EventInventoryChanged  = "inventory_changed"
	EventUserStatusChanged = "user_status_changed"
	EventPaymentProcessed  = "payment_processed"
	EventSystemAlert       = "system_alert"
	EventShutdownRequested = "shutdown_requested"
)

// criticalEventTypes couple handler health to call admission: a handler
// failure for these types counts against the orchestration breaker.
var criticalEventTypes = map[string]struct{}{
	EventInventoryChanged: {},
	EventPaymentProcessed: {},
	EventSystemAlert:      {},
}

// HandleServiceEvent routes an inbound event to its handler. Handler
// failures come back as structured results; for critical event types the
// failure is also recorded against the orchestration breaker and an error
// event is re-published for observability.
func (svc *Service) HandleServiceEvent(ctx context.Context, eventType string, data map[string]any) saga.Result {
	ctx, span := svc.tracer.Start(ctx, "orchestrator.handle_service_event")
	defer span.End()

	if svc.lifecycle.ShuttingDown() && eventType != EventShutdownRequested {
		return saga.Fail(msgShuttingDown)
	}

	err := svc.routeEvent(ctx, eventType, data)
	if err == nil {
		return saga.Ok("event handled", map[string]any{"eventType": eventType})
	}

	svc.logger.Log(ctx, log.LevelError, "service event handler failed",
		log.String("event_type", eventType),
		log.Err(err))

	if _, critical := criticalEventTypes[eventType]; critical {
		svc.breakers.RecordFailure(breakerOrchestration, err)

		if svc.publisher != nil {
			svc.publisher.Publish(ctx, events.EventHandlerError, map[string]any{
				"eventType": eventType,
				"error":     err.Error(),
			})
		}
	}

	return saga.Fail(fmt.Sprintf("event handling failed: %s", eventType))
}

func (svc *Service) routeEvent(ctx context.Context, eventType string, data map[string]any) error {
	switch eventType {
	case EventInventoryChanged:
		return svc.handleInventoryChanged(ctx, data)
	case EventUserStatusChanged:
		return svc.handleUserStatusChanged(ctx, data)
	case EventPaymentProcessed:
		return svc.handlePaymentProcessed(ctx, data)
	case EventSystemAlert:
		return svc.handleSystemAlert(ctx, data)
	case EventShutdownRequested:
		// Shutdown runs off the caller's goroutine; the event source must not
		// block on the drain.
		runtime.SafeGo(svc.lifecycle.Context(), svc.logger, "orchestrator", "graceful-shutdown",
			func(ctx context.Context) {
				svc.InitiateGracefulShutdown(ctx)
			})

		return nil
	}

	return fmt.Errorf("unknown service event type %q", eventType)
}

// handleInventoryChanged re-checks availability for the changed product off
// the caller's goroutine and rebroadcasts the change.
func (svc *Service) handleInventoryChanged(ctx context.Context, data map[string]any) error {
	productID := stringField(data, "productId")
	if productID == "" {
		return errors.New("inventory event missing productId")
	}

	err := svc.tasks.Submit("inventory-refresh", func(taskCtx context.Context) {
		if _, checkErr := svc.catalog.GetProducts(taskCtx, "", 1, 1); checkErr != nil {
			svc.logger.Log(taskCtx, log.LevelWarn, "inventory refresh probe failed",
				log.String("product_id", productID), log.Err(checkErr))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule inventory refresh: %w", err)
	}

	if svc.publisher != nil {
		svc.publisher.Publish(ctx, events.EventInventoryChanged, data)
	}

	return nil
}

// handleUserStatusChanged verifies the referenced user still resolves.
func (svc *Service) handleUserStatusChanged(ctx context.Context, data map[string]any) error {
	userID := stringField(data, "userId")
	if userID == "" {
		return errors.New("user status event missing userId")
	}

	valid, err := svc.users.ValidateUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("validate user %s: %w", userID, err)
	}

	if !valid {
		return fmt.Errorf("user status event for unknown user %s", userID)
	}

	active, err := svc.users.IsUserActive(ctx, userID)
	if err != nil {
		return fmt.Errorf("check user %s active: %w", userID, err)
	}

	svc.logger.Log(ctx, log.LevelInfo, "user status changed",
		log.String("user_id", userID), log.Bool("active", active))

	return nil
}

// handlePaymentProcessed confirms the referenced order exists and publishes
// the confirmation event.
func (svc *Service) handlePaymentProcessed(ctx context.Context, data map[string]any) error {
	orderID := stringField(data, "orderId")
	if orderID == "" {
		return errors.New("payment event missing orderId")
	}

	order, err := svc.orders.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("resolve paid order %s: %w", orderID, err)
	}

	if svc.publisher != nil {
		svc.publisher.Publish(ctx, events.EventOrderConfirmation, map[string]any{
			"orderId": order.ID,
			"userId":  order.UserID,
		})
	}

	return nil
}

// handleSystemAlert rebroadcasts the alert on the events plane.
func (svc *Service) handleSystemAlert(ctx context.Context, data map[string]any) error {
	if svc.publisher == nil {
		return errors.New("no event publisher wired for system alerts")
	}

	svc.publisher.Publish(ctx, events.EventSystemAlert, data)

	return nil
}
