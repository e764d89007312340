package saga

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/meridian-commerce/orchestrator/events"
	"github.com/meridian-commerce/orchestrator/log"
	"github.com/meridian-commerce/orchestrator/modules"
)

// OrderRequest is the input of the order placement saga. PaymentRef is set
// when payment was already settled upstream; a failure after that point is a
// critical inconsistency rather than an ordinary rejection.
type OrderRequest struct {
	Draft      modules.OrderDraft
	PaymentRef string
}

// ProcessOrderPlacement runs the order placement saga: user eligibility,
// product availability, order-volume limits, order creation, then a
// fire-and-forget confirmation event. Availability, limits and creation run
// under a per-order inventory reservation lock when a lock manager is wired;
// if the lock service is unavailable the saga degrades to the optimistic path
// rather than refusing orders.
func (co *Coordinator) ProcessOrderPlacement(ctx context.Context, req OrderRequest) Result {
	if co == nil {
		return Fail("coordinator not available")
	}

	ctx, span := co.tracer.Start(ctx, "saga.order_placement")
	defer span.End()

	span.SetAttributes(attribute.String("order.user_id", req.Draft.UserID))

	if failure := co.runSteps(ctx, "order_placement", []step{
		{name: "validate_user", run: func(ctx context.Context) *Result {
			return co.validateOrderingUser(ctx, req.Draft.UserID)
		}},
	}); failure != nil {
		return *failure
	}

	var order modules.Order

	reserved := co.runReserved(ctx, req.Draft, func(ctx context.Context) *Result {
		failure := co.runSteps(ctx, "order_placement", []step{
			{name: "check_availability", run: func(ctx context.Context) *Result {
				return co.checkAvailability(ctx, req.Draft.Items)
			}},
			{name: "check_order_limits", run: func(ctx context.Context) *Result {
				return co.checkOrderLimits(ctx, req.Draft)
			}},
			{name: "create_order", run: func(ctx context.Context) *Result {
				created, err := co.orders.CreateOrder(ctx, req.Draft)
				if err != nil {
					return co.orderCreationFailure(ctx, req, err)
				}

				order = created

				return nil
			}},
		})

		return failure
	})
	if reserved != nil {
		return *reserved
	}

	span.SetAttributes(attribute.String("order.id", order.ID))

	// Fire-and-forget: confirmation never gates the saga's success.
	co.publish(ctx, events.EventOrderConfirmation, map[string]any{
		"orderId": order.ID,
		"userId":  order.UserID,
		"total":   order.TotalCents,
	})

	return Ok("order placed", map[string]any{"order": order})
}

// runReserved executes fn under the inventory reservation lock for the
// draft's products. When no lock manager is wired, or acquisition fails, fn
// runs optimistically with a warning.
func (co *Coordinator) runReserved(ctx context.Context, draft modules.OrderDraft, fn func(context.Context) *Result) *Result {
	if co.locks == nil {
		return fn(ctx)
	}

	var result *Result

	err := co.locks.WithLock(ctx, reservationKey(draft.Items), func(ctx context.Context) error {
		result = fn(ctx)

		return nil
	})
	if err != nil {
		co.logger.Log(ctx, log.LevelWarn, "inventory reservation lock unavailable, proceeding optimistically",
			log.String("user_id", draft.UserID), log.Err(err))

		return fn(ctx)
	}

	return result
}

// reservationKey derives a stable lock key from the order's product IDs so
// concurrent orders for the same stock contend on the same lock.
func reservationKey(items []modules.OrderItem) string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	sort.Strings(ids)

	return "reservation:" + strings.Join(ids, ",")
}

func (co *Coordinator) validateOrderingUser(ctx context.Context, userID string) *Result {
	valid, err := co.users.ValidateUser(ctx, userID)
	if err != nil || !valid {
		failure := Fail("user not valid")

		return &failure
	}

	active, err := co.users.IsUserActive(ctx, userID)
	if err != nil || !active {
		failure := Fail("user not valid")

		return &failure
	}

	return nil
}

func (co *Coordinator) checkAvailability(ctx context.Context, items []modules.OrderItem) *Result {
	avail, err := co.catalog.CheckAvailability(ctx, items)
	if err != nil {
		failure := Fail("availability check failed")

		return &failure
	}

	if !avail.Available {
		failure := FailWithData("products unavailable", map[string]any{
			"unavailable": avail.Unavailable,
		})

		return &failure
	}

	return nil
}

func (co *Coordinator) checkOrderLimits(ctx context.Context, draft modules.OrderDraft) *Result {
	within, err := co.orders.CheckOrderLimits(ctx, draft.UserID, draft)
	if err != nil || !within {
		failure := Fail("order exceeds limits")

		return &failure
	}

	return nil
}

// orderCreationFailure distinguishes the ordinary creation failure from the
// critical inconsistency where payment already settled. The latter is
// reported for operator intervention and never auto-compensated.
func (co *Coordinator) orderCreationFailure(ctx context.Context, req OrderRequest, err error) *Result {
	if req.PaymentRef == "" {
		co.logger.Log(ctx, log.LevelError, "order creation failed",
			log.String("user_id", req.Draft.UserID), log.Err(err))

		failure := Fail("order creation failed")

		return &failure
	}

	co.logger.Log(ctx, log.LevelError, "critical: payment settled but order creation failed",
		log.String("user_id", req.Draft.UserID),
		log.String("payment_ref", req.PaymentRef),
		log.Err(err))

	co.publish(ctx, events.EventCriticalFailure, map[string]any{
		"userId":     req.Draft.UserID,
		"paymentRef": req.PaymentRef,
		"reason":     fmt.Sprintf("order creation failed after payment settled: %v", err),
	})

	failure := Fail("critical failure: payment settled but order was not created, operator intervention required")

	return &failure
}
