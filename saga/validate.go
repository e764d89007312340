package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-commerce/orchestrator/modules"
)

// ErrUnknownOperation is returned when ValidateServiceConstraints is asked
// about an operation it has no predicate set for. Unknown operations are a
// configuration error and fail loudly instead of defaulting to a verdict.
var ErrUnknownOperation = errors.New("unknown validation operation")

// Validated operations.
const (
	OpPlaceOrder        = "place_order"
	OpUpdatePreferences = "update_preferences"
	OpSendNotification  = "send_notification"
)

// ValidateServiceConstraints evaluates the cross-module predicate set for
// operation against data. All predicates must hold for a true verdict; a
// failed downstream call counts as a failed predicate.
func (co *Coordinator) ValidateServiceConstraints(ctx context.Context, operation string, data map[string]any) (bool, error) {
	if co == nil {
		return false, ErrNilCoordinator
	}

	ctx, span := co.tracer.Start(ctx, "saga.constraint_validation")
	defer span.End()

	switch operation {
	case OpPlaceOrder:
		return co.validatePlaceOrder(ctx, data), nil
	case OpUpdatePreferences:
		return co.boolCall(func() (bool, error) {
			return co.users.ValidateUser(ctx, stringField(data, "userId"))
		}), nil
	case OpSendNotification:
		return co.boolCall(func() (bool, error) {
			return co.users.HasOptedIn(ctx, stringField(data, "userId"), stringField(data, "notificationType"))
		}), nil
	}

	return false, fmt.Errorf("%w: %q", ErrUnknownOperation, operation)
}

// validatePlaceOrder requires an active user, available products and
// order-volume headroom, all at once.
func (co *Coordinator) validatePlaceOrder(ctx context.Context, data map[string]any) bool {
	userID := stringField(data, "userId")
	items := itemsField(data)

	if !co.boolCall(func() (bool, error) { return co.users.IsUserActive(ctx, userID) }) {
		return false
	}

	avail, err := co.catalog.CheckAvailability(ctx, items)
	if err != nil || !avail.Available {
		return false
	}

	draft := modules.OrderDraft{UserID: userID, Items: items}

	return co.boolCall(func() (bool, error) {
		return co.orders.CheckOrderLimits(ctx, userID, draft)
	})
}

func (co *Coordinator) boolCall(call func() (bool, error)) bool {
	ok, err := call()

	return err == nil && ok
}

func stringField(data map[string]any, key string) string {
	value, _ := data[key].(string)

	return value
}

// itemsField extracts order items from data, accepting both the typed slice
// and the generic decoded-JSON shape.
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

			if qty, ok := fields["quantity"].(float64); ok {
				item.Quantity = int(qty)
			} else if qty, ok := fields["quantity"].(int); ok {
				item.Quantity = qty
			}

			items = append(items, item)
		}

		return items
	}

	return nil
}
