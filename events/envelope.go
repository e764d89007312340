// Package events routes domain events to publish/subscribe or work-queue
// destinations. Event names select a channel through an immutable destination
// table, with priority rules that force high-severity traffic onto fan-out
// channels for immediate multi-consumer visibility.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority indicates how urgently consumers should see an event.
type Priority string

const (
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// Category groups event types by the module that owns them.
type Category string

const (
	CategoryUser    Category = "USER"
	CategoryOrder   Category = "ORDER"
	CategorySystem  Category = "SYSTEM"
	CategoryGeneric Category = "GENERIC"
)

// Well-known event types emitted by the orchestration layer.
const (
	EventUserRegistered    = "USER_REGISTERED"
	EventOrderConfirmation = "ORDER_CONFIRMATION"
	EventOrderCancelled    = "ORDER_CANCELLED"
	EventOrderShipped      = "ORDER_SHIPPED"
	EventOrderDelivered    = "ORDER_DELIVERED"
	EventSystemError       = "SYSTEM_ERROR"
	EventSystemAlert       = "SYSTEM_ALERT"
	EventCriticalFailure   = "SYSTEM_CRITICAL_FAILURE"
	EventPrepareShutdown   = "SYSTEM_PREPARE_SHUTDOWN"
	EventInventoryChanged  = "SYSTEM_INVENTORY_CHANGED"
	EventHandlerError      = "SYSTEM_EVENT_HANDLER_ERROR"
)

// highPriorityOrderEvents are order-lifecycle events that must reach all
// consumers immediately, independent of any configured queue destination.
var highPriorityOrderEvents = map[string]struct{}{
	EventOrderCancelled: {},
	EventOrderShipped:   {},
	EventOrderDelivered: {},
}

// Envelope is the immutable wrapper around a published event. It is created
// fresh per publish call and never persisted by this layer.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Priority  Priority        `json:"priority"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope for eventType carrying data as its payload.
func NewEnvelope(eventType string, data any) (Envelope, error) {
	var payload json.RawMessage

	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode event payload: %w", err)
		}

		payload = encoded
	}

	return Envelope{
		ID:        uuid.New(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Priority:  Classify(eventType).Priority,
		Payload:   payload,
	}, nil
}

// Encode serializes the envelope for transport.
func (env Envelope) Encode() ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	return body, nil
}

// Classification is the derived category and priority of an event type.
type Classification struct {
	Category Category
	Priority Priority
	Severe   bool
}

// Classify derives the category and priority of an event type from its name.
// USER_/ORDER_/SYSTEM_ prefixes select the owning category; names denoting
// severity (error, alert, critical) and the high-priority order-lifecycle
// events are HIGH, everything else NORMAL.
func Classify(eventType string) Classification {
	normalized := strings.ToUpper(strings.TrimSpace(eventType))

	category := CategoryGeneric

	switch {
	case strings.HasPrefix(normalized, "USER_"):
		category = CategoryUser
	case strings.HasPrefix(normalized, "ORDER_"):
		category = CategoryOrder
	case strings.HasPrefix(normalized, "SYSTEM_"):
		category = CategorySystem
	}

	severe := strings.Contains(normalized, "ERROR") ||
		strings.Contains(normalized, "ALERT") ||
		strings.Contains(normalized, "CRITICAL")

	priority := PriorityNormal
	if severe {
		priority = PriorityHigh
	} else if _, ok := highPriorityOrderEvents[normalized]; ok {
		priority = PriorityHigh
	}

	return Classification{Category: category, Priority: priority, Severe: severe}
}
