package events

import (
	"errors"
	"fmt"
	"strings"
)

// ChannelKind distinguishes fan-out topics from work queues.
type ChannelKind string

const (
	// KindFanout delivers a copy of each event to every subscriber.
	KindFanout ChannelKind = "FANOUT"

	// KindQueue delivers each event to exactly one consumer.
	KindQueue ChannelKind = "QUEUE"
)

// ErrUnknownChannelKind is returned when a destination names a kind that is
// neither FANOUT nor QUEUE.
var ErrUnknownChannelKind = errors.New("unknown channel kind")

// Default channel names used when an event type has no configured destination.
const (
	BroadcastTopic       = "events.broadcast"
	AlertsTopic          = "system.alerts"
	OrderEventsTopic     = "orders.events"
	OrderProcessingQueue = "orders.processing"
	AuditQueue           = "system.audit"
	NotificationQueue    = "notifications.outbound"
)

// Destination is one routing target: a named fan-out topic or work queue.
type Destination struct {
	Kind ChannelKind
	Name string
}

// ParseChannelKind converts a configuration string into a ChannelKind.
func ParseChannelKind(raw string) (ChannelKind, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "FANOUT":
		return KindFanout, nil
	case "QUEUE":
		return KindQueue, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownChannelKind, raw)
}

// DestinationTable maps event types to destinations. It is populated once at
// startup and read-only afterwards.
type DestinationTable struct {
	entries map[string]Destination
}

// NewDestinationTable copies entries into an immutable table. Event type keys
// are matched case-insensitively.
func NewDestinationTable(entries map[string]Destination) (*DestinationTable, error) {
	table := make(map[string]Destination, len(entries))

	for eventType, dest := range entries {
		if dest.Kind != KindFanout && dest.Kind != KindQueue {
			return nil, fmt.Errorf("destination for %q: %w: %q", eventType, ErrUnknownChannelKind, dest.Kind)
		}

		if strings.TrimSpace(dest.Name) == "" {
			return nil, fmt.Errorf("destination for %q: channel name is empty", eventType)
		}

		table[strings.ToUpper(strings.TrimSpace(eventType))] = dest
	}

	return &DestinationTable{entries: table}, nil
}

// DefaultDestinationTable is the built-in routing table covering the
// well-known event types.
func DefaultDestinationTable() *DestinationTable {
	table, _ := NewDestinationTable(map[string]Destination{
		EventUserRegistered:    {Kind: KindFanout, Name: BroadcastTopic},
		EventOrderConfirmation: {Kind: KindQueue, Name: OrderProcessingQueue},
		EventOrderCancelled:    {Kind: KindQueue, Name: OrderProcessingQueue},
		EventOrderShipped:      {Kind: KindQueue, Name: OrderProcessingQueue},
		EventOrderDelivered:    {Kind: KindQueue, Name: OrderProcessingQueue},
		EventSystemError:       {Kind: KindFanout, Name: AlertsTopic},
		EventSystemAlert:       {Kind: KindFanout, Name: AlertsTopic},
		EventCriticalFailure:   {Kind: KindFanout, Name: AlertsTopic},
		EventPrepareShutdown:   {Kind: KindFanout, Name: BroadcastTopic},
	})

	return table
}

// Resolve returns the destination for eventType. Unmapped event types fall
// back to a category default: severe system events go to the alerts topic,
// everything else to the generic broadcast topic.
func (table *DestinationTable) Resolve(eventType string, class Classification) Destination {
	if table != nil {
		if dest, ok := table.entries[strings.ToUpper(strings.TrimSpace(eventType))]; ok {
			return dest
		}
	}

	if class.Category == CategorySystem && class.Severe {
		return Destination{Kind: KindFanout, Name: AlertsTopic}
	}

	return Destination{Kind: KindFanout, Name: BroadcastTopic}
}
