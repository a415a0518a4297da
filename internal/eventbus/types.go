package eventbus

import (
	"context"
	"time"

	"github.com/stratadb/strata/internal/types"
)

// EventType identifies an event flowing through the bus.
type EventType string

const (
	// Resource mutation events.
	EventAfterInsert EventType = "afterInsert"
	EventAfterUpdate EventType = "afterUpdate"
	EventAfterDelete EventType = "afterDelete"

	// Eventual-consistency plugin events.
	EventECStarted            EventType = "plg:eventual-consistency:started"
	EventECStopped            EventType = "plg:eventual-consistency:stopped"
	EventECConsolidated       EventType = "plg:eventual-consistency:consolidated"
	EventECConsolidationError EventType = "plg:eventual-consistency:consolidation-error"
	EventECGCCompleted        EventType = "plg:eventual-consistency:gc-completed"
	EventECGCError            EventType = "plg:eventual-consistency:gc-error"
)

// Event is one occurrence dispatched through the bus.
type Event struct {
	Type     EventType
	Resource string
	Record   types.Record   // populated for resource mutation events
	Payload  map[string]any // event-specific metrics and fields
	Err      error          // populated for error events
	Time     time.Time
}

// Handler consumes events of the types it declares.
type Handler interface {
	ID() string
	Handles() []EventType
	Priority() int
	Handle(ctx context.Context, event *Event) error
}

// ConsolidatedPayload builds the payload of an EventECConsolidated event.
func ConsolidatedPayload(resource, field string, recordCount, successCount, errorCount int, duration time.Duration) map[string]any {
	return map[string]any{
		"resource":     resource,
		"field":        field,
		"recordCount":  recordCount,
		"successCount": successCount,
		"errorCount":   errorCount,
		"duration":     duration,
	}
}
