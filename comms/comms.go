// Package comms provides the in-process task event bus used for
// orchestration observability.
package comms

import (
	"context"
	"time"

	"github.com/metamorphhq/metamorph/task"
)

// EventType identifies the kind of task lifecycle event.
type EventType string

const (
	EventPlanned    EventType = "planned"    // task persisted by the planner
	EventDispatched EventType = "dispatched" // task handed to a worker
	EventFinished   EventType = "finished"   // task reached a terminal status
)

// Event is a task lifecycle notification.
type Event struct {
	Type      EventType   `json:"type"`
	ProjectID int64       `json:"project_id"`
	TaskID    int64       `json:"task_id"`
	TaskType  task.Type   `json:"task_type"`
	Status    task.Status `json:"status,omitempty"`
	Worker    string      `json:"worker,omitempty"` // worker type tag that handled the task
	Detail    string      `json:"detail,omitempty"` // output excerpt or error text
	Timestamp time.Time   `json:"timestamp"`
}

// Handler processes published events. Handlers run on the publisher's
// goroutine and should return quickly.
type Handler func(ctx context.Context, ev Event)

// Bus fans task lifecycle events out to subscribers.
type Bus interface {
	// Publish delivers ev to all current subscribers.
	Publish(ctx context.Context, ev Event)

	// Subscribe registers a handler for all events.
	// Returns an unsubscribe function.
	Subscribe(handler Handler) (unsubscribe func())

	// History returns up to limit most recent events for the project
	// (all projects when projectID is zero), oldest first.
	History(projectID int64, limit int) []Event
}
