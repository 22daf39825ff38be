// Package events provides an event system for worker and task lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	// EventWorkerReady is emitted when a worker completes the bootstrap handshake
	EventWorkerReady EventType = "worker_ready"
	// EventBootstrapFailed is emitted when a worker fails to attach or instantiate
	EventBootstrapFailed EventType = "bootstrap_failed"
	// EventWorkerTerminated is emitted when a worker leaves the pool
	EventWorkerTerminated EventType = "worker_terminated"
	// EventTaskCompleted is emitted when a worker settles a task successfully
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed is emitted when a task settles with an error
	EventTaskFailed EventType = "task_failed"
	// EventWorkerRestart is emitted when a supervisor restarts a terminated worker
	EventWorkerRestart EventType = "worker_restart"
	// EventPoolShutdown is emitted once the pool has stopped
	EventPoolShutdown EventType = "pool_shutdown"
)

// Event represents a lifecycle event of the pool
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	WorkerID  int       `json:"worker_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	TaskID   string `json:"task_id,omitempty"`
	TaskKind string `json:"task_kind,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
}

// NewWorkerReadyEvent creates a worker ready event
func NewWorkerReadyEvent(workerID int) Event {
	return Event{
		Type:      EventWorkerReady,
		Timestamp: time.Now(),
		WorkerID:  workerID,
	}
}

// NewBootstrapFailedEvent creates a bootstrap failure event
func NewBootstrapFailedEvent(workerID int, err error) Event {
	return Event{
		Type:      EventBootstrapFailed,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Data:      EventData{Error: errString(err)},
	}
}

// NewWorkerTerminatedEvent creates a worker terminated event
func NewWorkerTerminatedEvent(workerID int, err error) Event {
	return Event{
		Type:      EventWorkerTerminated,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Data:      EventData{Error: errString(err)},
	}
}

// NewTaskEvent creates a task completed or failed event depending on err
func NewTaskEvent(workerID int, taskID uuid.UUID, kind string, latency time.Duration, err error) Event {
	typ := EventTaskCompleted
	if err != nil {
		typ = EventTaskFailed
	}
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Data: EventData{
			TaskID:   taskID.String(),
			TaskKind: kind,
			Latency:  latency.String(),
			Error:    errString(err),
		},
	}
}

// NewWorkerRestartEvent creates a worker restart event
func NewWorkerRestartEvent(workerID int, attempt int, err error) Event {
	return Event{
		Type:      EventWorkerRestart,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Data:      EventData{Attempt: attempt, Error: errString(err)},
	}
}

// NewPoolShutdownEvent creates a pool shutdown event
func NewPoolShutdownEvent() Event {
	return Event{
		Type:      EventPoolShutdown,
		Timestamp: time.Now(),
		WorkerID:  -1,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
