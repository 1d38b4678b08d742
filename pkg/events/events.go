// Package events defines the scenario lifecycle notifications exchanged
// between coordinators.
package events

import (
	"time"

	"github.com/dukex/labflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every scenario event.
const Topic = "labflow.scenario.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ScenarioQueuedEvent        EventType = "scenario.queued"
	ScenarioDequeuedEvent      EventType = "scenario.dequeued"
	ScenarioStartedEvent       EventType = "scenario.started"
	ScenarioFinishedEvent      EventType = "scenario.finished"
	ScenarioStopRequestedEvent EventType = "scenario.stop_requested"
	ResourceDeletedEvent       EventType = "resource.deleted"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	ScenarioID string    `json:"scenario_id,omitempty"`
	WorkerID   string    `json:"worker_id,omitempty"`
}

func NewBaseEvent(eventType EventType, scenarioID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		ScenarioID: scenarioID,
	}
}

type ScenarioQueued struct {
	BaseEvent

	JobID  string `json:"job_id"`
	UserID string `json:"user_id,omitempty"`
}

func (e ScenarioQueued) GetType() EventType {
	return ScenarioQueuedEvent
}

// ScenarioDequeued is emitted when a queued job is cancelled before it ran.
type ScenarioDequeued struct {
	BaseEvent

	JobID string `json:"job_id"`
}

func (e ScenarioDequeued) GetType() EventType {
	return ScenarioDequeuedEvent
}

type ScenarioStarted struct {
	BaseEvent

	JobID string `json:"job_id"`
}

func (e ScenarioStarted) GetType() EventType {
	return ScenarioStartedEvent
}

type ScenarioFinished struct {
	BaseEvent

	JobID    string                `json:"job_id"`
	Status   models.ScenarioStatus `json:"status"`
	Error    string                `json:"error,omitempty"`
	Duration time.Duration         `json:"duration"`
}

func (e ScenarioFinished) GetType() EventType {
	return ScenarioFinishedEvent
}

// ScenarioStopRequested asks whichever coordinator runs the scenario to cancel it.
type ScenarioStopRequested struct {
	BaseEvent

	RequestedBy string `json:"requested_by,omitempty"`
}

func (e ScenarioStopRequested) GetType() EventType {
	return ScenarioStopRequestedEvent
}

type ResourceDeleted struct {
	BaseEvent

	ResourceID string `json:"resource_id"`
}

func (e ResourceDeleted) GetType() EventType {
	return ResourceDeletedEvent
}

// New returns an empty event of the given type for decoding, or nil when the
// type is unknown.
func New(eventType EventType) any {
	switch eventType {
	case ScenarioQueuedEvent:
		return &ScenarioQueued{}
	case ScenarioDequeuedEvent:
		return &ScenarioDequeued{}
	case ScenarioStartedEvent:
		return &ScenarioStarted{}
	case ScenarioFinishedEvent:
		return &ScenarioFinished{}
	case ScenarioStopRequestedEvent:
		return &ScenarioStopRequested{}
	case ResourceDeletedEvent:
		return &ResourceDeleted{}
	default:
		return nil
	}
}
