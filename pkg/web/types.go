// Package web provides the HTTP API over scenarios, the queue and the task catalog.
package web

import "github.com/dukex/labflow/pkg/models"

// UserHeader carries the id of the user acting on a scenario.
const UserHeader = "X-User-ID"

// SetConfigRequest replaces the configuration of a task.
type SetConfigRequest struct {
	Config map[string]any `json:"config" validate:"required"`
}

// CreateTriggerRequest schedules submissions of a scenario.
type CreateTriggerRequest struct {
	Cron string `json:"cron" validate:"required"`
}

// QueueResponse lists the waiting jobs.
type QueueResponse struct {
	Jobs      []*models.Job `json:"jobs"`
	Length    int           `json:"length"`
	MaxLength int           `json:"max_length"`
}
