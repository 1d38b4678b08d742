package models

import "time"

// Job is a queued request to run a scenario.
type Job struct {
	ID         string    `json:"id"`
	ScenarioID string    `json:"scenario_id"`
	UserID     string    `json:"user_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewJob creates a job for the scenario submitted by userID.
func NewJob(scenarioID, userID string, now time.Time) *Job {
	return &Job{
		ID:         newID(),
		ScenarioID: scenarioID,
		UserID:     userID,
		CreatedAt:  now,
	}
}

// TriggeredJob re-submits a scenario on a cron schedule.
type TriggeredJob struct {
	ID             string     `json:"id"`
	ScenarioID     string     `json:"scenario_id"     validate:"required"`
	CronExpression string     `json:"cron_expression" validate:"required"`
	IsActive       bool       `json:"is_active"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewTriggeredJob creates an active cron trigger.
func NewTriggeredJob(scenarioID, cronExpression, userID string) *TriggeredJob {
	return &TriggeredJob{
		ID:             newID(),
		ScenarioID:     scenarioID,
		CronExpression: cronExpression,
		IsActive:       true,
		CreatedBy:      userID,
		CreatedAt:      time.Now().UTC(),
	}
}
