package models

import (
	"fmt"
	"time"
)

// CreationType records how a scenario came to exist.
type CreationType string

const (
	CreationTypeManual   CreationType = "manual"
	CreationTypeAuto     CreationType = "auto"
	CreationTypeImported CreationType = "imported"
)

// Scenario is the top-level run unit owning one root protocol.
type Scenario struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"                      validate:"required"`
	Status         ScenarioStatus `json:"status"`
	Protocol       *ProcessModel  `json:"protocol"`
	FolderID       string         `json:"folder_id,omitempty"`
	CreatedBy      string         `json:"created_by,omitempty"`
	LastModifiedBy string         `json:"last_modified_by,omitempty"`
	CreationType   CreationType   `json:"creation_type"`
	Validated      bool           `json:"validated"`
	Version        int            `json:"version"`
	Error          *ProcessError  `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
}

// NewScenario creates a DRAFT scenario with an empty root protocol.
func NewScenario(title, folderID, userID string) *Scenario {
	now := time.Now().UTC()

	return &Scenario{
		ID:             newID(),
		Title:          title,
		Status:         ScenarioStatusDraft,
		Protocol:       NewProtocolModel("root"),
		FolderID:       folderID,
		CreatedBy:      userID,
		LastModifiedBy: userID,
		CreationType:   CreationTypeManual,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CheckEditable rejects modifications of validated, queued or running scenarios.
func (s *Scenario) CheckEditable() error {
	switch {
	case s.Validated:
		return fmt.Errorf("%w: %s", ErrScenarioValidated, s.ID)
	case s.Status == ScenarioStatusRunning:
		return fmt.Errorf("%w: %s", ErrScenarioRunning, s.ID)
	case s.Status == ScenarioStatusInQueue:
		return fmt.Errorf("%w: %s", ErrScenarioAlreadyQueued, s.ID)
	}

	return nil
}

// CheckRunnable rejects scenarios that cannot be submitted for a run.
func (s *Scenario) CheckRunnable() error {
	if err := s.CheckEditable(); err != nil {
		return err
	}

	if s.Protocol == nil || !s.Protocol.IsProtocol() {
		return fmt.Errorf("%w: %s", ErrMissingProtocol, s.ID)
	}

	return nil
}

// ResetFailedProcesses moves ERROR and SKIPPED processes back to CREATED at every depth.
func (s *Scenario) ResetFailedProcesses() {
	if s.Protocol == nil {
		return
	}

	if s.Protocol.Status == ProcessStatusError || s.Protocol.Status == ProcessStatusSkipped {
		s.Protocol.Status = ProcessStatusCreated
		s.Protocol.Error = nil
	}

	_ = s.Protocol.Walk(func(_ string, p *ProcessModel) error {
		if p.Status == ProcessStatusError || p.Status == ProcessStatusSkipped || p.Status == ProcessStatusRunning {
			p.Status = ProcessStatusCreated
			p.Error = nil
		}

		return nil
	})
}

func (s *Scenario) MarkInQueue() {
	s.Status = ScenarioStatusInQueue
	s.Error = nil
}

func (s *Scenario) MarkRunning(now time.Time) {
	s.Status = ScenarioStatusRunning
	s.Error = nil
	s.StartedAt = &now
	s.EndedAt = nil
}

func (s *Scenario) MarkSuccess(now time.Time) {
	s.Status = ScenarioStatusSuccess
	s.Error = nil
	s.EndedAt = &now
}

func (s *Scenario) MarkError(err *ProcessError, now time.Time) {
	s.Status = ScenarioStatusError
	s.Error = err
	s.EndedAt = &now
}

func (s *Scenario) MarkPartiallyRun(now time.Time) {
	s.Status = ScenarioStatusPartiallyRun
	s.EndedAt = &now
}

// RefreshStatus derives the idle status from the processes: DRAFT when none ran,
// SUCCESS when all succeeded, PARTIALLY_RUN otherwise.
func (s *Scenario) RefreshStatus() {
	if s.Protocol == nil || !s.Protocol.IsProtocol() || len(s.Protocol.Protocol.Processes) == 0 {
		s.Status = ScenarioStatusDraft

		return
	}

	allCreated, allSuccess := true, true

	for _, p := range s.Protocol.Protocol.Processes {
		if !p.Status.IsPending() {
			allCreated = false
		}

		if p.Status != ProcessStatusSuccess {
			allSuccess = false
		}
	}

	switch {
	case allCreated:
		s.Status = ScenarioStatusDraft
	case allSuccess:
		s.Status = ScenarioStatusSuccess
	default:
		s.Status = ScenarioStatusPartiallyRun
	}
}

// Validate freezes a successful scenario.
func (s *Scenario) Validate(userID string) error {
	if s.Validated {
		return fmt.Errorf("%w: %s", ErrScenarioValidated, s.ID)
	}

	if s.Status != ScenarioStatusSuccess {
		return fmt.Errorf("%w: status is %s", ErrScenarioNotSuccessful, s.Status)
	}

	s.Validated = true
	s.LastModifiedBy = userID

	return nil
}
