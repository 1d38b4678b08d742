package models

// ProcessStatus is the lifecycle state of a single process.
type ProcessStatus string

const (
	ProcessStatusCreated ProcessStatus = "CREATED"
	ProcessStatusReady   ProcessStatus = "READY"
	ProcessStatusRunning ProcessStatus = "RUNNING"
	ProcessStatusSuccess ProcessStatus = "SUCCESS"
	ProcessStatusError   ProcessStatus = "ERROR"
	ProcessStatusSkipped ProcessStatus = "SKIPPED"
)

// IsSettled reports whether the process reached a terminal state for the current run.
func (s ProcessStatus) IsSettled() bool {
	return s == ProcessStatusSuccess || s == ProcessStatusError || s == ProcessStatusSkipped
}

// IsPending reports whether the process may still be dispatched.
func (s ProcessStatus) IsPending() bool {
	return s == ProcessStatusCreated || s == ProcessStatusReady || s == ""
}

// ScenarioStatus is the lifecycle state of a scenario.
type ScenarioStatus string

const (
	ScenarioStatusDraft        ScenarioStatus = "DRAFT"
	ScenarioStatusInQueue      ScenarioStatus = "IN_QUEUE"
	ScenarioStatusRunning      ScenarioStatus = "RUNNING"
	ScenarioStatusSuccess      ScenarioStatus = "SUCCESS"
	ScenarioStatusError        ScenarioStatus = "ERROR"
	ScenarioStatusPartiallyRun ScenarioStatus = "PARTIALLY_RUN"
)

// IsFinished reports whether a run of the scenario has ended.
func (s ScenarioStatus) IsFinished() bool {
	return s == ScenarioStatusSuccess || s == ScenarioStatusError || s == ScenarioStatusPartiallyRun
}
