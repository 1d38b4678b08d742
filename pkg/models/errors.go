package models

import "errors"

var (
	ErrInvalidInstanceName   = errors.New("invalid instance name")
	ErrDuplicateInstanceName = errors.New("instance name already used in protocol")
	ErrProcessNotFound       = errors.New("process not found")
	ErrPortNotFound          = errors.New("port not found")
	ErrNotAProtocol          = errors.New("process is not a protocol")
	ErrCycle                 = errors.New("connector would create a cycle")
	ErrInputAlreadyConnected = errors.New("input port already connected")
	ErrIncompatiblePorts     = errors.New("ports have incompatible resource types")
	ErrIncompatibleResource  = errors.New("resource type not accepted by port")
	ErrPortAlreadyBound      = errors.New("output port already bound in this run")
	ErrInvalidDirection      = errors.New("invalid port direction")
	ErrIOFaceAlreadyExists   = errors.New("interface or outerface name already used")
	ErrIOFaceNotFound        = errors.New("interface or outerface not found")

	ErrScenarioValidated     = errors.New("scenario is validated and cannot be modified or run")
	ErrScenarioRunning       = errors.New("scenario is running")
	ErrScenarioAlreadyQueued = errors.New("scenario is already in the queue")
	ErrScenarioNotSuccessful = errors.New("scenario must be successful to be validated")
	ErrMissingProtocol       = errors.New("scenario has no root protocol")
)
