package services

import (
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/protocol"
	"github.com/dukex/labflow/pkg/registry"
)

// TaskInfo describes a registered task type for clients building protocols.
type TaskInfo struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Inputs      []models.PortSpec `json:"inputs"`
	Outputs     []models.PortSpec `json:"outputs"`
	Config      map[string]any    `json:"config_schema"`
	Async       bool              `json:"async"`
	AutoRun     bool              `json:"auto_run"`
}

// Catalog lists the registered task types sorted by ID.
func Catalog(reg *registry.Registry) []TaskInfo {
	factories := reg.TaskFactories()
	infos := make([]TaskInfo, 0, len(factories))

	for _, f := range factories {
		infos = append(infos, TaskInfo{
			ID:          f.ID(),
			Name:        f.Name(),
			Description: f.Description(),
			Inputs:      f.InputSpecs(),
			Outputs:     f.OutputSpecs(),
			Config:      f.ConfigSpecs().Schema(),
			Async:       protocol.IsAsync(f),
			AutoRun:     protocol.IsAutoRun(f),
		})
	}

	return infos
}
