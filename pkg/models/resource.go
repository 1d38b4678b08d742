package models

import "time"

// ResourceOrigin records where a resource came from.
type ResourceOrigin string

const (
	ResourceOriginGenerated ResourceOrigin = "generated"
	ResourceOriginUploaded  ResourceOrigin = "uploaded"
	ResourceOriginImported  ResourceOrigin = "imported"
)

// ResourceModel is the persisted handle of a data artifact. Its content lives
// in the blob store at BlobPath.
type ResourceModel struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Name            string         `json:"name,omitempty"`
	BlobPath        string         `json:"blob_path"`
	Origin          ResourceOrigin `json:"origin"`
	Flagged         bool           `json:"flagged"`
	ScenarioID      string         `json:"scenario_id,omitempty"`
	ProcessInstance string         `json:"process_instance,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// NewResourceModel creates a resource handle with a fresh id.
func NewResourceModel(resourceType string, origin ResourceOrigin) *ResourceModel {
	return &ResourceModel{
		ID:        newID(),
		Type:      resourceType,
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
	}
}
