// Package export moves scenarios between installations as zip archives
// holding a JSON manifest and the content of the selected resources.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dukex/labflow/pkg/blobstore"
	"github.com/dukex/labflow/pkg/graph"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/klauspost/compress/zip"
)

const (
	FormatVersion = 1

	manifestName = "manifest.json"
	blobsDir     = "blobs/"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrMissingManifest   = errors.New("archive has no manifest")
	ErrMissingBlob       = errors.New("archive misses resource content")
	ErrScenarioExists    = errors.New("scenario already exists")
	ErrInvalidCreateMode = errors.New("invalid create mode")
)

// Manifest describes the content of an archive.
type Manifest struct {
	FormatVersion int                     `json:"format_version"`
	ExportedAt    time.Time               `json:"exported_at"`
	ResourceMode  graph.ResourceMode      `json:"resource_mode"`
	Scenario      *models.Scenario        `json:"scenario"`
	Resources     []*models.ResourceModel `json:"resources"`
}

type Exporter struct {
	logger *slog.Logger
	repos  persistence.Repositories
	blobs  *blobstore.Store
}

func NewExporter(logger *slog.Logger, repos persistence.Repositories, blobs *blobstore.Store) *Exporter {
	return &Exporter{
		logger: logger.With("module", "exporter"),
		repos:  repos,
		blobs:  blobs,
	}
}

// Export writes the scenario and the resources selected by mode to w.
// Resources that were deleted since the run are left out.
func (e *Exporter) Export(ctx context.Context, scenarioID string, mode graph.ResourceMode, w io.Writer) (*Manifest, error) {
	scenario, err := e.repos.ScenarioRepository().GetByID(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	if scenario.Protocol == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrMissingProtocol, scenarioID)
	}

	g, err := graph.FromProcess(scenario.Protocol)
	if err != nil {
		return nil, err
	}

	ids, err := g.ResourceIDs(mode)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		FormatVersion: FormatVersion,
		ExportedAt:    time.Now().UTC(),
		ResourceMode:  mode,
		Scenario:      scenario,
		Resources:     make([]*models.ResourceModel, 0, len(ids)),
	}

	contents := make(map[string][]byte, len(ids))

	for _, id := range ids {
		resource, err := e.repos.ResourceRepository().GetByID(ctx, id)
		if persistence.IsResourceNotFound(err) {
			e.logger.WarnContext(ctx, "Skipping missing resource", "scenario_id", scenarioID, "resource_id", id)
			continue
		}

		if err != nil {
			return nil, err
		}

		data, err := e.blobs.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		manifest.Resources = append(manifest.Resources, resource)
		contents[id] = data
	}

	zw := zip.NewWriter(w)

	if err := writeJSON(zw, manifestName, manifest); err != nil {
		return nil, err
	}

	for _, resource := range manifest.Resources {
		f, err := zw.Create(blobsDir + resource.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to add blob %s: %w", resource.ID, err)
		}

		if _, err := f.Write(contents[resource.ID]); err != nil {
			return nil, fmt.Errorf("failed to write blob %s: %w", resource.ID, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}

	e.logger.InfoContext(ctx, "Scenario exported",
		"scenario_id", scenarioID,
		"resource_mode", mode,
		"resources", len(manifest.Resources),
	)

	return manifest, nil
}

func writeJSON(zw *zip.Writer, name string, v any) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	return nil
}

// archive is an opened export.
type archive struct {
	manifest *Manifest
	files    map[string]*zip.File
}

func openArchive(r io.ReaderAt, size int64) (*archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	a := &archive{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		a.files[f.Name] = f
	}

	f, ok := a.files[manifestName]
	if !ok {
		return nil, ErrMissingManifest
	}

	data, err := readFile(f)
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: invalid manifest: %w", ErrUnsupportedFormat, err)
	}

	if manifest.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedFormat, manifest.FormatVersion)
	}

	if manifest.Scenario == nil || manifest.Scenario.Protocol == nil {
		return nil, fmt.Errorf("%w: manifest has no scenario protocol", ErrUnsupportedFormat)
	}

	a.manifest = &manifest

	return a, nil
}

func (a *archive) blob(resourceID string) ([]byte, error) {
	f, ok := a.files[blobsDir+resourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingBlob, resourceID)
	}

	return readFile(f)
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}

	return data, nil
}
