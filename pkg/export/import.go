package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/dukex/labflow/pkg/config"
	"github.com/dukex/labflow/pkg/models"
	"github.com/dukex/labflow/pkg/persistence"
	"github.com/dukex/labflow/pkg/registry"
	"github.com/dukex/labflow/pkg/services"
	"github.com/dukex/labflow/pkg/workflow"
)

// CreateMode decides which ids an imported scenario keeps.
type CreateMode string

const (
	// CreateModeKeepID reuses the archived ids and fails if the scenario exists.
	CreateModeKeepID CreateMode = "keep_id"
	// CreateModeNewID gives the scenario, its processes and its resources fresh ids.
	CreateModeNewID CreateMode = "new_id"
)

func ParseCreateMode(s string) (CreateMode, error) {
	switch mode := CreateMode(s); mode {
	case CreateModeKeepID, CreateModeNewID:
		return mode, nil
	case "":
		return CreateModeNewID, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCreateMode, s)
	}
}

// Directory tells which folders and users exist on this installation.
type Directory interface {
	FolderExists(ctx context.Context, folderID string) (bool, error)
	UserExists(ctx context.Context, userID string) (bool, error)
}

// StaticDirectory is a Directory over fixed id lists.
type StaticDirectory struct {
	Folders []string
	Users   []string
}

func (d StaticDirectory) FolderExists(_ context.Context, folderID string) (bool, error) {
	return slices.Contains(d.Folders, folderID), nil
}

func (d StaticDirectory) UserExists(_ context.Context, userID string) (bool, error) {
	return slices.Contains(d.Users, userID), nil
}

// ImportOptions controls how an archive becomes a local scenario. Without a
// Directory, folder and user ids are kept as archived.
type ImportOptions struct {
	Mode            CreateMode
	Directory       Directory
	DefaultFolderID string
	DefaultUserID   string
}

type Importer struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	resources   *services.Resources
}

func NewImporter(logger *slog.Logger, p persistence.Persistence, reg *registry.Registry, resources *services.Resources) *Importer {
	return &Importer{
		logger:      logger.With("module", "importer"),
		persistence: p,
		registry:    reg,
		resources:   resources,
	}
}

// ImportFile imports the archive stored at path.
func (i *Importer) ImportFile(ctx context.Context, path string, opts ImportOptions) (*models.Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	return i.Import(ctx, f, info.Size(), opts)
}

// Import recreates the archived scenario. The protocol is rebuilt through the
// registry so that an archive can only describe tasks known locally. Bindings
// to resources that are neither shipped nor present are dropped and the
// processes depending on them are reset.
func (i *Importer) Import(ctx context.Context, r io.ReaderAt, size int64, opts ImportOptions) (*models.Scenario, error) {
	if opts.Mode == "" {
		opts.Mode = CreateModeNewID
	}

	if _, err := ParseCreateMode(string(opts.Mode)); err != nil {
		return nil, err
	}

	a, err := openArchive(r, size)
	if err != nil {
		return nil, err
	}

	src := a.manifest.Scenario
	newIDs := opts.Mode == CreateModeNewID

	scenarioID := src.ID
	if newIDs {
		scenarioID = models.NewID()
	} else {
		_, err := i.persistence.ScenarioRepository().GetByID(ctx, src.ID)
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w: %s", ErrScenarioExists, src.ID)
		case !persistence.IsScenarioNotFound(err):
			return nil, err
		}
	}

	ids := make(map[string]string, len(a.manifest.Resources))
	for _, resource := range a.manifest.Resources {
		if newIDs {
			ids[resource.ID] = models.NewID()
		} else {
			ids[resource.ID] = resource.ID
		}
	}

	rewrite := func(id string) string {
		if mapped, ok := ids[id]; ok {
			return mapped
		}

		return id
	}

	root, err := i.replay(src.Protocol, rewrite, newIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild protocol: %w", err)
	}

	stored, err := i.storeResources(ctx, a, src.ID, scenarioID, rewrite)
	if err != nil {
		return nil, err
	}

	available := func(id string) bool {
		if slices.Contains(stored, id) {
			return true
		}

		_, err := i.resources.Get(ctx, id)

		return err == nil
	}

	if dropDangling(root, available) {
		i.logger.WarnContext(ctx, "Unavailable resources were unbound", "scenario_id", scenarioID)
	}

	folderID, err := resolve(ctx, src.FolderID, opts.DefaultFolderID, opts.Directory, Directory.FolderExists)
	if err != nil {
		return nil, err
	}

	createdBy, err := resolve(ctx, src.CreatedBy, opts.DefaultUserID, opts.Directory, Directory.UserExists)
	if err != nil {
		return nil, err
	}

	modifiedBy, err := resolve(ctx, src.LastModifiedBy, opts.DefaultUserID, opts.Directory, Directory.UserExists)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	scenario := &models.Scenario{
		ID:             scenarioID,
		Title:          src.Title,
		Status:         src.Status,
		Protocol:       root,
		FolderID:       folderID,
		CreatedBy:      createdBy,
		LastModifiedBy: modifiedBy,
		CreationType:   models.CreationTypeImported,
		Validated:      src.Validated,
		Error:          src.Error,
		CreatedAt:      now,
		UpdatedAt:      now,
		StartedAt:      src.StartedAt,
		EndedAt:        src.EndedAt,
	}
	scenario.RefreshStatus()

	if err := i.persistence.ScenarioRepository().Save(ctx, scenario); err != nil {
		i.discard(ctx, stored)
		return nil, fmt.Errorf("failed to save scenario: %w", err)
	}

	i.logger.InfoContext(ctx, "Scenario imported",
		"scenario_id", scenario.ID,
		"source_scenario_id", src.ID,
		"mode", opts.Mode,
		"resources", len(stored),
	)

	return scenario, nil
}

// storeResources writes the shipped resources and returns their local ids.
// With kept ids, resources that already exist are left untouched.
func (i *Importer) storeResources(ctx context.Context, a *archive, srcScenarioID, scenarioID string, rewrite func(string) string) ([]string, error) {
	stored := make([]string, 0, len(a.manifest.Resources))

	for _, resource := range a.manifest.Resources {
		id := rewrite(resource.ID)

		if _, err := i.resources.Get(ctx, id); err == nil {
			continue
		} else if !persistence.IsResourceNotFound(err) {
			i.discard(ctx, stored)
			return nil, err
		}

		data, err := a.blob(resource.ID)
		if err != nil {
			i.discard(ctx, stored)
			return nil, err
		}

		model := *resource
		model.ID = id
		model.Origin = models.ResourceOriginImported
		model.CreatedAt = time.Now().UTC()

		if model.ScenarioID == srcScenarioID {
			model.ScenarioID = scenarioID
		}

		if err := i.resources.Import(ctx, &model, data); err != nil {
			i.discard(ctx, stored)
			return nil, err
		}

		stored = append(stored, id)
	}

	return stored, nil
}

func (i *Importer) discard(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := i.resources.Delete(context.WithoutCancel(ctx), id); err != nil {
			i.logger.ErrorContext(ctx, "Failed to discard imported resource", "resource_id", id, "error", err)
		}
	}
}

// replay rebuilds a process from its archived form.
func (i *Importer) replay(src *models.ProcessModel, rewrite func(string) string, newIDs bool) (*models.ProcessModel, error) {
	var dst *models.ProcessModel

	if src.IsProtocol() {
		dst = models.NewProtocolModel(src.InstanceName)

		for _, child := range src.Protocol.Processes {
			c, err := i.replay(child, rewrite, newIDs)
			if err != nil {
				return nil, err
			}

			if err := dst.Protocol.AddProcess(c); err != nil {
				return nil, err
			}
		}

		for _, face := range src.Protocol.Interfaces {
			if err := dst.AddInterface(face.Name, face.Process, face.Port); err != nil {
				return nil, fmt.Errorf("protocol %s: %w", src.InstanceName, err)
			}
		}

		for _, face := range src.Protocol.Outerfaces {
			if err := dst.AddOuterface(face.Name, face.Process, face.Port); err != nil {
				return nil, fmt.Errorf("protocol %s: %w", src.InstanceName, err)
			}
		}

		for _, c := range src.Protocol.Connectors {
			connector := *c
			if err := dst.Protocol.AddConnector(&connector); err != nil {
				return nil, fmt.Errorf("protocol %s: %w", src.InstanceName, err)
			}
		}
	} else {
		cfg, err := i.rewriteConfig(src, rewrite)
		if err != nil {
			return nil, err
		}

		dst, err = i.registry.NewTaskModel(src.InstanceName, src.Typing, cfg)
		if err != nil {
			return nil, err
		}
	}

	if !newIDs {
		dst.ID = src.ID
	}

	dst.Status = src.Status
	dst.Error = src.Error
	dst.StartedAt = src.StartedAt
	dst.EndedAt = src.EndedAt
	dst.Progress = src.Progress

	if err := copyBindings(src.InstanceName, src.Inputs, dst.Inputs, rewrite); err != nil {
		return nil, err
	}

	if err := copyBindings(src.InstanceName, src.Outputs, dst.Outputs, rewrite); err != nil {
		return nil, err
	}

	switch {
	case dst.IsProtocol() || src.Fingerprint == "":
	case newIDs && dst.Status == models.ProcessStatusSuccess:
		// inputs now point at the new resource ids
		dst.Fingerprint = workflow.Fingerprint(dst)
	default:
		dst.Fingerprint = src.Fingerprint
	}

	return dst, nil
}

// rewriteConfig maps the model references of a task configuration.
func (i *Importer) rewriteConfig(process *models.ProcessModel, rewrite func(string) string) (map[string]any, error) {
	factory, err := i.registry.TaskFactory(process.Typing)
	if err != nil {
		return nil, err
	}

	cfg := maps.Clone(process.Config)

	for name, spec := range factory.ConfigSpecs() {
		if spec.Kind() != config.KindModelRef {
			continue
		}

		if id, ok := cfg[name].(string); ok {
			cfg[name] = rewrite(id)
		}
	}

	return cfg, nil
}

func copyBindings(instanceName string, src, dst models.Ports, rewrite func(string) string) error {
	for _, port := range src {
		target := dst.Get(port.Name)
		if target == nil {
			return fmt.Errorf("%w: %s", models.ErrPortNotFound, models.MakePortID(instanceName, port.Name))
		}

		if port.ResourceID != "" {
			target.ResourceID = rewrite(port.ResourceID)
		}
	}

	return nil
}

// dropDangling unbinds ports whose resource is unavailable and resets the
// owning process with everything downstream of it. It reports whether the
// protocol changed.
func dropDangling(proto *models.ProcessModel, available func(string) bool) bool {
	changed := false

	for _, child := range proto.Protocol.Processes {
		dangling := child.IsProtocol() && dropDangling(child, available)

		for _, port := range slices.Concat(child.Inputs, child.Outputs) {
			if port.ResourceID != "" && !available(port.ResourceID) {
				port.ResourceID = ""
				dangling = true
			}
		}

		if dangling {
			resetFrom(proto.Protocol, child)
			changed = true
		}
	}

	return changed
}

func resetFrom(protocol *models.ProtocolModel, process *models.ProcessModel) {
	process.Reset()
	protocol.ClearDownstreamInputs(process.InstanceName)

	for _, next := range protocol.Successors(process.InstanceName) {
		resetFrom(protocol, next)
	}
}

func resolve(ctx context.Context, id, fallback string, dir Directory, exists func(Directory, context.Context, string) (bool, error)) (string, error) {
	if id == "" {
		return fallback, nil
	}

	if dir == nil {
		return id, nil
	}

	ok, err := exists(dir, ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to look up %s: %w", id, err)
	}

	if !ok {
		return fallback, nil
	}

	return id, nil
}
