package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/outflow/outflow/pkg/flowgraph"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

// ErrInvalidFlowID is returned for ids that cannot be used as file names.
var ErrInvalidFlowID = errors.New("invalid flow id")

// FlowRepository keeps one <id>.json document per flow under root/flows.
type FlowRepository struct {
	root string
}

func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{root: root}
}

func (fr *FlowRepository) dir() string {
	return filepath.Join(fr.root, "flows")
}

func (fr *FlowRepository) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFlowID, id)
	}

	return filepath.Join(fr.dir(), id+".json"), nil
}

// SaveFlow writes the flow in its authoring shape, replacing any previous version.
func (fr *FlowRepository) SaveFlow(_ context.Context, flow *models.FlowDefinition) error {
	target, err := fr.path(flow.ID)
	if err != nil {
		return err
	}

	document, err := flowgraph.Document(flow)
	if err != nil {
		return fmt.Errorf("failed to render flow %s: %w", flow.ID, err)
	}

	if err := os.MkdirAll(fr.dir(), 0o755); err != nil {
		return fmt.Errorf("failed to create flow directory: %w", err)
	}

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, document, 0o600); err != nil {
		return fmt.Errorf("failed to write flow %s: %w", flow.ID, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to replace flow %s: %w", flow.ID, err)
	}

	return nil
}

// FlowByID parses and validates the document for id.
func (fr *FlowRepository) FlowByID(_ context.Context, id string) (*models.FlowDefinition, error) {
	target, err := fr.path(id)
	if err != nil {
		return nil, err
	}

	document, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrFlowNotFound, id)
		}

		return nil, fmt.Errorf("failed to read flow %s: %w", id, err)
	}

	flow, err := flowgraph.Parse(document)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow %s: %w", id, err)
	}

	if flow.ID != id {
		return nil, fmt.Errorf("flow file %s declares id %q", filepath.Base(target), flow.ID)
	}

	if info, err := os.Stat(target); err == nil {
		flow.CreatedAt = info.ModTime().UTC()
		flow.UpdatedAt = info.ModTime().UTC()
	}

	return flow, nil
}

// ListFlows loads every *.json document, ordered by id.
func (fr *FlowRepository) ListFlows(ctx context.Context) ([]*models.FlowDefinition, error) {
	files, err := fs.Glob(os.DirFS(fr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list flow files: %w", err)
	}

	sort.Strings(files)

	flows := make([]*models.FlowDefinition, 0, len(files))

	for _, file := range files {
		flow, err := fr.FlowByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		flows = append(flows, flow)
	}

	return flows, nil
}
