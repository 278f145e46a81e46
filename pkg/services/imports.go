package services

import (
	"context"
	"os"

	"github.com/outflow/outflow/pkg/importer"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

type Imports struct {
	pipeline *importer.Pipeline
	imports  persistence.ImportRepository
}

func NewImports(ledger persistence.Persistence, pipeline *importer.Pipeline) *Imports {
	return &Imports{pipeline: pipeline, imports: ledger.ImportRepository()}
}

// ImportFile imports the prospect file at path and returns the finished record.
func (s *Imports) ImportFile(ctx context.Context, path string) (*models.ImportRecord, error) {
	if path == "" {
		return nil, NewValidationError("ImportFile", "path_required", "file path is required", ErrInvalidRequest)
	}

	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return nil, NewValidationError("ImportFile", "file_not_found", "cannot read file "+path, ErrInvalidRequest)
	}

	return s.pipeline.ImportFile(ctx, path)
}

// ResumeImport continues an interrupted import after its last checkpoint.
func (s *Imports) ResumeImport(ctx context.Context, id string) (*models.ImportRecord, error) {
	return s.pipeline.Resume(ctx, id)
}

func (s *Imports) GetImport(ctx context.Context, id string) (*models.ImportRecord, error) {
	return s.imports.ImportByID(ctx, id)
}
