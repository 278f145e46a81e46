package mocks

import (
	"context"
	"time"

	"github.com/outflow/outflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockProspectRepository is a mock implementation of persistence.ProspectRepository interface.
type MockProspectRepository struct {
	mock.Mock
}

func (m *MockProspectRepository) UpsertProspects(ctx context.Context, prospects []*models.Prospect) error {
	args := m.Called(ctx, prospects)

	return args.Error(0)
}

func (m *MockProspectRepository) ProspectsByIDs(ctx context.Context, ids []string) ([]*models.Prospect, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Prospect), args.Error(1)
}

// MockImportRepository is a mock implementation of persistence.ImportRepository interface.
type MockImportRepository struct {
	mock.Mock
}

func (m *MockImportRepository) CreateImport(ctx context.Context, record *models.ImportRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockImportRepository) ImportByID(ctx context.Context, id string) (*models.ImportRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ImportRecord), args.Error(1)
}

func (m *MockImportRepository) SaveCheckpoint(ctx context.Context, id string, progress *models.ImportProgress) error {
	args := m.Called(ctx, id, progress)

	return args.Error(0)
}

func (m *MockImportRepository) FinishImport(ctx context.Context, id string, result *models.ImportResult, at time.Time) error {
	args := m.Called(ctx, id, result, at)

	return args.Error(0)
}
