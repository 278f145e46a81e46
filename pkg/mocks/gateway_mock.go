package mocks

import (
	"context"

	"github.com/outflow/outflow/pkg/gateway"
	"github.com/outflow/outflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockSender is a mock implementation of gateway.Sender interface.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, request gateway.SendRequest) (*gateway.SendResult, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	if fn, ok := args.Get(0).(func(context.Context, gateway.SendRequest) *gateway.SendResult); ok {
		return fn(ctx, request), args.Error(1)
	}

	return args.Get(0).(*gateway.SendResult), args.Error(1)
}

// MockStatsProvider is a mock implementation of gateway.RecipientStatsProvider interface.
type MockStatsProvider struct {
	mock.Mock
}

func (m *MockStatsProvider) EngagementStats(ctx context.Context, messageID, metric string) (float64, error) {
	args := m.Called(ctx, messageID, metric)

	return args.Get(0).(float64), args.Error(1)
}

func (m *MockStatsProvider) RecipientStats(
	ctx context.Context,
	messageID, metric string,
	prospectIDs []string,
) (map[string]float64, error) {
	args := m.Called(ctx, messageID, metric, prospectIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]float64), args.Error(1)
}

// MockContentResolver is a mock implementation of gateway.ContentResolver interface.
type MockContentResolver struct {
	mock.Mock
}

func (m *MockContentResolver) Resolve(ctx context.Context, templateRef string) (*models.Content, error) {
	args := m.Called(ctx, templateRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Content), args.Error(1)
}
