package prisonapi

import (
	"context"

	"github.com/stretchr/testify/mock"

	"dpsrecon.io/reconciliation/internal/domain"
)

// MockClient is a testify mock of MovementHistoryClient.
type MockClient struct {
	mock.Mock
}

var _ MovementHistoryClient = (*MockClient)(nil)

func (m *MockClient) GetMovementHistory(ctx context.Context, bookingID int64) (domain.MovementHistory, error) {
	args := m.Called(ctx, bookingID)
	history, _ := args.Get(0).(domain.MovementHistory)
	return history, args.Error(1)
}
