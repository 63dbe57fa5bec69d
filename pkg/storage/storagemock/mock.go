package storagemock

import (
	"context"

	"github.com/lumentreeinfo/lumentree/pkg/storage"
	"github.com/lumentreeinfo/lumentree/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockTokenStore struct {
	mock.Mock
}

var _ storage.TokenStore = (*MockTokenStore)(nil)

func (m *MockTokenStore) GetToken(ctx context.Context, deviceID string) (types.StoredToken, error) {
	args := m.Called(ctx, deviceID)
	if len(args) > 0 {
		return args.Get(0).(types.StoredToken), args.Error(1)
	}
	return types.StoredToken{}, storage.ErrTokenNotFound
}

func (m *MockTokenStore) SetToken(ctx context.Context, token types.StoredToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenStore) DeleteToken(ctx context.Context, deviceID string) error {
	args := m.Called(ctx, deviceID)
	return args.Error(0)
}

func (m *MockTokenStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
