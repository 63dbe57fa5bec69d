package server

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/lumentreeinfo/lumentree/pkg/types"
)

var testNow = time.Date(2025, 8, 15, 10, 30, 0, 0, time.UTC)

type mockDevices struct {
	mock.Mock
}

func (m *mockDevices) GetAllDeviceData(ctx context.Context, deviceID string, date time.Time) (types.DeviceData, error) {
	args := m.Called(ctx, deviceID, date)
	return args.Get(0).(types.DeviceData), args.Error(1)
}

func (m *mockDevices) Today(ctx context.Context, deviceID string) (types.TodaySummary, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(types.TodaySummary), args.Error(1)
}

func (m *mockDevices) Summary(ctx context.Context, deviceID string, from, to time.Time) (types.RangeSummary, error) {
	args := m.Called(ctx, deviceID, from, to)
	return args.Get(0).(types.RangeSummary), args.Error(1)
}

func (m *mockDevices) Now() time.Time {
	return testNow
}

type mockProber struct {
	mock.Mock
}

func (m *mockProber) BaseURL() string {
	return "http://lesvr.example.invalid/lesvr"
}

func (m *mockProber) Ping(ctx context.Context) (int, string, error) {
	args := m.Called(ctx)
	return args.Int(0), args.String(1), args.Error(2)
}

func (m *mockProber) GenerateToken(ctx context.Context, deviceID string) (string, error) {
	args := m.Called(ctx, deviceID)
	return args.String(0), args.Error(1)
}
