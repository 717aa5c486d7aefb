package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tphakala/ebirdsync/internal/ebird"
	"github.com/tphakala/ebirdsync/internal/notification"
	"github.com/tphakala/ebirdsync/internal/observation"
)

// MockSource is a mock implementation of the Source interface
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Fetch(ctx context.Context, q ebird.Query, opts ebird.QueryOptions) ([]json.RawMessage, error) {
	args := m.Called(ctx, q, opts)
	records, _ := args.Get(0).([]json.RawMessage)
	return records, args.Error(1)
}

// MockRegionSource is a MockSource that also resolves region codes.
type MockRegionSource struct {
	MockSource
}

func (m *MockRegionSource) RegionInfo(ctx context.Context, regionCode string) (*ebird.RegionInfo, error) {
	args := m.Called(ctx, regionCode)
	info, _ := args.Get(0).(*ebird.RegionInfo)
	return info, args.Error(1)
}

// MockSink is a mock implementation of sink.Sink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Send(ctx context.Context, integrationID string, events []observation.Event) error {
	args := m.Called(ctx, integrationID, events)
	return args.Error(0)
}

func (m *MockSink) Close() error {
	return m.Called().Error(0)
}

// MockStore is a mock implementation of watermark.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, integrationID, actionID string) ([]byte, bool, error) {
	args := m.Called(ctx, integrationID, actionID)
	blob, _ := args.Get(0).([]byte)
	return blob, args.Bool(1), args.Error(2)
}

func (m *MockStore) Set(ctx context.Context, integrationID, actionID string, blob []byte) error {
	return m.Called(ctx, integrationID, actionID, blob).Error(0)
}

func (m *MockStore) Delete(ctx context.Context, integrationID, actionID string) error {
	return m.Called(ctx, integrationID, actionID).Error(0)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}

// MockAlerter is a mock implementation of notification.Alerter
type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) Alert(ctx context.Context, alert notification.Alert) error {
	return m.Called(ctx, alert).Error(0)
}

// fixedClock always returns the same instant.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }
