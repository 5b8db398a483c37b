package dispatch

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/atm-dispatch/internal/db"
	"github.com/ukydev/atm-dispatch/internal/models"
)

// MockStore is a mock implementation of db.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) InsertATM(ctx context.Context, atm models.ATM) error {
	return m.Called(ctx, atm).Error(0)
}

func (m *MockStore) FindATMByID(ctx context.Context, id string) (*models.ATM, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ATM), args.Error(1)
}

func (m *MockStore) CountATMs(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) InsertEngineer(ctx context.Context, engineer models.Engineer) error {
	return m.Called(ctx, engineer).Error(0)
}

func (m *MockStore) FindEngineerByID(ctx context.Context, id string) (*models.Engineer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Engineer), args.Error(1)
}

func (m *MockStore) FindAvailableEngineers(ctx context.Context) ([]models.Engineer, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Engineer), args.Error(1)
}

func (m *MockStore) ClaimEngineer(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStore) ReleaseEngineer(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStore) SetEngineerAvailability(ctx context.Context, id string, available bool) error {
	return m.Called(ctx, id, available).Error(0)
}

func (m *MockStore) UpdateEngineerLocation(ctx context.Context, id string, location models.Location) error {
	return m.Called(ctx, id, location).Error(0)
}

func (m *MockStore) CountEngineers(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	return m.Called(ctx, ticket).Error(0)
}

func (m *MockStore) InsertTicketUnlessOpen(ctx context.Context, ticket models.Ticket) (*models.Ticket, error) {
	args := m.Called(ctx, ticket)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockStore) FindTickets(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Ticket), args.Error(1)
}

func (m *MockStore) FindTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockStore) FindOpenTicket(ctx context.Context, atmID string, fault models.FaultType) (*models.Ticket, error) {
	args := m.Called(ctx, atmID, fault)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockStore) AssignTicket(ctx context.Context, id, engineerID string) error {
	return m.Called(ctx, id, engineerID).Error(0)
}

func (m *MockStore) UpdateTicketStatus(ctx context.Context, id string, from, to models.TicketStatus) error {
	return m.Called(ctx, id, from, to).Error(0)
}

func (m *MockStore) ResolveTicket(ctx context.Context, id string, resolvedAt time.Time) (*models.Ticket, error) {
	args := m.Called(ctx, id, resolvedAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockStore) CountTickets(ctx context.Context, statuses ...models.TicketStatus) (int64, error) {
	args := m.Called(ctx, statuses)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) CountResolvedSince(ctx context.Context, since time.Time) (int64, error) {
	args := m.Called(ctx, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) InsertResolution(ctx context.Context, resolution models.Resolution) error {
	return m.Called(ctx, resolution).Error(0)
}

func (m *MockStore) InsertTelemetry(ctx context.Context, telemetry models.Telemetry) error {
	return m.Called(ctx, telemetry).Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockStore) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

var _ db.Store = (*MockStore)(nil)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newBadgerStore(t *testing.T) *db.BadgerStore {
	t.Helper()
	store, err := db.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

// kmNorth returns a point roughly km kilometers north of the equator origin.
func kmNorth(km float64) models.Location {
	return models.Location{Lat: km / 111.195, Lng: 0}
}
