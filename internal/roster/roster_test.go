package roster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) List(ctx context.Context) ([]models.Driver, error) {
	args := m.Called(ctx)
	drivers, _ := args.Get(0).([]models.Driver)
	return drivers, args.Error(1)
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*models.Driver, error) {
	args := m.Called(ctx, id)
	d, _ := args.Get(0).(*models.Driver)
	return d, args.Error(1)
}

func (m *mockRepo) GetByName(ctx context.Context, name string) (*models.Driver, error) {
	args := m.Called(ctx, name)
	d, _ := args.Get(0).(*models.Driver)
	return d, args.Error(1)
}

func (m *mockRepo) Create(ctx context.Context, d models.Driver) (models.Driver, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(models.Driver), args.Error(1)
}

func (m *mockRepo) UpdateStatus(ctx context.Context, id string, status models.DriverStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func drivers() []models.Driver {
	return []models.Driver{
		{ID: "DRV-001", Name: "Ahmed Ali", Status: "Active", StartLocation: "Irvine Office"},
		{ID: "DRV-002", Name: "Mohammed Hassan", Status: models.DriverStatusActive},
		{ID: "DRV-003", Name: "Sam Off", Status: models.DriverStatusInactive},
	}
}

func TestListActive_LoadsOnceAndFilters(t *testing.T) {
	repo := &mockRepo{}
	repo.On("List", mock.Anything).Return(drivers(), nil).Once()
	r := New(repo, nil)
	ctx := context.Background()

	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	_, err = r.ListActive(ctx)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestSelect_ByIdentity(t *testing.T) {
	repo := &mockRepo{}
	repo.On("List", mock.Anything).Return(drivers(), nil)
	r := New(repo, nil)
	ctx := context.Background()

	sel, err := r.Select(ctx, []string{"DRV-002", "DRV-001", "DRV-002", " "})
	require.NoError(t, err)
	require.Len(t, sel, 2)
	assert.Equal(t, "Mohammed Hassan", sel[0].Name)
	assert.Equal(t, "Ahmed Ali", sel[1].Name)

	_, err = r.Select(ctx, []string{"DRV-001", "DRV-404"})
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "DRV-404", nf.ID)
	assert.Len(t, r.Selected(), 2, "a failed select keeps the previous selection")
}

func TestConfigure_OverridesWithoutTouchingStoredDriver(t *testing.T) {
	repo := &mockRepo{}
	stored := drivers()
	repo.On("List", mock.Anything).Return(stored, nil)
	r := New(repo, nil)
	ctx := context.Background()

	require.NoError(t, r.Configure(ctx, "DRV-001", "7:30 AM", "Current location"))
	_, err := r.Select(ctx, []string{"DRV-001"})
	require.NoError(t, err)
	sel := r.Selected()
	assert.Equal(t, "7:30 AM", sel[0].StartTime)
	assert.Equal(t, "Current location", sel[0].StartLocation)
	assert.Equal(t, "Irvine Office", stored[0].StartLocation)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)

	require.NoError(t, r.Configure(ctx, "DRV-001", "", ""))
	assert.Equal(t, "Irvine Office", r.Selected()[0].StartLocation)

	assert.ErrorIs(t, r.Configure(ctx, "DRV-404", "8:00 AM", ""), apperr.ErrNotFound)
}

func TestAdd(t *testing.T) {
	r := New(repository.NewDriverRepository(tablestore.NewMemoryStore(), nil), nil)
	ctx := context.Background()

	id, err := r.Add(ctx, models.Driver{Name: "Lina Park"})
	require.NoError(t, err)
	assert.Equal(t, "DRV-001", id)
	d, ok := r.ByName("lina park")
	require.True(t, ok)
	assert.Equal(t, id, d.ID)

	_, err = r.Add(ctx, models.Driver{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = r.Add(ctx, models.Driver{Name: " LINA PARK "})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "driver_name", ve.Field)
}

func TestSetStatus_DeactivatedDriverLeavesActiveList(t *testing.T) {
	repo := repository.NewDriverRepository(tablestore.NewMemoryStore(), nil)
	r := New(repo, nil)
	ctx := context.Background()
	a, err := r.Add(ctx, models.Driver{Name: "Lina Park"})
	require.NoError(t, err)
	_, err = r.Add(ctx, models.Driver{Name: "Omar Said"})
	require.NoError(t, err)

	d, err := r.SetStatus(ctx, a, models.DriverStatusInactive)
	require.NoError(t, err)
	assert.Equal(t, models.DriverStatusInactive, d.Status)
	active, err := r.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Omar Said", active[0].Name)

	stored, err := repo.GetByID(ctx, a)
	require.NoError(t, err)
	assert.False(t, stored.IsActive())

	_, err = r.SetStatus(ctx, a, models.DriverStatusActive)
	require.NoError(t, err)
	active, err = r.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestSetStatus_Errors(t *testing.T) {
	repo := &mockRepo{}
	repo.On("GetByID", mock.Anything, "DRV-404").Return(nil, nil)
	r := New(repo, nil)
	ctx := context.Background()

	_, err := r.SetStatus(ctx, "DRV-404", models.DriverStatusInactive)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = r.SetStatus(ctx, "DRV-001", "retired")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestExportRestore(t *testing.T) {
	repo := &mockRepo{}
	repo.On("List", mock.Anything).Return(drivers(), nil)
	r := New(repo, nil)
	ctx := context.Background()
	_, err := r.Select(ctx, []string{"DRV-001"})
	require.NoError(t, err)
	require.NoError(t, r.Configure(ctx, "DRV-001", "9:00 AM", ""))

	st := r.Export()
	r.Clear()
	assert.Empty(t, r.Selected())

	r.Restore(st)
	sel := r.Selected()
	require.Len(t, sel, 1)
	assert.Equal(t, "9:00 AM", sel[0].StartTime)
}

func TestRefresh_PropagatesStoreError(t *testing.T) {
	repo := &mockRepo{}
	outage := &apperr.PersistenceError{Op: "read", Table: tablestore.Drivers, Err: errors.New("timeout")}
	repo.On("List", mock.Anything).Return(nil, outage)
	r := New(repo, nil)
	_, err := r.ListActive(context.Background())
	assert.ErrorIs(t, err, apperr.ErrPersistence)
}
