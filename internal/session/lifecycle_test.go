package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/metrics"
	"dmeRoutePlanner/internal/orderstore"
	"dmeRoutePlanner/internal/roster"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/internal/testutil"
	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

var la, _ = time.LoadLocation("America/Los_Angeles")

type fixture struct {
	clock *testutil.Clock
	mem   *tablestore.MemoryStore
	repo  *repository.OrderRepository
	store *orderstore.Store
	life  *Lifecycle
}

func newFixture(t *testing.T, cache RecoveryCache) *fixture {
	t.Helper()
	if la == nil {
		t.Skip("tzdata not available")
	}
	// 2024-03-15 23:30 in Los Angeles.
	clock := testutil.NewClock(time.Date(2024, 3, 16, 6, 30, 0, 0, time.UTC))
	mem := tablestore.NewMemoryStore()
	repo := repository.NewOrderRepository(mem, nil)
	life := New(Config{Location: la}, cache, nil, metrics.New(), WithClock(clock.Now))
	store := orderstore.New(life.CurrentOperatingDay(), repo, nil, orderstore.WithClock(clock.Now))
	return &fixture{clock: clock, mem: mem, repo: repo, store: store, life: life}
}

func TestCurrentOperatingDay_UsesLocation(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, "2024-03-15", f.life.CurrentOperatingDay())
	f.clock.Advance(time.Hour)
	assert.Equal(t, "2024-03-16", f.life.CurrentOperatingDay())
}

func TestOnDayChange_ArchivesAndResets(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, err := f.store.Create(models.OrderInput{Address: "100 Main St", City: "Long Beach"})
	require.NoError(t, err)
	done, err := f.store.Create(models.OrderInput{Address: "200 Oak Ave", City: "Irvine"})
	require.NoError(t, err)
	for _, id := range []string{a, done} {
		require.NoError(t, f.store.UpdateStatus(id, models.OrderStatusSentToDriver))
	}
	require.NoError(t, f.store.UpdateStatus(done, models.OrderStatusDelivered))

	roll, err := f.life.OnDayChange(ctx, "2024-03-15", f.store)
	require.NoError(t, err)
	assert.Nil(t, roll, "same day is not a rollover")
	assert.Equal(t, 2, f.store.Len())

	f.clock.Advance(time.Hour)
	roll, err = f.life.OnDayChange(ctx, "2024-03-15", f.store)
	require.NoError(t, err)
	require.NotNil(t, roll)
	assert.Equal(t, []string{a}, roll.Archived)
	assert.Equal(t, "2024-03-16", roll.To)
	assert.Equal(t, "2024-03-16", f.store.Day())
	assert.Zero(t, f.store.Len())

	stored, err := f.repo.ListByDate(ctx, "2024-03-15")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	byID := map[string]models.OrderStatus{}
	for _, o := range stored {
		byID[o.ID] = o.Status
	}
	assert.Equal(t, models.OrderStatusArchived, byID[a])
	assert.Equal(t, models.OrderStatusDelivered, byID[done])
}

func TestOnDayChange_IsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.Create(models.OrderInput{Address: "100 Main St", City: "Long Beach"})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	first, err := f.life.OnDayChange(ctx, "2024-03-15", f.store)
	require.NoError(t, err)
	require.Len(t, first.Archived, 1)
	day1, set1 := f.store.Snapshot()
	sheet1, _ := f.mem.ReadAll(ctx, tablestore.Orders)

	for i := 0; i < 3; i++ {
		again, err := f.life.OnDayChange(ctx, "2024-03-15", f.store)
		require.NoError(t, err)
		assert.Nil(t, again)
	}
	day2, set2 := f.store.Snapshot()
	sheet2, _ := f.mem.ReadAll(ctx, tablestore.Orders)
	assert.Equal(t, day1, day2)
	assert.Equal(t, set1, set2)
	assert.Equal(t, sheet1, sheet2)
}

func TestOnDayChange_PersistFailureKeepsDay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, err := f.store.Create(models.OrderInput{Address: "100 Main St", City: "Long Beach"})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	f.mem.FailWrites(errors.New("quota exceeded"))

	_, err = f.life.OnDayChange(ctx, "2024-03-15", f.store)
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.Equal(t, "2024-03-15", f.store.Day())
	got, err := f.store.Get(a)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusArchived, got.Status)

	f.mem.FailWrites(nil)
	roll, err := f.life.OnDayChange(ctx, "2024-03-15", f.store)
	require.NoError(t, err)
	require.NotNil(t, roll)
	assert.Equal(t, "2024-03-16", f.store.Day())
	stored, err := f.repo.ListByDate(ctx, "2024-03-15")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.OrderStatusArchived, stored[0].Status)
}

func snapshotFor(user string) *Snapshot {
	return &Snapshot{
		UserID: user,
		Day:    "2024-03-15",
		Orders: []models.Order{{ID: "ORD-20240315-aaaa0001", Date: "2024-03-15", Address: "100 Main St", City: "Long Beach", Status: models.OrderStatusPending}},
		Roster: roster.State{Selected: []string{"DRV-001"}},
	}
}

func caches(t *testing.T) map[string]RecoveryCache {
	t.Helper()
	fc, err := NewFileCache(t.TempDir())
	require.NoError(t, err)
	mr := miniredis.RunT(t)
	rc := NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return map[string]RecoveryCache{"file": fc, "redis": rc}
}

func TestRecoveryCache_FreshSnapshotRestores(t *testing.T) {
	for name, cache := range caches(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, cache)
			ctx := context.Background()
			require.NoError(t, f.life.SaveRecoveryCache(ctx, snapshotFor("dispatcher@example.com")))

			f.clock.Advance(7 * time.Hour)
			snap, err := f.life.RestoreRecoveryCache(ctx, "dispatcher@example.com")
			require.NoError(t, err)
			require.NotNil(t, snap)
			assert.Equal(t, "2024-03-15", snap.Day)
			require.Len(t, snap.Orders, 1)
			assert.Equal(t, "ORD-20240315-aaaa0001", snap.Orders[0].ID)
			assert.Equal(t, []string{"DRV-001"}, snap.Roster.Selected)

			other, err := f.life.RestoreRecoveryCache(ctx, "someone-else")
			require.NoError(t, err)
			assert.Nil(t, other)
		})
	}
}

func TestRecoveryCache_StaleSnapshotIsDiscarded(t *testing.T) {
	fc, err := NewFileCache(t.TempDir())
	require.NoError(t, err)
	f := newFixture(t, fc)
	ctx := context.Background()
	require.NoError(t, f.life.SaveRecoveryCache(ctx, snapshotFor("u1")))

	f.clock.Advance(8*time.Hour + time.Minute)
	snap, err := f.life.RestoreRecoveryCache(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, statErr := os.Stat(fc.path("u1"))
	assert.True(t, os.IsNotExist(statErr), "stale snapshot file is removed")
}

func TestRecoveryCache_CorruptFileIsIgnored(t *testing.T) {
	dir := t.TempDir()
	fc, err := NewFileCache(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app_state_u_1.json"), []byte("{not json"), 0o644))
	f := newFixture(t, fc)

	snap, err := f.life.RestoreRecoveryCache(context.Background(), "u/1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestRedisCache_UsesFreshnessAsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	f := newFixture(t, cache)
	ctx := context.Background()
	require.NoError(t, f.life.SaveRecoveryCache(ctx, snapshotFor("u1")))

	assert.Equal(t, DefaultFreshness, mr.TTL("recovery:u1"))
	mr.FastForward(DefaultFreshness + time.Second)
	b, err := cache.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestClearRecoveryCache(t *testing.T) {
	for name, cache := range caches(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, cache)
			ctx := context.Background()
			require.NoError(t, f.life.SaveRecoveryCache(ctx, snapshotFor("u1")))
			require.NoError(t, f.life.ClearRecoveryCache(ctx, "u1"))
			require.NoError(t, f.life.ClearRecoveryCache(ctx, "u1"))
			snap, err := f.life.RestoreRecoveryCache(ctx, "u1")
			require.NoError(t, err)
			assert.Nil(t, snap)
		})
	}
}
