// Package session decides when the operating day rolls over and keeps the
// per-user recovery snapshots that survive a process restart.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dmeRoutePlanner/internal/metrics"
	"dmeRoutePlanner/internal/orderstore"
	"dmeRoutePlanner/internal/roster"
	"dmeRoutePlanner/models"
)

// DefaultFreshness bounds how old a recovery snapshot may be and still be restored.
const DefaultFreshness = 8 * time.Hour

// Snapshot is everything a session needs to resume where it left off.
type Snapshot struct {
	UserID  string         `json:"user_id"`
	SavedAt time.Time      `json:"saved_at"`
	Day     string         `json:"day"`
	Orders  []models.Order `json:"orders"`
	Roster  roster.State   `json:"roster"`
	Routes  []models.Route `json:"routes,omitempty"`
	Pending *PendingResult `json:"pending_result,omitempty"`
}

// PendingResult is an optimization run that is waiting for conflict confirmation.
type PendingResult struct {
	Result *models.OptimizationResult `json:"result"`
	Day    string                     `json:"day"`
}

// Config holds lifecycle settings.
type Config struct {
	// Location is the operating timezone; nil means time.Local.
	Location *time.Location
	// Freshness is the restore window; zero means DefaultFreshness.
	Freshness time.Duration
}

// Rollover reports one day change.
type Rollover struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Archived []string `json:"archived"`
}

// Lifecycle owns day detection, rollover and the recovery cache.
type Lifecycle struct {
	mu      sync.Mutex
	cfg     Config
	cache   RecoveryCache
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

func New(cfg Config, cache RecoveryCache, log *zap.Logger, m *metrics.Metrics, opts ...Option) *Lifecycle {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshness
	}
	l := &Lifecycle{cfg: cfg, cache: cache, log: log, metrics: m, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// CurrentOperatingDay is today's date in the operating timezone.
func (l *Lifecycle) CurrentOperatingDay() string {
	return l.now().In(l.cfg.Location).Format(models.DateLayout)
}

// OnDayChange rolls store over from previousDay to the current operating day.
// Unresolved orders are archived and persisted under their own date, then the
// working set is cleared for the new day. It does nothing when the day has not
// changed or when store no longer holds previousDay, so repeated calls with the
// same previousDay roll over once. When persisting fails the working set is
// left on previousDay, archived, and the call can be retried.
func (l *Lifecycle) OnDayChange(ctx context.Context, previousDay string, store *orderstore.Store) (*Rollover, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.CurrentOperatingDay()
	if previousDay == "" || previousDay == today || store.Day() != previousDay {
		return nil, nil
	}

	var archived []string
	_, orders := store.Snapshot()
	for _, o := range orders {
		if !o.Status.CanTransitionTo(models.OrderStatusArchived) || o.Status == models.OrderStatusArchived {
			continue
		}
		changed, err := store.Mutate(o.ID, func(o *models.Order) error {
			o.Status = models.OrderStatusArchived
			return nil
		})
		if err != nil {
			return nil, err
		}
		if changed {
			archived = append(archived, o.ID)
		}
	}

	if err := store.Persist(ctx); err != nil {
		l.log.Error("rollover persist failed, day kept",
			zap.String("from", previousDay), zap.String("to", today), zap.Error(err))
		return nil, err
	}
	store.Reset(today)
	l.metrics.ObserveRollover(len(archived))
	l.log.Info("operating day rolled over",
		zap.String("from", previousDay), zap.String("to", today), zap.Int("archived", len(archived)))
	return &Rollover{From: previousDay, To: today, Archived: archived}, nil
}

// SaveRecoveryCache stores snap under its user id. SavedAt is stamped now.
func (l *Lifecycle) SaveRecoveryCache(ctx context.Context, snap *Snapshot) error {
	if l.cache == nil || snap == nil || strings.TrimSpace(snap.UserID) == "" {
		return nil
	}
	snap.SavedAt = l.now().UTC()
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return l.cache.Save(ctx, snap.UserID, b, l.cfg.Freshness)
}

// RestoreRecoveryCache returns the user's snapshot if it is fresh. Missing,
// unreadable and stale snapshots all return nil; stale ones are removed.
func (l *Lifecycle) RestoreRecoveryCache(ctx context.Context, userID string) (*Snapshot, error) {
	if l.cache == nil || strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	b, err := l.cache.Load(ctx, userID)
	if err != nil || b == nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		l.log.Warn("discarding unreadable recovery snapshot", zap.String("user_id", userID), zap.Error(err))
		_ = l.cache.Clear(ctx, userID)
		return nil, nil
	}
	age := l.now().Sub(snap.SavedAt)
	if snap.SavedAt.IsZero() || age > l.cfg.Freshness || age < -time.Minute {
		l.log.Info("discarding stale recovery snapshot",
			zap.String("user_id", userID), zap.Time("saved_at", snap.SavedAt), zap.Duration("age", age))
		_ = l.cache.Clear(ctx, userID)
		return nil, nil
	}
	return &snap, nil
}

// ClearRecoveryCache forgets the user's snapshot, e.g. on logout.
func (l *Lifecycle) ClearRecoveryCache(ctx context.Context, userID string) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Clear(ctx, userID)
}
