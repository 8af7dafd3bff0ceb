// Package roster is the per-session driver registry: the stored drivers, the
// subset selected for today's run, and per-driver routing overrides.
package roster

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/models"
)

// Repository is the persistence the roster needs. *repository.DriverRepository satisfies it.
type Repository interface {
	List(ctx context.Context) ([]models.Driver, error)
	GetByID(ctx context.Context, id string) (*models.Driver, error)
	GetByName(ctx context.Context, name string) (*models.Driver, error)
	Create(ctx context.Context, d models.Driver) (models.Driver, error)
	UpdateStatus(ctx context.Context, id string, status models.DriverStatus) error
}

// State is the session part of the roster, carried in recovery snapshots.
type State struct {
	Selected  []string                         `json:"selected_drivers"`
	Overrides map[string]models.DriverOverride `json:"driver_overrides"`
}

// Roster caches the stored drivers and holds session-only selections.
type Roster struct {
	mu        sync.RWMutex
	repo      Repository
	log       *zap.Logger
	drivers   []models.Driver
	loaded    bool
	selected  []string
	overrides map[string]models.DriverOverride
}

// New returns a roster that loads drivers from repo on first use.
func New(repo Repository, log *zap.Logger) *Roster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Roster{repo: repo, log: log, overrides: make(map[string]models.DriverOverride)}
}

// Refresh reloads drivers from the store. Selections pointing at drivers that
// no longer exist are dropped.
func (r *Roster) Refresh(ctx context.Context) error {
	drivers, err := r.repo.List(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = drivers
	r.loaded = true
	known := make(map[string]bool, len(drivers))
	for _, d := range drivers {
		known[d.ID] = true
	}
	kept := r.selected[:0]
	for _, id := range r.selected {
		if known[id] {
			kept = append(kept, id)
		}
	}
	r.selected = kept
	return nil
}

func (r *Roster) ensureLoaded(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	return r.Refresh(ctx)
}

// ListActive returns active drivers with session overrides applied.
func (r *Roster) ListActive(ctx context.Context) ([]models.Driver, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Driver
	for _, d := range r.drivers {
		if d.IsActive() {
			out = append(out, r.withOverride(d))
		}
	}
	return out, nil
}

// Select replaces the selection with ids and returns the selected drivers.
// Unknown ids fail the whole call; inactive drivers can still be selected.
func (r *Roster) Select(ctx context.Context, ids []string) ([]models.Driver, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool, len(ids))
	var sel []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if _, ok := r.find(id); !ok {
			return nil, &apperr.NotFoundError{Kind: "driver", ID: id}
		}
		seen[id] = true
		sel = append(sel, id)
	}
	r.selected = sel
	r.log.Debug("drivers selected", zap.Strings("driver_ids", sel))
	return r.selectedLocked(), nil
}

// Selected returns the selected drivers, in selection order, with overrides applied.
func (r *Roster) Selected() []models.Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selectedLocked()
}

func (r *Roster) selectedLocked() []models.Driver {
	out := make([]models.Driver, 0, len(r.selected))
	for _, id := range r.selected {
		if d, ok := r.find(id); ok {
			out = append(out, r.withOverride(d))
		}
	}
	return out
}

// Configure stores a per-session start time and location for one driver.
// The stored driver record is not touched. Empty values clear that part.
func (r *Roster) Configure(ctx context.Context, id, startTime, startLocation string) error {
	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.find(id); !ok {
		return &apperr.NotFoundError{Kind: "driver", ID: id}
	}
	ov := models.DriverOverride{StartTime: strings.TrimSpace(startTime), StartLocation: strings.TrimSpace(startLocation)}
	if ov == (models.DriverOverride{}) {
		delete(r.overrides, id)
		return nil
	}
	r.overrides[id] = ov
	return nil
}

// Add stores a new driver and returns its id. Names are unique, ignoring case.
func (r *Roster) Add(ctx context.Context, d models.Driver) (string, error) {
	if strings.TrimSpace(d.Name) == "" {
		return "", apperr.Invalid("driver_name", "required")
	}
	existing, err := r.repo.GetByName(ctx, d.Name)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", apperr.Invalid("driver_name", "already used by "+existing.ID)
	}
	created, err := r.repo.Create(ctx, d)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.drivers = append(r.drivers, created)
	r.mu.Unlock()
	return created.ID, nil
}

// SetStatus activates or deactivates a stored driver and reloads the roster.
// A deactivated driver stays selected until the selection changes.
func (r *Roster) SetStatus(ctx context.Context, id string, status models.DriverStatus) (models.Driver, error) {
	if status != models.DriverStatusActive && status != models.DriverStatusInactive {
		return models.Driver{}, apperr.Invalid("status", string(status))
	}
	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return models.Driver{}, err
	}
	if d == nil {
		return models.Driver{}, &apperr.NotFoundError{Kind: "driver", ID: id}
	}
	if err := r.repo.UpdateStatus(ctx, id, status); err != nil {
		return models.Driver{}, err
	}
	if err := r.Refresh(ctx); err != nil {
		return models.Driver{}, err
	}
	r.log.Info("driver status changed", zap.String("driver_id", id), zap.String("status", string(status)))
	d.Status = status
	return *d, nil
}

// ByName finds a known driver by name, case-insensitively.
func (r *Roster) ByName(name string) (models.Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = strings.TrimSpace(name)
	for _, d := range r.drivers {
		if strings.EqualFold(strings.TrimSpace(d.Name), name) {
			return r.withOverride(d), true
		}
	}
	return models.Driver{}, false
}

// Export returns the session state for a recovery snapshot.
func (r *Roster) Export() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := State{Selected: append([]string(nil), r.selected...), Overrides: make(map[string]models.DriverOverride, len(r.overrides))}
	for k, v := range r.overrides {
		st.Overrides[k] = v
	}
	return st
}

// Restore reinstates selections and overrides from a snapshot.
func (r *Roster) Restore(st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = append([]string(nil), st.Selected...)
	r.overrides = make(map[string]models.DriverOverride, len(st.Overrides))
	for k, v := range st.Overrides {
		r.overrides[k] = v
	}
}

// Clear drops selections and overrides, keeping the cached drivers.
func (r *Roster) Clear() {
	r.Restore(State{})
}

func (r *Roster) find(id string) (models.Driver, bool) {
	for _, d := range r.drivers {
		if d.ID == id {
			return d, true
		}
	}
	return models.Driver{}, false
}

func (r *Roster) withOverride(d models.Driver) models.Driver {
	if ov, ok := r.overrides[d.ID]; ok {
		return ov.Apply(d)
	}
	return d
}
