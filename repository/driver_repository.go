package repository

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/models"
)

// DriverColumns is the canonical DRIVERS header.
var DriverColumns = []string{
	"driver_id", "driver_name", "phone", "email", "status",
	"primary_areas", "cities_covered", "zip_prefixes", "vehicle_type",
	"start_location", "notes", "created_at", "updated_at",
}

var driverIDRe = regexp.MustCompile(`^DRV-(\d+)$`)

// DriverRepository maps drivers onto the DRIVERS table. Drivers persist across days.
type DriverRepository struct {
	store tablestore.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewDriverRepository(store tablestore.Store, log *zap.Logger) *DriverRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &DriverRepository{store: store, log: log, now: time.Now}
}

// EnsureTable creates DRIVERS with the canonical header if it does not exist.
func (r *DriverRepository) EnsureTable(ctx context.Context) error {
	if err := r.store.EnsureTable(ctx, tablestore.Drivers, DriverColumns); err != nil {
		return &apperr.PersistenceError{Op: "ensure", Table: tablestore.Drivers, Err: err}
	}
	return nil
}

// List returns every stored driver in table order. Rows without a name are skipped.
func (r *DriverRepository) List(ctx context.Context) ([]models.Driver, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	sheet, err := r.store.ReadAll(ctx, tablestore.Drivers)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "read", Table: tablestore.Drivers, Err: err}
	}
	var out []models.Driver
	for i, rec := range sheet.Records() {
		d := decodeDriver(rec)
		if d.Name == "" {
			r.log.Warn("skipping driver row without name", zap.Int("row", i+2))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// GetByID fetches a driver by id; a missing driver returns nil, nil.
func (r *DriverRepository) GetByID(ctx context.Context, id string) (*models.Driver, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, nil
}

// GetByName fetches a driver by name, case-insensitively.
func (r *DriverRepository) GetByName(ctx context.Context, name string) (*models.Driver, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	for i := range all {
		if strings.EqualFold(all[i].Name, name) {
			return &all[i], nil
		}
	}
	return nil, nil
}

// Create appends d with the next DRV-NNN id. Status defaults to active.
func (r *DriverRepository) Create(ctx context.Context, d models.Driver) (models.Driver, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return models.Driver{}, apperr.Invalid("driver_name", "required")
	}
	if d.Status == "" {
		d.Status = models.DriverStatusActive
	}
	if err := r.EnsureTable(ctx); err != nil {
		return models.Driver{}, err
	}
	existing, err := r.List(ctx)
	if err != nil {
		return models.Driver{}, err
	}
	d.ID = NextDriverID(existing)
	now := r.now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.store.AppendRow(ctx, tablestore.Drivers, encodeDriver(d)); err != nil {
		return models.Driver{}, &apperr.PersistenceError{Op: "append", Table: tablestore.Drivers, Err: err}
	}
	r.log.Info("driver created", zap.String("driver_id", d.ID), zap.String("driver_name", d.Name))
	return d, nil
}

// UpdateStatus sets a driver's status in place.
func (r *DriverRepository) UpdateStatus(ctx context.Context, id string, status models.DriverStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ref, err := r.store.FindRow(ctx, tablestore.Drivers, id)
	if err != nil {
		return &apperr.PersistenceError{Op: "find", Table: tablestore.Drivers, Err: err}
	}
	if ref == nil {
		return &apperr.NotFoundError{Kind: "driver", ID: id}
	}
	if err := r.store.UpdateCell(ctx, *ref, "status", string(status)); err != nil {
		return &apperr.PersistenceError{Op: "update", Table: tablestore.Drivers, Err: err}
	}
	return nil
}

// NextDriverID returns max(existing DRV-NNN) + 1, so deleted rows never cause reuse of a live id.
func NextDriverID(existing []models.Driver) string {
	highest := 0
	for _, d := range existing {
		m := driverIDRe.FindStringSubmatch(strings.TrimSpace(d.ID))
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("DRV-%03d", highest+1)
}

func encodeDriver(d models.Driver) []string {
	return []string{
		d.ID, d.Name, d.Phone, d.Email, string(d.Status),
		d.PrimaryAreas, d.CitiesCovered, d.ZipPrefixes, d.VehicleType,
		d.StartLocation, d.Notes, formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	}
}

func decodeDriver(rec map[string]string) models.Driver {
	name := rec["driver_name"]
	if name == "" {
		name = rec["name"]
	}
	return models.Driver{
		ID:            rec["driver_id"],
		Name:          name,
		Phone:         rec["phone"],
		Email:         rec["email"],
		Status:        models.DriverStatus(strings.ToLower(rec["status"])),
		PrimaryAreas:  rec["primary_areas"],
		CitiesCovered: rec["cities_covered"],
		ZipPrefixes:   rec["zip_prefixes"],
		VehicleType:   rec["vehicle_type"],
		StartLocation: rec["start_location"],
		Notes:         rec["notes"],
		CreatedAt:     parseTime(rec["created_at"]),
		UpdatedAt:     parseTime(rec["updated_at"]),
	}
}
