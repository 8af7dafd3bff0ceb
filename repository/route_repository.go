package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/models"
)

// RouteColumns is the canonical ROUTES header. order_ids keeps the stop sequence.
var RouteColumns = []string{
	"route_id", "date", "driver_name", "start_location", "total_stops",
	"total_distance_miles", "total_drive_time_min", "estimated_finish",
	"route_status", "sent_at", "created_at", "order_ids",
}

// RouteID builds ROUTE-YYYYMMDD-<FIRSTNAME> for a driver's route on date.
func RouteID(date, driverName string) string {
	first := "DRIVER"
	if f := strings.Fields(driverName); len(f) > 0 {
		first = strings.ToUpper(f[0])
	}
	return fmt.Sprintf("ROUTE-%s-%s", strings.ReplaceAll(date, "-", ""), first)
}

// RouteRepository keeps the per-day route history in ROUTES.
type RouteRepository struct {
	store tablestore.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewRouteRepository(store tablestore.Store, log *zap.Logger) *RouteRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &RouteRepository{store: store, log: log, now: time.Now}
}

// EnsureTable creates ROUTES with the canonical header if it does not exist.
func (r *RouteRepository) EnsureTable(ctx context.Context) error {
	if err := r.store.EnsureTable(ctx, tablestore.Routes, RouteColumns); err != nil {
		return &apperr.PersistenceError{Op: "ensure", Table: tablestore.Routes, Err: err}
	}
	return nil
}

func (r *RouteRepository) records(ctx context.Context) ([]map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	sheet, err := r.store.ReadAll(ctx, tablestore.Routes)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "read", Table: tablestore.Routes, Err: err}
	}
	return sheet.Records(), nil
}

// ListByDate returns the stored routes of date ordered by driver name. Stops are
// rebuilt from order_ids only; per-stop details live on the orders.
func (r *RouteRepository) ListByDate(ctx context.Context, date string) ([]models.Route, error) {
	recs, err := r.records(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Route
	for _, rec := range recs {
		if rec["route_id"] == "" || (date != "" && rec["date"] != date) {
			continue
		}
		out = append(out, decodeRoute(rec))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DriverName < out[j].DriverName })
	return out, nil
}

// ReplaceDate overwrites the route history of date with routes. Rows of other
// dates are kept, so re-running an optimization never duplicates history.
func (r *RouteRepository) ReplaceDate(ctx context.Context, date string, routes []models.Route) error {
	recs, err := r.records(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(recs)+len(routes))
	for _, rec := range recs {
		if rec["date"] == date || rec["route_id"] == "" {
			continue
		}
		row := make([]string, len(RouteColumns))
		for i, k := range RouteColumns {
			row[i] = rec[k]
		}
		rows = append(rows, row)
	}
	now := r.now().UTC()
	for _, rt := range routes {
		rt.Date = date
		if rt.ID == "" {
			rt.ID = RouteID(date, rt.DriverName)
		}
		if rt.Status == "" {
			rt.Status = models.RouteStatusPlanned
		}
		rows = append(rows, encodeRoute(rt, now))
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := r.store.OverwriteAll(ctx, tablestore.Routes, RouteColumns, rows); err != nil {
		return &apperr.PersistenceError{Op: "overwrite", Table: tablestore.Routes, Err: err}
	}
	return nil
}

func encodeRoute(rt models.Route, now time.Time) []string {
	sentAt := ""
	if rt.Status == models.RouteStatusSent {
		sentAt = formatTime(now)
	}
	return []string{
		rt.ID, rt.Date, rt.DriverName, rt.Summary.StartLocation,
		strconv.Itoa(rt.Summary.TotalStops),
		strconv.FormatFloat(rt.Summary.TotalDistanceMiles, 'f', -1, 64),
		strconv.FormatFloat(rt.Summary.TotalDriveTimeMin, 'f', -1, 64),
		rt.Summary.EstimatedFinish, string(rt.Status), sentAt, formatTime(now),
		strings.Join(rt.OrderIDs(), ItemSeparator),
	}
}

func decodeRoute(rec map[string]string) models.Route {
	rt := models.Route{
		ID:         rec["route_id"],
		Date:       rec["date"],
		DriverName: rec["driver_name"],
		Status:     models.RouteStatus(strings.ToLower(rec["route_status"])),
	}
	rt.Summary.StartLocation = rec["start_location"]
	rt.Summary.EstimatedFinish = rec["estimated_finish"]
	rt.Summary.TotalStops, _ = strconv.Atoi(rec["total_stops"])
	rt.Summary.TotalDistanceMiles, _ = strconv.ParseFloat(rec["total_distance_miles"], 64)
	rt.Summary.TotalDriveTimeMin, _ = strconv.ParseFloat(rec["total_drive_time_min"], 64)
	for i, id := range SplitItems(rec["order_ids"]) {
		rt.Stops = append(rt.Stops, models.Stop{StopNumber: i + 1, OrderID: id})
	}
	return rt
}
