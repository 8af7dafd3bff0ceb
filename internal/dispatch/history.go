package dispatch

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

// HistoryDay is one stored operating day.
type HistoryDay struct {
	Date    string         `json:"date"`
	Orders  []models.Order `json:"orders"`
	Routes  []models.Route `json:"routes"`
	Summary DaySummary     `json:"summary"`
}

// DaySummary totals a HistoryDay.
type DaySummary struct {
	Orders    int     `json:"orders"`
	Delivered int     `json:"delivered"`
	Failed    int     `json:"failed"`
	Routes    int     `json:"routes"`
	Stops     int     `json:"stops"`
	Miles     float64 `json:"miles"`
	Drivers   int     `json:"drivers"`
}

func summarize(orders []models.Order, routes []models.Route) DaySummary {
	sum := DaySummary{Orders: len(orders), Routes: len(routes)}
	for _, o := range orders {
		switch o.Status {
		case models.OrderStatusDelivered:
			sum.Delivered++
		case models.OrderStatusFailed:
			sum.Failed++
		}
	}
	drivers := make(map[string]bool)
	for _, r := range routes {
		sum.Stops += r.Summary.TotalStops
		sum.Miles += r.Summary.TotalDistanceMiles
		drivers[strings.ToLower(r.DriverName)] = true
	}
	sum.Drivers = len(drivers)
	return sum
}

// History returns the stored orders and routes of every day in [from, to],
// newest first. An empty bound leaves that side open. The working set is not
// consulted: unsynced changes of the session day are not part of history.
func (s *Service) History(ctx context.Context, userID, from, to string) ([]HistoryDay, error) {
	if _, err := s.Session(userID); err != nil {
		return nil, err
	}
	for field, v := range map[string]string{"from": from, "to": to} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, v); err != nil {
			return nil, apperr.Invalid(field, "want YYYY-MM-DD")
		}
	}
	if from != "" && to != "" && from > to {
		return nil, apperr.Invalid("from", "after to")
	}
	if s.deps.Orders == nil {
		return nil, nil
	}
	dates, err := s.deps.Orders.Dates(ctx)
	if err != nil {
		return nil, err
	}
	var out []HistoryDay
	for _, d := range dates {
		if (from != "" && d < from) || (to != "" && d > to) {
			continue
		}
		orders, err := s.deps.Orders.List(ctx, repository.OrderFilter{Date: d})
		if err != nil {
			return nil, err
		}
		var routes []models.Route
		if s.deps.Routes != nil {
			if routes, err = s.deps.Routes.ListByDate(ctx, d); err != nil {
				return nil, err
			}
		}
		out = append(out, HistoryDay{Date: d, Orders: orders, Routes: routes, Summary: summarize(orders, routes)})
	}
	s.log.Debug("history read", zap.String("user_id", userID), zap.String("from", from), zap.String("to", to), zap.Int("days", len(out)))
	return out, nil
}
