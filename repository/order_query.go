package repository

import (
	"context"
	"sort"
	"strings"

	"dmeRoutePlanner/models"
)

// OrderFilter selects orders. Zero fields match everything.
type OrderFilter struct {
	Date     string
	Statuses []models.OrderStatus
	Driver   string
}

// Match reports whether o passes every set field of f.
func (f OrderFilter) Match(o *models.Order) bool {
	if f.Date != "" && o.Date != f.Date {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if o.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Driver != "" && !strings.EqualFold(strings.TrimSpace(o.AssignedDriver), strings.TrimSpace(f.Driver)) {
		return false
	}
	return true
}

// List returns stored orders matching f, oldest first.
func (r *OrderRepository) List(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	all, err := r.ListByDate(ctx, f.Date)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for i := range all {
		if f.Match(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Dates lists every operating day present in ORDERS, newest first.
func (r *OrderRepository) Dates(ctx context.Context) ([]string, error) {
	recs, err := r.records(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, rec := range recs {
		d := recordDate(rec)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}
