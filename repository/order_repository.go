package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/models"
)

// OrderRepository maps orders onto the ORDERS table of the backing store.
// Writes are full-snapshot overwrites per date; the only row-level write is UpdateStatus.
type OrderRepository struct {
	store tablestore.Store
	log   *zap.Logger
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(store tablestore.Store, log *zap.Logger) *OrderRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderRepository{store: store, log: log}
}

// EnsureTable creates ORDERS with the canonical header if it does not exist.
func (r *OrderRepository) EnsureTable(ctx context.Context) error {
	if err := r.store.EnsureTable(ctx, tablestore.Orders, OrderColumns); err != nil {
		return &apperr.PersistenceError{Op: "ensure", Table: tablestore.Orders, Err: err}
	}
	return nil
}

// records reads ORDERS and returns its rows keyed by canonical column.
func (r *OrderRepository) records(ctx context.Context) ([]map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	sheet, err := r.store.ReadAll(ctx, tablestore.Orders)
	if err != nil {
		return nil, &apperr.PersistenceError{Op: "read", Table: tablestore.Orders, Err: err}
	}
	recs := sheet.Records()
	for i := range recs {
		recs[i] = CanonicalOrderRecord(recs[i])
	}
	return recs, nil
}

// ListByDate returns the stored orders for date (all dates when empty), oldest first.
// Rows without an order_id are skipped. Two rows with the same order_id fail the
// whole read with an IdentityError: persisted state is corrupt.
func (r *OrderRepository) ListByDate(ctx context.Context, date string) ([]models.Order, error) {
	recs, err := r.records(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Order
	seen := make(map[string]bool)
	var dups []string
	for i, rec := range recs {
		o, err := DecodeOrder(rec)
		if err != nil {
			r.log.Warn("skipping order row", zap.Int("row", i+2), zap.Error(err))
			continue
		}
		if date != "" && o.Date != date {
			continue
		}
		if seen[o.ID] {
			dups = append(dups, o.ID)
			continue
		}
		seen[o.ID] = true
		out = append(out, o)
	}
	if len(dups) > 0 {
		r.log.Error("duplicate order_id in ORDERS", zap.String("date", date), zap.Strings("order_ids", dups))
		return nil, &apperr.IdentityError{Duplicates: dups}
	}
	sortOrders(out)
	return out, nil
}

// ReplaceDate overwrites the stored orders of one date with orders.
func (r *OrderRepository) ReplaceDate(ctx context.Context, date string, orders []models.Order) error {
	return r.ReplaceDates(ctx, map[string][]models.Order{date: orders})
}

// ReplaceDates overwrites the stored orders of every date in byDate within a
// single read and write, leaving rows of other dates as they were. A stored row
// is replaced when its date (see recordDate) is in byDate or when its order_id
// is being written, so an id never ends up on two rows. Calling it twice with
// the same input leaves the table unchanged.
func (r *OrderRepository) ReplaceDates(ctx context.Context, byDate map[string][]models.Order) error {
	recs, err := r.records(ctx)
	if err != nil {
		return err
	}
	writing := make(map[string]bool)
	for _, orders := range byDate {
		for _, o := range orders {
			writing[o.ID] = true
		}
	}
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		id := strings.TrimSpace(rec["order_id"])
		if id == "" || writing[id] {
			continue
		}
		if _, replaced := byDate[recordDate(rec)]; replaced {
			continue
		}
		rows = append(rows, reencode(rec))
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		for _, o := range byDate[d] {
			o.Date = d
			rows = append(rows, EncodeOrder(o))
		}
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := r.store.OverwriteAll(ctx, tablestore.Orders, OrderColumns, rows); err != nil {
		return &apperr.PersistenceError{Op: "overwrite", Table: tablestore.Orders, Err: err}
	}
	r.log.Debug("orders persisted", zap.Strings("dates", dates), zap.Int("rows", len(rows)))
	return nil
}

// UpdateStatus writes one order's status in place without rewriting the table.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) error {
	if !status.IsValid() {
		return apperr.Invalid("status", string(status))
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ref, err := r.store.FindRow(ctx, tablestore.Orders, id)
	if err != nil {
		return &apperr.PersistenceError{Op: "find", Table: tablestore.Orders, Err: err}
	}
	if ref == nil {
		return &apperr.NotFoundError{Kind: "order", ID: id}
	}
	if err := r.store.UpdateCell(ctx, *ref, "status", string(status)); err != nil {
		return &apperr.PersistenceError{Op: "update", Table: tablestore.Orders, Err: err}
	}
	err = r.store.UpdateCell(ctx, *ref, "updated_at", formatTime(time.Now()))
	if err != nil && !errors.Is(err, tablestore.ErrUnknownColumn) {
		return &apperr.PersistenceError{Op: "update", Table: tablestore.Orders, Err: err}
	}
	return nil
}

// sortOrders orders by creation time, then id, so loads are deterministic
// whatever the row order in the store.
func sortOrders(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
