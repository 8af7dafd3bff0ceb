// Package reconcile merges optimizer output back into the working set and
// owns the manual assignment overrides.
package reconcile

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/metrics"
	"dmeRoutePlanner/internal/orderstore"
	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

// Options tune one Apply call.
type Options struct {
	// Override lets a run move orders already dispatched to another driver.
	Override bool
}

// Report describes what one Apply call did.
type Report struct {
	// Updated lists orders whose assignment fields changed.
	Updated []string `json:"updated"`
	// Dispatched lists orders moved from pending to sent_to_driver.
	Dispatched []string `json:"dispatched"`
	// Reassigned lists dispatched orders moved under Override.
	Reassigned []apperr.Conflict `json:"reassigned,omitempty"`
	// Skipped lists orders left alone because they are delivered, failed or archived.
	Skipped []string `json:"skipped,omitempty"`
	// Unmatched lists stop references that no longer resolve to an order.
	Unmatched []string `json:"unmatched,omitempty"`
}

// Changed reports whether anything in the working set moved.
func (r *Report) Changed() bool { return len(r.Updated) > 0 }

// Reconciler applies optimization results to a working set.
type Reconciler struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New returns a Reconciler; log and m may be nil.
func New(log *zap.Logger, m *metrics.Metrics) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{log: log, metrics: m}
}

type placement struct {
	orderID string
	driver  string
	routeID string
	stop    int
	eta     string
}

// Apply writes every route stop of result into store. Stops resolve by
// order_id, then by exact (trimmed, case-folded) address. Before anything is
// written every placement is checked; if one would move an order already
// sent_to_driver to a different driver and opts.Override is false, Apply
// returns a ConflictError and changes nothing. Re-applying the same result is
// a no-op.
func (r *Reconciler) Apply(store *orderstore.Store, result *models.OptimizationResult, opts Options) (*Report, error) {
	report := &Report{}
	if result == nil || len(result.Routes) == 0 {
		return report, nil
	}
	day, orders := store.Snapshot()
	idx := newIndex(orders)

	drivers := make([]string, 0, len(result.Routes))
	for name := range result.Routes {
		drivers = append(drivers, name)
	}
	sort.Strings(drivers)

	var plan []placement
	var conflicts []apperr.Conflict
	claimed := make(map[string]bool)
	for _, driver := range drivers {
		route := result.Routes[driver]
		routeID := route.ID
		if routeID == "" {
			date := route.Date
			if date == "" {
				date = day
			}
			routeID = repository.RouteID(date, driver)
		}
		for _, st := range route.Stops {
			o, ok := idx.resolve(st.OrderID, st.Address)
			if !ok {
				ref := st.OrderID
				if ref == "" {
					ref = st.Address
				}
				report.Unmatched = append(report.Unmatched, ref)
				continue
			}
			if claimed[o.ID] {
				continue
			}
			claimed[o.ID] = true
			if o.Status.IsTerminal() {
				report.Skipped = append(report.Skipped, o.ID)
				continue
			}
			if isConflict(o, driver) {
				conflicts = append(conflicts, apperr.Conflict{OrderID: o.ID, CurrentDriver: o.AssignedDriver, ProposedDriver: driver})
			}
			plan = append(plan, placement{orderID: o.ID, driver: driver, routeID: routeID, stop: st.StopNumber, eta: st.ETA})
		}
	}

	if len(conflicts) > 0 {
		if !opts.Override {
			r.metrics.AddConflicts(len(conflicts))
			r.log.Warn("optimization result would reassign dispatched orders",
				zap.Int("conflicts", len(conflicts)), zap.String("date", day))
			return nil, &apperr.ConflictError{Conflicts: conflicts}
		}
		report.Reassigned = conflicts
	}

	for _, p := range plan {
		var dispatched bool
		changed, err := store.Mutate(p.orderID, func(o *models.Order) error {
			o.AssignedDriver = p.driver
			o.RouteID = p.routeID
			o.StopNumber = p.stop
			o.ETA = p.eta
			if o.Status == models.OrderStatusPending {
				o.Status = models.OrderStatusSentToDriver
				dispatched = true
			}
			return nil
		})
		if err != nil {
			// The order vanished after the snapshot; nothing to write for it.
			report.Unmatched = append(report.Unmatched, p.orderID)
			continue
		}
		if changed {
			report.Updated = append(report.Updated, p.orderID)
		}
		if dispatched {
			report.Dispatched = append(report.Dispatched, p.orderID)
		}
	}
	r.log.Info("optimization result applied",
		zap.String("date", day),
		zap.Int("updated", len(report.Updated)),
		zap.Int("dispatched", len(report.Dispatched)),
		zap.Int("reassigned", len(report.Reassigned)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("unmatched", len(report.Unmatched)))
	return report, nil
}

// ForceAssign attaches driver to one order by hand and moves it to
// sent_to_driver. Moving an order to a different driver clears its route,
// stop number and ETA, which belonged to the old route. Delivered, failed
// and archived orders cannot be reassigned.
func (r *Reconciler) ForceAssign(store *orderstore.Store, orderID, driver string) error {
	driver = strings.TrimSpace(driver)
	if driver == "" {
		return apperr.Invalid("assigned_driver", "required")
	}
	var previous string
	_, err := store.Mutate(orderID, func(o *models.Order) error {
		if o.Status.IsTerminal() {
			return apperr.Invalid("status", "order is "+string(o.Status)+" and cannot be reassigned")
		}
		previous = o.AssignedDriver
		if !strings.EqualFold(strings.TrimSpace(o.AssignedDriver), driver) {
			o.RouteID, o.StopNumber, o.ETA = "", 0, ""
		}
		o.AssignedDriver = driver
		o.Status = models.OrderStatusSentToDriver
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info("order assigned manually",
		zap.String("order_id", orderID), zap.String("driver", driver), zap.String("previous_driver", previous))
	return nil
}

// MarkDelivered closes a dispatched order successfully.
func (r *Reconciler) MarkDelivered(store *orderstore.Store, orderID string) error {
	return store.UpdateStatus(orderID, models.OrderStatusDelivered)
}

// MarkFailed records a delivery issue on a dispatched order.
func (r *Reconciler) MarkFailed(store *orderstore.Store, orderID string) error {
	return store.UpdateStatus(orderID, models.OrderStatusFailed)
}

// UnassignedAfter returns the orders of inputs that no route of result
// references, in input order.
func UnassignedAfter(result *models.OptimizationResult, inputs []models.Order) []models.Order {
	idx := newIndex(inputs)
	placed := make(map[string]bool)
	if result != nil {
		for _, route := range result.Routes {
			for _, st := range route.Stops {
				if o, ok := idx.resolve(st.OrderID, st.Address); ok {
					placed[o.ID] = true
				}
			}
		}
	}
	var out []models.Order
	for _, o := range inputs {
		if !placed[o.ID] {
			out = append(out, o.Clone())
		}
	}
	return out
}

func isConflict(o *models.Order, driver string) bool {
	return o.Status == models.OrderStatusSentToDriver &&
		o.IsAssigned() &&
		!strings.EqualFold(strings.TrimSpace(o.AssignedDriver), strings.TrimSpace(driver))
}

type index struct {
	byID   map[string]*models.Order
	byAddr map[string][]*models.Order
}

func newIndex(orders []models.Order) *index {
	idx := &index{byID: make(map[string]*models.Order, len(orders)), byAddr: make(map[string][]*models.Order)}
	for i := range orders {
		o := &orders[i]
		idx.byID[o.ID] = o
		k := strings.ToLower(strings.TrimSpace(o.Address))
		idx.byAddr[k] = append(idx.byAddr[k], o)
	}
	return idx
}

// resolve prefers order_id. The address fallback only answers when the
// address names exactly one order.
func (x *index) resolve(id, address string) (*models.Order, bool) {
	if o, ok := x.byID[strings.TrimSpace(id)]; ok {
		return o, true
	}
	k := strings.ToLower(strings.TrimSpace(address))
	if k == "" {
		return nil, false
	}
	if cands := x.byAddr[k]; len(cands) == 1 {
		return cands[0], true
	}
	return nil, false
}
