// Package dispatch is the command surface of the planner. It keeps one
// SessionState per signed-in user and runs every user-facing command against
// it: add and delete orders, pick drivers, optimize, force-assign, sync to the
// backing store and advance the day.
package dispatch

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/intake"
	"dmeRoutePlanner/internal/metrics"
	"dmeRoutePlanner/internal/orderstore"
	"dmeRoutePlanner/internal/reconcile"
	"dmeRoutePlanner/internal/roster"
	"dmeRoutePlanner/internal/session"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

// OrderRepository is the ORDERS persistence the service needs.
type OrderRepository interface {
	orderstore.Repository
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus) error
	List(ctx context.Context, f repository.OrderFilter) ([]models.Order, error)
	Dates(ctx context.Context) ([]string, error)
}

// RouteRepository is the ROUTES persistence the service needs.
type RouteRepository interface {
	ListByDate(ctx context.Context, date string) ([]models.Route, error)
	ReplaceDate(ctx context.Context, date string, routes []models.Route) error
}

// Optimizer plans routes. *optimizer.Gateway satisfies it.
type Optimizer interface {
	Optimize(ctx context.Context, orders []models.Order, drivers []models.Driver) (*models.OptimizationResult, error)
}

// TextParser extracts orders from free text. *intake.TextParser satisfies it.
type TextParser interface {
	Parse(ctx context.Context, text string) ([]intake.Row, []intake.RowError, error)
}

// Deps wires the service.
type Deps struct {
	Orders     OrderRepository
	Drivers    roster.Repository
	Routes     RouteRepository
	Optimizer  Optimizer
	Parser     TextParser
	Lifecycle  *session.Lifecycle
	Reconciler *reconcile.Reconciler
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

// SessionState is everything one dispatcher works on. All fields are guarded by mu.
type SessionState struct {
	mu     sync.Mutex
	UserID string
	Orders *orderstore.Store
	Roster *roster.Roster
	// Routes are the last applied optimization routes, keyed by driver name.
	Routes map[string]models.Route
	// Pending is a result held back by a conflict until confirmed.
	Pending    *models.OptimizationResult
	pendingDay string
	optimizing bool
}

func (st *SessionState) routeList() []models.Route {
	names := make([]string, 0, len(st.Routes))
	for n := range st.Routes {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]models.Route, 0, len(names))
	for _, n := range names {
		out = append(out, st.Routes[n])
	}
	return out
}

// Service runs commands against per-user sessions.
type Service struct {
	deps     Deps
	log      *zap.Logger
	mu       sync.Mutex
	sessions map[string]*SessionState
}

func NewService(deps Deps) *Service {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Reconciler == nil {
		deps.Reconciler = reconcile.New(deps.Log, deps.Metrics)
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = session.New(session.Config{}, nil, deps.Log, deps.Metrics)
	}
	return &Service{deps: deps, log: deps.Log, sessions: make(map[string]*SessionState)}
}

// Activation describes how a session came up.
type Activation struct {
	Day      string            `json:"day"`
	Restored bool              `json:"restored"`
	Orders   int               `json:"orders"`
	Rollover *session.Rollover `json:"rollover,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// Activate opens (or reopens) the session of userID. A new session is seeded
// from a fresh recovery snapshot when one exists, otherwise from today's
// stored orders. Every activation then checks for a day change once.
func (s *Service) Activate(ctx context.Context, userID string) (*Activation, error) {
	if userID == "" {
		return nil, apperr.Invalid("user_id", "required")
	}
	s.mu.Lock()
	st, existing := s.sessions[userID]
	if !existing {
		st = &SessionState{
			UserID: userID,
			Orders: orderstore.New(s.deps.Lifecycle.CurrentOperatingDay(), s.deps.Orders, s.log),
			Roster: roster.New(s.deps.Drivers, s.log),
			Routes: make(map[string]models.Route),
		}
		s.sessions[userID] = st
	}
	s.deps.Metrics.SetSessions(len(s.sessions))
	s.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	act := &Activation{}
	if !existing {
		if err := s.seed(ctx, st, act); err != nil {
			s.mu.Lock()
			delete(s.sessions, userID)
			s.deps.Metrics.SetSessions(len(s.sessions))
			s.mu.Unlock()
			return nil, err
		}
	}

	roll, err := s.deps.Lifecycle.OnDayChange(ctx, st.Orders.Day(), st.Orders)
	if err != nil {
		act.Warnings = append(act.Warnings, "day rollover postponed: "+err.Error())
	}
	if roll != nil {
		act.Rollover = roll
		st.Routes = make(map[string]models.Route)
		st.Pending, st.pendingDay = nil, ""
	}
	s.saveLocked(ctx, st)
	act.Day = st.Orders.Day()
	act.Orders = st.Orders.Len()
	s.log.Info("session activated",
		zap.String("user_id", userID), zap.String("day", act.Day),
		zap.Bool("restored", act.Restored), zap.Int("orders", act.Orders))
	return act, nil
}

func (s *Service) seed(ctx context.Context, st *SessionState, act *Activation) error {
	snap, err := s.deps.Lifecycle.RestoreRecoveryCache(ctx, st.UserID)
	if err != nil {
		act.Warnings = append(act.Warnings, "recovery cache unavailable: "+err.Error())
	}
	if snap != nil {
		if err := st.Orders.Replace(snap.Day, snap.Orders); err != nil {
			return err
		}
		st.Roster.Restore(snap.Roster)
		if s.deps.Drivers != nil {
			if err := st.Roster.Refresh(ctx); err != nil {
				act.Warnings = append(act.Warnings, "drivers not loaded: "+err.Error())
			}
		}
		for _, r := range snap.Routes {
			st.Routes[r.DriverName] = r
		}
		if snap.Pending != nil {
			st.Pending, st.pendingDay = snap.Pending.Result, snap.Pending.Day
		}
		act.Restored = true
		return nil
	}
	if s.deps.Orders == nil {
		return nil
	}
	day := st.Orders.Day()
	if err := st.Orders.LoadDay(ctx, day); err != nil {
		if errors.Is(err, apperr.ErrIdentity) {
			return err
		}
		act.Warnings = append(act.Warnings, "stored orders not loaded: "+err.Error())
		return nil
	}
	if s.deps.Routes != nil {
		routes, err := s.deps.Routes.ListByDate(ctx, day)
		if err != nil {
			act.Warnings = append(act.Warnings, "stored routes not loaded: "+err.Error())
		}
		for _, r := range routes {
			st.Routes[r.DriverName] = r
		}
	}
	return nil
}

// Session returns the active session of userID.
func (s *Service) Session(userID string) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[userID]
	if !ok {
		return nil, &apperr.NotFoundError{Kind: "session", ID: userID}
	}
	return st, nil
}

// with runs fn under the session lock and refreshes the recovery snapshot
// afterwards when fn reports a change.
func (s *Service) with(ctx context.Context, userID string, fn func(st *SessionState) (bool, error)) error {
	st, err := s.Session(userID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	changed, err := fn(st)
	if changed {
		s.saveLocked(ctx, st)
	}
	return err
}

func (s *Service) saveLocked(ctx context.Context, st *SessionState) {
	day, orders := st.Orders.Snapshot()
	snap := &session.Snapshot{
		UserID: st.UserID,
		Day:    day,
		Orders: orders,
		Roster: st.Roster.Export(),
		Routes: st.routeList(),
	}
	if st.Pending != nil {
		snap.Pending = &session.PendingResult{Result: st.Pending, Day: st.pendingDay}
	}
	if err := s.deps.Lifecycle.SaveRecoveryCache(ctx, snap); err != nil {
		s.log.Warn("recovery snapshot not saved", zap.String("user_id", st.UserID), zap.Error(err))
	}
}

// AddOrder validates in and adds it to the working set.
func (s *Service) AddOrder(ctx context.Context, userID string, in models.OrderInput) (string, error) {
	var id string
	err := s.with(ctx, userID, func(st *SessionState) (bool, error) {
		var err error
		id, err = st.Orders.Create(in)
		return err == nil, err
	})
	return id, err
}

// UpdateOrder edits one descriptive field of one order.
func (s *Service) UpdateOrder(ctx context.Context, userID, orderID, field, value string) error {
	return s.with(ctx, userID, func(st *SessionState) (bool, error) {
		err := st.Orders.UpdateField(orderID, field, value)
		return err == nil, err
	})
}

// DeleteOrders removes orders by id. Ids not in the working set are reported
// as missing; when none of the ids exist the call fails with NotFoundError.
func (s *Service) DeleteOrders(ctx context.Context, userID string, ids []string) (removed, missing []string, err error) {
	if len(ids) == 0 {
		return nil, nil, apperr.Invalid("order_ids", "required")
	}
	err = s.with(ctx, userID, func(st *SessionState) (bool, error) {
		removed, missing = st.Orders.Delete(ids...)
		if len(removed) == 0 && len(missing) > 0 {
			return false, &apperr.NotFoundError{Kind: "order", ID: missing[0]}
		}
		return len(removed) > 0, nil
	})
	return removed, missing, err
}

// ListOrders returns orders matching f. An empty f.Date or the session day
// reads the working set; any other date reads the stored orders of that day.
func (s *Service) ListOrders(ctx context.Context, userID string, f repository.OrderFilter) ([]models.Order, error) {
	st, err := s.Session(userID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	if f.Date == "" || f.Date == st.Orders.Day() {
		f.Date = ""
		out := st.Orders.List(f)
		st.mu.Unlock()
		return out, nil
	}
	st.mu.Unlock()
	if s.deps.Orders == nil {
		return nil, nil
	}
	return s.deps.Orders.List(ctx, f)
}

// ListRoutes returns the routes of the last applied run, ordered by driver name.
func (s *Service) ListRoutes(userID string) ([]models.Route, error) {
	st, err := s.Session(userID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.routeList(), nil
}

// ImportResult reports a bulk import.
type ImportResult struct {
	Created  []string          `json:"created"`
	Rejected []intake.RowError `json:"rejected,omitempty"`
}

// ImportOrders creates one order per row; rows failing validation are rejected individually.
func (s *Service) ImportOrders(ctx context.Context, userID string, rows []intake.Row) (*ImportResult, error) {
	res := &ImportResult{}
	err := s.with(ctx, userID, func(st *SessionState) (bool, error) {
		for _, r := range rows {
			id, err := st.Orders.Create(r.Input)
			if err != nil {
				res.Rejected = append(res.Rejected, intake.RowError{Line: r.Line, Err: err.Error()})
				continue
			}
			res.Created = append(res.Created, id)
		}
		return len(res.Created) > 0, nil
	})
	return res, err
}

// ImportFile parses a .csv or .xlsx upload and imports its rows.
func (s *Service) ImportFile(ctx context.Context, userID, name string, r io.Reader) (*ImportResult, error) {
	rows, rowErrs, err := intake.ImportFile(name, r)
	if err != nil {
		return nil, err
	}
	res, err := s.ImportOrders(ctx, userID, rows)
	if res != nil {
		res.Rejected = mergeRowErrors(rowErrs, res.Rejected)
	}
	return res, err
}

// ParseOrdersText extracts orders from free text and imports them.
func (s *Service) ParseOrdersText(ctx context.Context, userID, text string) (*ImportResult, error) {
	if s.deps.Parser == nil {
		return nil, &apperr.OptimizationError{Err: errors.New("text parsing is not configured")}
	}
	if _, err := s.Session(userID); err != nil {
		return nil, err
	}
	rows, rowErrs, err := s.deps.Parser.Parse(ctx, text)
	if err != nil {
		return nil, err
	}
	res, err := s.ImportOrders(ctx, userID, rows)
	if res != nil {
		res.Rejected = mergeRowErrors(rowErrs, res.Rejected)
	}
	return res, err
}

func mergeRowErrors(a, b []intake.RowError) []intake.RowError {
	out := append(append([]intake.RowError(nil), a...), b...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

// ListDrivers returns the active drivers with session overrides applied.
func (s *Service) ListDrivers(ctx context.Context, userID string) ([]models.Driver, error) {
	var out []models.Driver
	err := s.with(ctx, userID, func(st *SessionState) (bool, error) {
		var err error
		out, err = st.Roster.ListActive(ctx)
		return false, err
	})
	return out, err
}

// SelectDrivers replaces the set of drivers routed today.
func (s *Service) SelectDrivers(ctx context.Context, userID string, ids []string) ([]models.Driver, error) {
	var out []models.Driver
	err := s.with(ctx, userID, func(st *SessionState) (bool, error) {
		var err error
		out, err = st.Roster.Select(ctx, ids)
		return err == nil, err
	})
	return out, err
}

// ConfigureDriver sets a session-only start time and location for one driver.
func (s *Service) ConfigureDriver(ctx context.Context, userID, driverID, startTime, startLocation string) error {
	return s.with(ctx, userID, func(st *SessionState) (bool, error) {
		err := st.Roster.Configure(ctx, driverID, startTime, startLocation)
		return err == nil, err
	})
}

// AddDriver stores a new driver.
func (s *Service) AddDriver(ctx context.Context, userID string, d models.Driver) (string, error) {
	var id string
	err := s.with(ctx, userID, func(st *SessionState) (bool, error) {
		var err error
		id, err = st.Roster.Add(ctx, d)
		return false, err
	})
	return id, err
}

// SetDriverStatus activates or deactivates a stored driver.
func (s *Service) SetDriverStatus(ctx context.Context, userID, driverID string, active bool) (models.Driver, error) {
	status := models.DriverStatusInactive
	if active {
		status = models.DriverStatusActive
	}
	var d models.Driver
	err := s.with(ctx, userID, func(st *SessionState) (bool, error) {
		var err error
		d, err = st.Roster.SetStatus(ctx, driverID, status)
		return false, err
	})
	return d, err
}

// RunOutcome is the result of one optimization run as applied to the working set.
type RunOutcome struct {
	Result     *models.OptimizationResult `json:"result"`
	Report     *reconcile.Report          `json:"report,omitempty"`
	Unassigned []models.Order             `json:"unassigned"`
	// Conflicts is set when the run is waiting for ConfirmOptimization.
	Conflicts []apperr.Conflict `json:"conflicts,omitempty"`
}

// RunOptimization sends the open orders and selected drivers to the optimizer
// and applies the answer. The session is not locked during the call, so other
// commands keep working; the answer is discarded if the day changed meanwhile.
// A ConflictError keeps the result pending for ConfirmOptimization.
func (s *Service) RunOptimization(ctx context.Context, userID string) (*RunOutcome, error) {
	if s.deps.Optimizer == nil {
		return nil, &apperr.OptimizationError{Err: errors.New("optimizer is not configured")}
	}
	st, err := s.Session(userID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	if st.optimizing {
		st.mu.Unlock()
		return nil, apperr.Invalid("optimization", "a run is already in progress")
	}
	day := st.Orders.Day()
	orders := st.Orders.List(repository.OrderFilter{Statuses: []models.OrderStatus{models.OrderStatusPending, models.OrderStatusSentToDriver}})
	drivers := st.Roster.Selected()
	if len(orders) == 0 {
		st.mu.Unlock()
		return nil, apperr.Invalid("orders", "no open orders to optimize")
	}
	if len(drivers) == 0 {
		st.mu.Unlock()
		return nil, apperr.Invalid("drivers", "select at least one driver")
	}
	st.optimizing = true
	st.mu.Unlock()

	result, err := s.deps.Optimizer.Optimize(ctx, orders, drivers)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.optimizing = false
	if err != nil {
		s.log.Warn("optimization failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if st.Orders.Day() != day {
		s.log.Info("discarding optimization result for a past day", zap.String("user_id", userID), zap.String("day", day))
		return nil, apperr.Invalid("day", "operating day changed during optimization; result discarded")
	}
	return s.applyLocked(ctx, st, result, day, orders, reconcile.Options{})
}

// ConfirmOptimization applies the pending result, moving dispatched orders.
func (s *Service) ConfirmOptimization(ctx context.Context, userID string) (*RunOutcome, error) {
	st, err := s.Session(userID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.Pending == nil {
		return nil, apperr.Invalid("optimization", "no result is waiting for confirmation")
	}
	if st.pendingDay != st.Orders.Day() {
		st.Pending, st.pendingDay = nil, ""
		s.saveLocked(ctx, st)
		return nil, apperr.Invalid("day", "pending result belongs to a past day and was discarded")
	}
	return s.applyLocked(ctx, st, st.Pending, st.pendingDay, st.Orders.List(repository.OrderFilter{}), reconcile.Options{Override: true})
}

// DiscardOptimization drops a pending result without applying it.
func (s *Service) DiscardOptimization(ctx context.Context, userID string) error {
	return s.with(ctx, userID, func(st *SessionState) (bool, error) {
		changed := st.Pending != nil
		st.Pending, st.pendingDay = nil, ""
		return changed, nil
	})
}

func (s *Service) applyLocked(ctx context.Context, st *SessionState, result *models.OptimizationResult, day string, inputs []models.Order, opts reconcile.Options) (*RunOutcome, error) {
	out := &RunOutcome{Result: result, Unassigned: unassigned(result, inputs)}
	report, err := s.deps.Reconciler.Apply(st.Orders, result, opts)
	var conflict *apperr.ConflictError
	if errors.As(err, &conflict) {
		st.Pending, st.pendingDay = result, day
		out.Conflicts = conflict.Conflicts
		s.saveLocked(ctx, st)
		return out, err
	}
	if err != nil {
		return nil, err
	}
	out.Report = report
	st.Routes = make(map[string]models.Route, len(result.Routes))
	for name, r := range result.Routes {
		st.Routes[name] = r
	}
	st.Pending, st.pendingDay = nil, ""
	s.saveLocked(ctx, st)
	return out, nil
}

func unassigned(result *models.OptimizationResult, inputs []models.Order) []models.Order {
	if len(result.Unassigned) > 0 {
		return result.Unassigned
	}
	return reconcile.UnassignedAfter(result, inputs)
}

// ForceAssign attaches a known driver to one order by hand.
func (s *Service) ForceAssign(ctx context.Context, userID, orderID, driverName string) error {
	return s.with(ctx, userID, func(st *SessionState) (bool, error) {
		if _, err := st.Roster.ListActive(ctx); err != nil {
			return false, err
		}
		d, ok := st.Roster.ByName(driverName)
		if !ok {
			return false, &apperr.NotFoundError{Kind: "driver", ID: driverName}
		}
		err := s.deps.Reconciler.ForceAssign(st.Orders, orderID, d.Name)
		return err == nil, err
	})
}

// MarkDelivered and MarkFailed close a dispatched order. The stored row is
// updated in place as well so other sessions see the outcome before the next
// sync; failing that only logs, the working set stays authoritative.
func (s *Service) MarkDelivered(ctx context.Context, userID, orderID string) error {
	return s.resolve(ctx, userID, orderID, models.OrderStatusDelivered)
}

func (s *Service) MarkFailed(ctx context.Context, userID, orderID string) error {
	return s.resolve(ctx, userID, orderID, models.OrderStatusFailed)
}

func (s *Service) resolve(ctx context.Context, userID, orderID string, status models.OrderStatus) error {
	return s.with(ctx, userID, func(st *SessionState) (bool, error) {
		var err error
		if status == models.OrderStatusDelivered {
			err = s.deps.Reconciler.MarkDelivered(st.Orders, orderID)
		} else {
			err = s.deps.Reconciler.MarkFailed(st.Orders, orderID)
		}
		if err != nil {
			return false, err
		}
		if s.deps.Orders != nil {
			if err := s.deps.Orders.UpdateStatus(ctx, orderID, status); err != nil && !errors.Is(err, apperr.ErrNotFound) {
				s.log.Warn("stored status not updated", zap.String("order_id", orderID), zap.Error(err))
			}
		}
		return true, nil
	})
}

// SyncToStore persists the working set and the current routes.
func (s *Service) SyncToStore(ctx context.Context, userID string) error {
	return s.with(ctx, userID, func(st *SessionState) (bool, error) {
		if s.deps.Orders == nil {
			return false, &apperr.PersistenceError{Op: "sync", Table: tablestore.Orders, Err: errors.New("no backing store configured")}
		}
		err := st.Orders.Persist(ctx)
		s.deps.Metrics.ObservePersist(tablestore.Orders, err)
		if err != nil {
			return false, err
		}
		if s.deps.Routes != nil && len(st.Routes) > 0 {
			err = s.deps.Routes.ReplaceDate(ctx, st.Orders.Day(), st.routeList())
			s.deps.Metrics.ObservePersist(tablestore.Routes, err)
			if err != nil {
				return false, err
			}
		}
		return false, nil
	})
}

// AdvanceDay runs the rollover check now. It returns nil when the day has not changed.
func (s *Service) AdvanceDay(ctx context.Context, userID string) (*session.Rollover, error) {
	var roll *session.Rollover
	err := s.with(ctx, userID, func(st *SessionState) (bool, error) {
		var err error
		roll, err = s.deps.Lifecycle.OnDayChange(ctx, st.Orders.Day(), st.Orders)
		if err != nil || roll == nil {
			return false, err
		}
		st.Routes = make(map[string]models.Route)
		st.Pending, st.pendingDay = nil, ""
		return true, nil
	})
	return roll, err
}

// Logout ends the session and forgets its recovery snapshot. Unsynced
// changes are dropped; callers sync first when they want to keep them.
func (s *Service) Logout(ctx context.Context, userID string) error {
	s.mu.Lock()
	_, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.deps.Metrics.SetSessions(len(s.sessions))
	s.mu.Unlock()
	if !ok {
		return &apperr.NotFoundError{Kind: "session", ID: userID}
	}
	return s.deps.Lifecycle.ClearRecoveryCache(ctx, userID)
}
