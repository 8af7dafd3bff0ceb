// Package orderstore holds the working set: the authoritative in-memory orders
// of one operating day. Every mutation is addressed by order_id; positions in
// any rendered view never reach this package.
package orderstore

import (
	"context"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/tablestore"
	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

// Repository is the persistence the store needs. *repository.OrderRepository satisfies it.
type Repository interface {
	ListByDate(ctx context.Context, date string) ([]models.Order, error)
	ReplaceDates(ctx context.Context, byDate map[string][]models.Order) error
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the order id generator.
func WithIDGenerator(gen func(day string) string) Option {
	return func(s *Store) { s.newID = gen }
}

// NewOrderID returns ORD-YYYYMMDD-<8 hex>.
func NewOrderID(day string) string {
	return "ORD-" + strings.ReplaceAll(day, "-", "") + "-" + uuid.NewString()[:8]
}

// Store is the working set of one session.
type Store struct {
	mu     sync.RWMutex
	day    string
	orders []models.Order
	index  map[string]int
	// issued holds every id this store has handed out or loaded, deleted ones included.
	issued map[string]struct{}

	repo  Repository
	log   *zap.Logger
	now   func() time.Time
	newID func(day string) string
}

// New returns an empty working set for day.
func New(day string, repo Repository, log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		repo:   repo,
		log:    log,
		now:    time.Now,
		newID:  NewOrderID,
		index:  make(map[string]int),
		issued: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if day == "" {
		day = s.now().Format(models.DateLayout)
	}
	s.day = day
	return s
}

// Day returns the operating day of the working set.
func (s *Store) Day() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.day
}

// Len returns the number of orders in the working set.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Create validates in, assigns a fresh order_id and appends a pending order.
func (s *Store) Create(in models.OrderInput) (string, error) {
	if err := Validate(in); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID(s.day)
	for attempts := 0; s.taken(id); attempts++ {
		if attempts > 8 {
			return "", &apperr.IdentityError{Duplicates: []string{id}}
		}
		id = s.newID(s.day)
	}
	now := s.now().UTC()
	o := models.Order{
		ID:              id,
		Date:            s.day,
		Status:          models.OrderStatusPending,
		OrderType:       strings.TrimSpace(in.OrderType),
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CustomerPhone:   strings.TrimSpace(in.CustomerPhone),
		Address:         strings.TrimSpace(in.Address),
		City:            strings.TrimSpace(in.City),
		ZipCode:         strings.TrimSpace(in.ZipCode),
		Items:           cleanItems(in.Items),
		TimeWindowStart: strings.TrimSpace(in.TimeWindowStart),
		TimeWindowEnd:   strings.TrimSpace(in.TimeWindowEnd),
		SpecialNotes:    strings.TrimSpace(in.SpecialNotes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.Coordinates != nil {
		p := *in.Coordinates
		o.Coordinates = &p
	}
	if in.ParsedAt != nil {
		t := in.ParsedAt.UTC()
		o.ParsedAt = &t
	}
	s.orders = append(s.orders, o)
	s.index[id] = len(s.orders) - 1
	s.issued[id] = struct{}{}
	s.log.Debug("order created", zap.String("order_id", id), zap.String("date", s.day))
	return id, nil
}

func (s *Store) taken(id string) bool {
	_, ok := s.issued[id]
	return ok
}

// Get returns a copy of one order.
func (s *Store) Get(id string) (models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.Order{}, &apperr.NotFoundError{Kind: "order", ID: id}
	}
	return s.orders[i].Clone(), nil
}

// UpdateStatus moves one order along the status state machine.
func (s *Store) UpdateStatus(id string, status models.OrderStatus) error {
	if !status.IsValid() {
		return apperr.Invalid("status", "unknown status "+strconv.Quote(string(status)))
	}
	_, err := s.Mutate(id, func(o *models.Order) error {
		if !o.Status.CanTransitionTo(status) {
			return apperr.Invalid("status", "cannot move from "+string(o.Status)+" to "+string(status))
		}
		o.Status = status
		return nil
	})
	return err
}

// editable lists the fields UpdateField may touch. Identity, date, status and
// assignment have their own operations.
var editable = map[string]func(o *models.Order, v string){
	"order_type":        func(o *models.Order, v string) { o.OrderType = v },
	"customer_name":     func(o *models.Order, v string) { o.CustomerName = v },
	"customer_phone":    func(o *models.Order, v string) { o.CustomerPhone = v },
	"address":           func(o *models.Order, v string) { o.Address = v },
	"city":              func(o *models.Order, v string) { o.City = v },
	"zip_code":          func(o *models.Order, v string) { o.ZipCode = v },
	"items":             func(o *models.Order, v string) { o.Items = repository.SplitItemList(v) },
	"time_window_start": func(o *models.Order, v string) { o.TimeWindowStart = v },
	"time_window_end":   func(o *models.Order, v string) { o.TimeWindowEnd = v },
	"special_notes":     func(o *models.Order, v string) { o.SpecialNotes = v },
	"eta":               func(o *models.Order, v string) { o.ETA = v },
}

// UpdateField sets one descriptive field. field may use any spelling the
// ORDERS header accepts ("Customer Name", "notes", ...).
func (s *Store) UpdateField(id, field, value string) error {
	key := repository.CanonicalOrderKey(tablestore.NormalizeKey(field))
	set, ok := editable[key]
	if !ok {
		return apperr.Invalid(key, "field cannot be edited directly")
	}
	value = strings.TrimSpace(value)
	if err := ValidateField(key, value); err != nil {
		return err
	}
	_, err := s.Mutate(id, func(o *models.Order) error {
		set(o, value)
		return nil
	})
	return err
}

// Mutate applies fn to a copy of one order and stores the copy if fn succeeds.
// UpdatedAt moves only when something actually changed, so re-applying the
// same edit is a no-op.
func (s *Store) Mutate(id string, fn func(o *models.Order) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return false, &apperr.NotFoundError{Kind: "order", ID: id}
	}
	before := s.orders[i]
	after := before.Clone()
	if err := fn(&after); err != nil {
		return false, err
	}
	after.ID, after.Date, after.CreatedAt = before.ID, before.Date, before.CreatedAt
	after.UpdatedAt = before.UpdatedAt
	if reflect.DeepEqual(before, after) {
		return false, nil
	}
	after.UpdatedAt = s.now().UTC()
	s.orders[i] = after
	return true, nil
}

// Delete removes every order whose id is in ids, resolved against the working
// set at call time. It returns the ids removed and the ids that were absent.
// Removed ids are never issued again.
func (s *Store) Delete(ids ...string) (removed, missing []string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[strings.TrimSpace(id)] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.orders[:0]
	for _, o := range s.orders {
		if want[o.ID] {
			removed = append(removed, o.ID)
			delete(want, o.ID)
			continue
		}
		kept = append(kept, o)
	}
	// Clear the tail so removed orders are not retained by the backing array.
	for i := len(kept); i < len(s.orders); i++ {
		s.orders[i] = models.Order{}
	}
	s.orders = kept
	s.reindex()
	for id := range want {
		if id != "" {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	if len(removed) > 0 {
		s.log.Info("orders deleted", zap.Strings("order_ids", removed), zap.Int("remaining", len(s.orders)))
	}
	return removed, missing
}

// List returns copies of the orders matching f in creation order.
func (s *Store) List(f repository.OrderFilter) []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Order, 0, len(s.orders))
	for i := range s.orders {
		if f.Match(&s.orders[i]) {
			out = append(out, s.orders[i].Clone())
		}
	}
	return out
}

// Snapshot returns the day and a deep copy of every order.
func (s *Store) Snapshot() (string, []models.Order) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.day, cloneAll(s.orders)
}

// Replace swaps in a whole working set, e.g. from a load or a recovery snapshot.
// Duplicate ids are rejected and leave the store untouched.
func (s *Store) Replace(day string, orders []models.Order) error {
	index := make(map[string]int, len(orders))
	var dups []string
	for i, o := range orders {
		if _, dup := index[o.ID]; dup {
			dups = append(dups, o.ID)
			continue
		}
		index[o.ID] = i
	}
	if len(dups) > 0 {
		s.log.Error("duplicate order_id in working set", zap.String("date", day), zap.Strings("order_ids", dups))
		return &apperr.IdentityError{Duplicates: dups}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.day = day
	s.orders = cloneAll(orders)
	s.index = index
	for id := range index {
		s.issued[id] = struct{}{}
	}
	return nil
}

// Reset empties the working set and starts day.
func (s *Store) Reset(day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.day = day
	s.orders = nil
	s.index = make(map[string]int)
}

// Persist writes the working set to the backing store, replacing whatever was
// stored for each date it covers. The current day is always covered, so orders
// deleted here disappear from the store too. On failure the working set is kept
// as is and the caller may retry.
func (s *Store) Persist(ctx context.Context) error {
	day, orders := s.Snapshot()
	byDate := map[string][]models.Order{day: nil}
	for _, o := range orders {
		d := o.Date
		if d == "" {
			d = day
		}
		byDate[d] = append(byDate[d], o)
	}
	if err := s.repo.ReplaceDates(ctx, byDate); err != nil {
		s.log.Warn("persist failed, working set kept", zap.String("date", day), zap.Int("orders", len(orders)), zap.Error(err))
		return err
	}
	s.log.Info("working set persisted", zap.String("date", day), zap.Int("orders", len(orders)))
	return nil
}

// Load reads the stored orders of date without touching the working set.
func (s *Store) Load(ctx context.Context, date string) ([]models.Order, error) {
	return s.repo.ListByDate(ctx, date)
}

// LoadDay replaces the working set with the stored orders of date.
func (s *Store) LoadDay(ctx context.Context, date string) error {
	orders, err := s.Load(ctx, date)
	if err != nil {
		return err
	}
	return s.Replace(date, orders)
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.orders))
	for i, o := range s.orders {
		s.index[o.ID] = i
	}
}

func cloneAll(orders []models.Order) []models.Order {
	out := make([]models.Order, len(orders))
	for i, o := range orders {
		out[i] = o.Clone()
	}
	return out
}

func cleanItems(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
