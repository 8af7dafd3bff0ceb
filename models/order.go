package models

import (
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// DateLayout is the format of an operating day ("2006-01-02").
const DateLayout = "2006-01-02"

// OrderStatus represents where an order is in the dispatch flow.
type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "pending"
	OrderStatusSentToDriver OrderStatus = "sent_to_driver"
	OrderStatusDelivered    OrderStatus = "delivered"
	OrderStatusFailed       OrderStatus = "failed"
	OrderStatusArchived     OrderStatus = "archived"
)

// IsValid reports whether s is one of the known statuses.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusSentToDriver, OrderStatusDelivered, OrderStatusFailed, OrderStatusArchived:
		return true
	default:
		return false
	}
}

// IsResolved reports whether the order reached an outcome that survives rollover.
func (s OrderStatus) IsResolved() bool {
	return s == OrderStatusDelivered || s == OrderStatusFailed
}

// IsTerminal reports whether no further transition is expected.
func (s OrderStatus) IsTerminal() bool {
	return s.IsResolved() || s == OrderStatusArchived
}

// CanTransitionTo encodes the per-order state machine:
//
//	pending        -> sent_to_driver
//	sent_to_driver -> delivered | failed
//	any unresolved -> archived (day rollover)
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return true
	}
	switch next {
	case OrderStatusSentToDriver:
		return s == OrderStatusPending
	case OrderStatusDelivered, OrderStatusFailed:
		return s == OrderStatusSentToDriver
	case OrderStatusArchived:
		return !s.IsTerminal()
	default:
		return false
	}
}

func (s OrderStatus) String() string { return string(s) }

// ParseOrderStatus accepts the spellings found in hand-edited sheets
// ("Sent To Driver", "sent-to-driver", ...).
func ParseOrderStatus(v string) (OrderStatus, bool) {
	norm := strings.ToLower(strings.TrimSpace(v))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	s := OrderStatus(norm)
	return s, s.IsValid()
}

// Order is one delivery, pickup or exchange request.
// ID is assigned once at creation and is the only key used for updates and deletes.
type Order struct {
	ID              string      `json:"order_id"`
	Date            string      `json:"date"`
	Status          OrderStatus `json:"status"`
	OrderType       string      `json:"order_type,omitempty"`
	CustomerName    string      `json:"customer_name,omitempty"`
	CustomerPhone   string      `json:"customer_phone,omitempty"`
	Address         string      `json:"address"`
	City            string      `json:"city"`
	ZipCode         string      `json:"zip_code,omitempty"`
	Items           []string    `json:"items,omitempty"`
	TimeWindowStart string      `json:"time_window_start,omitempty"`
	TimeWindowEnd   string      `json:"time_window_end,omitempty"`
	SpecialNotes    string      `json:"special_notes,omitempty"`
	// AssignedDriver holds the driver name; empty means unassigned.
	AssignedDriver string `json:"assigned_driver,omitempty"`
	RouteID        string `json:"route_id,omitempty"`
	StopNumber     int    `json:"stop_number,omitempty"`
	ETA            string `json:"eta,omitempty"`
	// Coordinates are only consumed by the map view.
	Coordinates *orb.Point `json:"coordinates,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ParsedAt    *time.Time `json:"parsed_at,omitempty"`
}

// Clone returns a deep copy so callers never share slices or pointers with the working set.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = append([]string(nil), o.Items...)
	}
	if o.Coordinates != nil {
		p := *o.Coordinates
		c.Coordinates = &p
	}
	if o.ParsedAt != nil {
		t := *o.ParsedAt
		c.ParsedAt = &t
	}
	return c
}

// IsAssigned reports whether a driver is attached.
func (o *Order) IsAssigned() bool { return strings.TrimSpace(o.AssignedDriver) != "" }

// OrderInput carries the caller-supplied fields of a new order.
type OrderInput struct {
	OrderType       string     `json:"order_type,omitempty"`
	CustomerName    string     `json:"customer_name,omitempty"`
	CustomerPhone   string     `json:"customer_phone,omitempty"`
	Address         string     `json:"address"`
	City            string     `json:"city"`
	ZipCode         string     `json:"zip_code,omitempty"`
	Items           []string   `json:"items,omitempty"`
	TimeWindowStart string     `json:"time_window_start,omitempty"`
	TimeWindowEnd   string     `json:"time_window_end,omitempty"`
	SpecialNotes    string     `json:"special_notes,omitempty"`
	Coordinates     *orb.Point `json:"coordinates,omitempty"`
	ParsedAt        *time.Time `json:"parsed_at,omitempty"`
}
