package models

// Stop is one order's position within a route. ETA and drive times are advisory,
// copied from the optimizer without recomputation.
type Stop struct {
	StopNumber               int     `json:"stop_number"`
	OrderID                  string  `json:"order_id"`
	Address                  string  `json:"address,omitempty"`
	City                     string  `json:"city,omitempty"`
	OrderType                string  `json:"order_type,omitempty"`
	Items                    string  `json:"items,omitempty"`
	TimeWindow               string  `json:"time_window,omitempty"`
	ETA                      string  `json:"eta,omitempty"`
	DriveTimeFromPreviousMin float64 `json:"drive_time_from_previous_min"`
	StopDurationMin          float64 `json:"stop_duration_min"`
	TimeWindowOK             bool    `json:"time_window_ok"`
	SpecialNotes             string  `json:"special_notes,omitempty"`
}

// RouteSummary totals one driver's route.
type RouteSummary struct {
	TotalStops         int     `json:"total_stops"`
	TotalDistanceMiles float64 `json:"total_distance_miles"`
	TotalDriveTimeMin  float64 `json:"total_drive_time_min"`
	TotalStopTimeMin   float64 `json:"total_stop_time_min,omitempty"`
	StartTime          string  `json:"start_time,omitempty"`
	StartLocation      string  `json:"start_location,omitempty"`
	EstimatedFinish    string  `json:"estimated_finish,omitempty"`
}

// RouteStatus tracks a persisted route record.
type RouteStatus string

const (
	RouteStatusPlanned   RouteStatus = "planned"
	RouteStatusSent      RouteStatus = "sent"
	RouteStatusCompleted RouteStatus = "completed"
)

// Route is the optimizer's output for one driver on one day.
type Route struct {
	ID         string       `json:"route_id"`
	Date       string       `json:"date"`
	DriverName string       `json:"driver_name"`
	Status     RouteStatus  `json:"route_status,omitempty"`
	Stops      []Stop       `json:"stops"`
	Summary    RouteSummary `json:"summary"`
}

// OrderIDs lists the referenced orders in stop order.
func (r *Route) OrderIDs() []string {
	ids := make([]string, 0, len(r.Stops))
	for _, s := range r.Stops {
		ids = append(ids, s.OrderID)
	}
	return ids
}

// OptimizationResult is the validated output of one optimizer run, keyed by driver name.
type OptimizationResult struct {
	Routes     map[string]Route `json:"routes"`
	Unassigned []Order          `json:"unassigned"`
	Warnings   []string         `json:"warnings"`
}
