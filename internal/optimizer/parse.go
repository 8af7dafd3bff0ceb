package optimizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

// StripFences removes Markdown code fences and any prose around the outermost
// JSON object or array.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > start {
		s = s[start : end+1]
	}
	return s
}

// FlexString decodes strings, numbers, booleans, null and string arrays.
// Model output is not strict about scalar types.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
	case len(b) > 0 && b[0] == '[':
		var parts []FlexString
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		ss := make([]string, 0, len(parts))
		for _, p := range parts {
			if p != "" {
				ss = append(ss, string(p))
			}
		}
		*f = FlexString(repository.JoinItems(ss))
	case len(b) > 0 && b[0] == '{':
		return errors.New("object where a string was expected")
	default:
		*f = FlexString(string(b))
	}
	return nil
}

// FlexFloat decodes numbers and numeric strings such as "45" or "45 min".
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	v := strings.TrimSpace(string(s))
	if v == "" {
		*f = 0
		return nil
	}
	if fields := strings.Fields(v); len(fields) > 0 {
		v = fields[0]
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(v, ","), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", string(s))
	}
	*f = FlexFloat(n)
	return nil
}

// FlexBool decodes booleans and "true"/"yes"/"false"/"no" strings. Unknown values decode as true.
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	var s FlexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(string(s))) {
	case "false", "no", "0", "n":
		*f = false
	default:
		*f = true
	}
	return nil
}

type wireResponse struct {
	Routes     map[string]json.RawMessage `json:"routes"`
	Unassigned []json.RawMessage          `json:"unassigned_orders"`
	Warnings   []FlexString               `json:"warnings"`
}

type wireRoute struct {
	Stops   []json.RawMessage `json:"stops"`
	Summary *wireSummary      `json:"summary"`
}

type wireStop struct {
	StopNumber   FlexFloat  `json:"stop_number"`
	OrderID      FlexString `json:"order_id"`
	Address      FlexString `json:"address"`
	City         FlexString `json:"city"`
	OrderType    FlexString `json:"order_type"`
	Items        FlexString `json:"items"`
	TimeWindow   FlexString `json:"time_window"`
	ETA          FlexString `json:"eta"`
	DriveTime    FlexFloat  `json:"drive_time_from_previous_min"`
	StopDuration FlexFloat  `json:"stop_duration_min"`
	TimeWindowOK *FlexBool  `json:"time_window_ok"`
	SpecialNotes FlexString `json:"special_notes"`
}

type wireSummary struct {
	TotalStops         FlexFloat  `json:"total_stops"`
	TotalDistanceMiles FlexFloat  `json:"total_distance_miles"`
	TotalDriveTimeMin  FlexFloat  `json:"total_drive_time_min"`
	TotalStopTimeMin   FlexFloat  `json:"total_stop_time_min"`
	StartTime          FlexString `json:"start_time"`
	StartLocation      FlexString `json:"start_location"`
	EstimatedFinish    FlexString `json:"estimated_finish"`
}

type wireRef struct {
	OrderID FlexString `json:"order_id"`
	Address FlexString `json:"address"`
}

// matcher resolves optimizer references back to input orders: by order_id
// first, then by exact (case and space folded) address.
type matcher struct {
	orders   []models.Order
	byID     map[string]int
	byAddr   map[string][]int
	placed   map[int]string
	warnings []string
}

func newMatcher(orders []models.Order) *matcher {
	m := &matcher{
		orders: orders,
		byID:   make(map[string]int, len(orders)),
		byAddr: make(map[string][]int, len(orders)),
		placed: make(map[int]string),
	}
	for i, o := range orders {
		m.byID[o.ID] = i
		k := addrKey(o.Address)
		m.byAddr[k] = append(m.byAddr[k], i)
	}
	return m
}

func addrKey(a string) string {
	return strings.Join(strings.Fields(strings.ToLower(a)), " ")
}

// resolve returns the input index for a reference, preferring an index not
// yet placed when several orders share an address.
func (m *matcher) resolve(id, address string) (int, bool) {
	if i, ok := m.byID[strings.TrimSpace(id)]; ok {
		return i, true
	}
	cands := m.byAddr[addrKey(address)]
	if address == "" || len(cands) == 0 {
		return -1, false
	}
	for _, i := range cands {
		if _, taken := m.placed[i]; !taken {
			return i, true
		}
	}
	return cands[0], true
}

func (m *matcher) warn(format string, args ...any) {
	m.warnings = append(m.warnings, fmt.Sprintf(format, args...))
}

// ParseResponse decodes and validates one optimizer answer against the inputs
// it was given. Routes for unknown drivers and stops that match no input order
// are dropped with a warning. Every input order that ends up in no route is
// reported as unassigned. A payload that cannot be decoded at all, or whose
// routes are all malformed, is an OptimizationParseError.
func ParseResponse(raw string, orders []models.Order, drivers []models.Driver, date string) (*models.OptimizationResult, error) {
	text := StripFences(raw)
	if text == "" {
		return nil, &apperr.OptimizationParseError{Err: errors.New("empty response")}
	}
	var resp wireResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, &apperr.OptimizationParseError{Err: err, Excerpt: excerpt(text)}
	}
	if resp.Routes == nil {
		return nil, &apperr.OptimizationParseError{Err: errors.New(`missing "routes"`), Excerpt: excerpt(text)}
	}

	driverNames := make(map[string]string, len(drivers))
	for _, d := range drivers {
		driverNames[strings.ToLower(strings.TrimSpace(d.Name))] = d.Name
	}

	m := newMatcher(orders)
	result := &models.OptimizationResult{Routes: make(map[string]models.Route)}

	names := make([]string, 0, len(resp.Routes))
	for name := range resp.Routes {
		names = append(names, name)
	}
	sort.Strings(names)

	malformed := 0
	for _, name := range names {
		var wr wireRoute
		if err := json.Unmarshal(resp.Routes[name], &wr); err != nil {
			malformed++
			m.warn("route for %s is malformed and was skipped: %v", name, err)
			continue
		}
		driver := strings.TrimSpace(name)
		if len(driverNames) > 0 {
			canonical, ok := driverNames[strings.ToLower(driver)]
			if !ok {
				m.warn("route for unknown driver %q was dropped", name)
				continue
			}
			driver = canonical
		}
		if _, dup := result.Routes[driver]; dup {
			m.warn("second route for %s was dropped", driver)
			continue
		}
		route := m.buildRoute(driver, wr)
		if len(route.Stops) == 0 {
			continue
		}
		route.ID = repository.RouteID(date, driver)
		route.Date = date
		route.Status = models.RouteStatusPlanned
		result.Routes[driver] = route
	}
	if len(resp.Routes) > 0 && malformed == len(resp.Routes) {
		return nil, &apperr.OptimizationParseError{Err: errors.New("every route is malformed"), Excerpt: excerpt(text)}
	}

	seen := make(map[int]bool)
	for _, raw := range resp.Unassigned {
		var ref wireRef
		var id FlexString
		if err := json.Unmarshal(raw, &id); err != nil {
			if err := json.Unmarshal(raw, &ref); err != nil {
				m.warn("unreadable unassigned entry %s", excerpt(string(raw)))
				continue
			}
		} else {
			ref.OrderID, ref.Address = id, id
		}
		i, ok := m.resolve(string(ref.OrderID), string(ref.Address))
		if !ok {
			continue
		}
		if _, placed := m.placed[i]; placed || seen[i] {
			continue
		}
		seen[i] = true
		result.Unassigned = append(result.Unassigned, orders[i].Clone())
	}
	for i := range orders {
		if _, placed := m.placed[i]; placed || seen[i] {
			continue
		}
		seen[i] = true
		result.Unassigned = append(result.Unassigned, orders[i].Clone())
	}

	for _, w := range resp.Warnings {
		if w != "" {
			result.Warnings = append(result.Warnings, string(w))
		}
	}
	result.Warnings = append(result.Warnings, m.warnings...)
	return result, nil
}

func (m *matcher) buildRoute(driver string, wr wireRoute) models.Route {
	type numbered struct {
		n    float64
		seq  int
		stop models.Stop
	}
	var stops []numbered
	for seq, raw := range wr.Stops {
		var ws wireStop
		if err := json.Unmarshal(raw, &ws); err != nil {
			m.warn("%s: stop %d is malformed and was dropped: %v", driver, seq+1, err)
			continue
		}
		i, ok := m.resolve(string(ws.OrderID), string(ws.Address))
		if !ok {
			m.warn("%s: stop %q (%s) matches no input order and was dropped", driver, string(ws.OrderID), string(ws.Address))
			continue
		}
		if other, taken := m.placed[i]; taken {
			m.warn("%s: order %s already placed on %s; duplicate stop dropped", driver, m.orders[i].ID, other)
			continue
		}
		m.placed[i] = driver
		o := m.orders[i]
		st := models.Stop{
			OrderID:                  o.ID,
			Address:                  firstNonEmpty(string(ws.Address), o.Address),
			City:                     firstNonEmpty(string(ws.City), o.City),
			OrderType:                firstNonEmpty(string(ws.OrderType), o.OrderType),
			Items:                    firstNonEmpty(string(ws.Items), repository.JoinItems(o.Items)),
			TimeWindow:               string(ws.TimeWindow),
			ETA:                      string(ws.ETA),
			DriveTimeFromPreviousMin: float64(ws.DriveTime),
			StopDurationMin:          float64(ws.StopDuration),
			TimeWindowOK:             ws.TimeWindowOK == nil || bool(*ws.TimeWindowOK),
			SpecialNotes:             firstNonEmpty(string(ws.SpecialNotes), o.SpecialNotes),
		}
		n := float64(ws.StopNumber)
		if n <= 0 {
			n = float64(len(wr.Stops) + seq + 1)
		}
		stops = append(stops, numbered{n: n, seq: seq, stop: st})
	}
	sort.SliceStable(stops, func(a, b int) bool { return stops[a].n < stops[b].n })

	route := models.Route{DriverName: driver, Stops: make([]models.Stop, len(stops))}
	for i, s := range stops {
		s.stop.StopNumber = i + 1
		route.Stops[i] = s.stop
	}
	if sm := wr.Summary; sm != nil {
		route.Summary = models.RouteSummary{
			TotalDistanceMiles: float64(sm.TotalDistanceMiles),
			TotalDriveTimeMin:  float64(sm.TotalDriveTimeMin),
			TotalStopTimeMin:   float64(sm.TotalStopTimeMin),
			StartTime:          string(sm.StartTime),
			StartLocation:      string(sm.StartLocation),
			EstimatedFinish:    string(sm.EstimatedFinish),
		}
	}
	route.Summary.TotalStops = len(route.Stops)
	return route
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func excerpt(s string) string {
	const limit = 120
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
