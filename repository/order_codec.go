package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dmeRoutePlanner/internal/geo"
	"dmeRoutePlanner/models"
)

// OrderColumns is the canonical ORDERS header. order_id must stay first: row
// lookups match on the first cell.
var OrderColumns = []string{
	"order_id", "date", "created_at", "status", "order_type",
	"customer_name", "customer_phone", "address", "city", "zip_code",
	"items", "time_window_start", "time_window_end", "special_notes",
	"assigned_driver", "route_id", "stop_number", "eta", "updated_at",
	"lat", "lng", "parsed_at",
}

// ItemSeparator joins items in a single cell.
const ItemSeparator = " | "

// orderAliases maps titles seen in hand-kept sheets and imports onto canonical keys.
var orderAliases = map[string]string{
	"id":             "order_id",
	"order":          "order_id",
	"order_date":     "date",
	"delivery_date":  "date",
	"type":           "order_type",
	"customer":       "customer_name",
	"name":           "customer_name",
	"patient":        "customer_name",
	"patient_name":   "customer_name",
	"phone":          "customer_phone",
	"phone_number":   "customer_phone",
	"street":         "address",
	"zip":            "zip_code",
	"zipcode":        "zip_code",
	"postal_code":    "zip_code",
	"equipment":      "items",
	"notes":          "special_notes",
	"note":           "special_notes",
	"driver":         "assigned_driver",
	"driver_name":    "assigned_driver",
	"stop":           "stop_number",
	"window_start":   "time_window_start",
	"window_end":     "time_window_end",
	"latitude":       "lat",
	"longitude":      "lng",
	"lon":            "lng",
	"delivery_notes": "special_notes",
}

// CanonicalOrderKey maps an already-normalized column key onto the ORDERS vocabulary.
func CanonicalOrderKey(k string) string {
	if c, ok := orderAliases[k]; ok {
		return c
	}
	return k
}

// CanonicalOrderRecord rewrites rec keys through CanonicalOrderKey. A canonical
// column wins over an alias when both are present.
func CanonicalOrderRecord(rec map[string]string) map[string]string {
	out := make(map[string]string, len(rec))
	for k, v := range rec {
		c := CanonicalOrderKey(k)
		if c != k {
			if _, exists := rec[c]; exists {
				continue
			}
		}
		if prev, ok := out[c]; ok && prev != "" && v == "" {
			continue
		}
		out[c] = v
	}
	if tw, ok := out["time_window"]; ok {
		start, end := SplitTimeWindow(tw)
		if out["time_window_start"] == "" {
			out["time_window_start"] = start
		}
		if out["time_window_end"] == "" {
			out["time_window_end"] = end
		}
		delete(out, "time_window")
	}
	return out
}

// SplitTimeWindow splits "9:00 AM - 11:00 AM" into its two ends.
func SplitTimeWindow(v string) (string, string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", ""
	}
	for _, sep := range []string{" - ", "-", " to ", "–"} {
		if i := strings.Index(v, sep); i > 0 {
			return strings.TrimSpace(v[:i]), strings.TrimSpace(v[i+len(sep):])
		}
	}
	return v, ""
}

// JoinItems serializes items for one cell. A "|" or backslash inside an item is
// escaped with a backslash so SplitItems returns the items unchanged.
func JoinItems(items []string) string {
	esc := make([]string, len(items))
	for i, it := range items {
		esc[i] = itemEscaper.Replace(it)
	}
	return strings.Join(esc, ItemSeparator)
}

var itemEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)

// SplitItems reads a cell written by JoinItems. Commas are part of an item.
func SplitItems(cell string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if it := strings.TrimSpace(cur.String()); it != "" {
			out = append(out, it)
		}
		cur.Reset()
	}
	escaped := false
	for _, r := range cell {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '|':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

// SplitItemList reads an items cell typed by hand or written before the
// pipe separator: without a "|" the cell is a comma list.
func SplitItemList(cell string) []string {
	if strings.Contains(cell, "|") {
		return SplitItems(cell)
	}
	var out []string
	for _, it := range strings.Split(cell, ",") {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts RFC 3339 and the plain layouts found in older sheets.
func parseTime(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05", models.DateLayout} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// EncodeOrder renders o in OrderColumns order.
func EncodeOrder(o models.Order) []string {
	stop := ""
	if o.StopNumber > 0 {
		stop = strconv.Itoa(o.StopNumber)
	}
	lat, lng := geo.FormatLatLng(o.Coordinates)
	parsed := ""
	if o.ParsedAt != nil {
		parsed = formatTime(*o.ParsedAt)
	}
	// decodeItems keys the items format off updated_at.
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = o.CreatedAt
	}
	return []string{
		o.ID, o.Date, formatTime(o.CreatedAt), string(o.Status), o.OrderType,
		o.CustomerName, o.CustomerPhone, o.Address, o.City, o.ZipCode,
		JoinItems(o.Items), o.TimeWindowStart, o.TimeWindowEnd, o.SpecialNotes,
		o.AssignedDriver, o.RouteID, stop, o.ETA, formatTime(updated),
		lat, lng, parsed,
	}
}

// DecodeOrder builds an order from a canonical record. It fails only when the
// record carries no order_id; every other malformed cell falls back to its zero value.
func DecodeOrder(rec map[string]string) (models.Order, error) {
	id := strings.TrimSpace(rec["order_id"])
	if id == "" {
		return models.Order{}, fmt.Errorf("row has no order_id")
	}
	status, ok := models.ParseOrderStatus(rec["status"])
	if !ok {
		status = models.OrderStatusPending
	}
	o := models.Order{
		ID:              id,
		Date:            recordDate(rec),
		Status:          status,
		OrderType:       rec["order_type"],
		CustomerName:    rec["customer_name"],
		CustomerPhone:   rec["customer_phone"],
		Address:         rec["address"],
		City:            rec["city"],
		ZipCode:         rec["zip_code"],
		Items:           decodeItems(rec),
		TimeWindowStart: rec["time_window_start"],
		TimeWindowEnd:   rec["time_window_end"],
		SpecialNotes:    rec["special_notes"],
		AssignedDriver:  rec["assigned_driver"],
		RouteID:         rec["route_id"],
		ETA:             rec["eta"],
		CreatedAt:       parseTime(rec["created_at"]),
		UpdatedAt:       parseTime(rec["updated_at"]),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(rec["stop_number"])); err == nil && n > 0 {
		o.StopNumber = n
	}
	if p, err := geo.ParseLatLng(rec["lat"], rec["lng"]); err == nil {
		o.Coordinates = p
	}
	if t := parseTime(rec["parsed_at"]); !t.IsZero() {
		o.ParsedAt = &t
	}
	return o, nil
}

// decodeItems splits the items cell. Rows EncodeOrder wrote always carry
// updated_at; rows without it come from hand-kept sheets and may use commas.
func decodeItems(rec map[string]string) []string {
	if strings.TrimSpace(rec["updated_at"]) == "" {
		return SplitItemList(rec["items"])
	}
	return SplitItems(rec["items"])
}

// recordDate is the operating day of a stored row. Rows without a date cell
// fall back to the day of created_at.
func recordDate(rec map[string]string) string {
	if d := strings.TrimSpace(rec["date"]); d != "" {
		return d
	}
	if t := parseTime(rec["created_at"]); !t.IsZero() {
		return t.Format(models.DateLayout)
	}
	return ""
}

// reencode maps a record of another date back onto OrderColumns unchanged.
func reencode(rec map[string]string) []string {
	row := make([]string, len(OrderColumns))
	for i, k := range OrderColumns {
		row[i] = rec[k]
	}
	return row
}
