package optimizer

import (
	"encoding/json"
	"strings"

	"dmeRoutePlanner/models"
	"dmeRoutePlanner/repository"
)

const systemPrompt = "You are a logistics dispatcher planning durable medical equipment deliveries in Southern California. " +
	"Answer with a single JSON object and nothing else."

type orderView struct {
	OrderID      string `json:"order_id"`
	OrderType    string `json:"order_type,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	Address      string `json:"address"`
	City         string `json:"city"`
	ZipCode      string `json:"zip_code,omitempty"`
	Items        string `json:"items,omitempty"`
	TimeWindow   string `json:"time_window,omitempty"`
	SpecialNotes string `json:"special_notes,omitempty"`
}

type driverView struct {
	DriverName    string `json:"driver_name"`
	StartTime     string `json:"start_time,omitempty"`
	StartLocation string `json:"start_location,omitempty"`
	PrimaryAreas  string `json:"primary_areas,omitempty"`
	CitiesCovered string `json:"cities_covered,omitempty"`
	ZipPrefixes   string `json:"zip_prefixes,omitempty"`
	VehicleType   string `json:"vehicle_type,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

const responseShape = `{
  "routes": {
    "<driver_name exactly as given>": {
      "stops": [
        {
          "stop_number": 1,
          "order_id": "<order_id exactly as given>",
          "address": "...",
          "city": "...",
          "order_type": "Delivery",
          "items": "...",
          "time_window": "9:00 AM - 11:00 AM",
          "eta": "9:40 AM",
          "drive_time_from_previous_min": 25,
          "stop_duration_min": 45,
          "time_window_ok": true,
          "special_notes": ""
        }
      ],
      "summary": {
        "total_stops": 1,
        "total_distance_miles": 18,
        "total_drive_time_min": 25,
        "total_stop_time_min": 45,
        "start_time": "8:00 AM",
        "start_location": "...",
        "estimated_finish": "10:25 AM"
      }
    }
  },
  "unassigned_orders": ["<order_id>"],
  "warnings": ["..."]
}`

// BuildPrompt embeds every order and driver with the assignment goals and the
// expected response shape.
func BuildPrompt(orders []models.Order, drivers []models.Driver) string {
	ov := make([]orderView, 0, len(orders))
	for _, o := range orders {
		tw := strings.TrimSpace(o.TimeWindowStart)
		if o.TimeWindowEnd != "" {
			tw = strings.TrimSpace(tw + " - " + o.TimeWindowEnd)
		}
		ov = append(ov, orderView{
			OrderID:      o.ID,
			OrderType:    o.OrderType,
			CustomerName: o.CustomerName,
			Address:      o.Address,
			City:         o.City,
			ZipCode:      o.ZipCode,
			Items:        repository.JoinItems(o.Items),
			TimeWindow:   tw,
			SpecialNotes: o.SpecialNotes,
		})
	}
	dv := make([]driverView, 0, len(drivers))
	for _, d := range drivers {
		dv = append(dv, driverView{
			DriverName:    d.Name,
			StartTime:     d.StartTime,
			StartLocation: d.StartLocation,
			PrimaryAreas:  d.PrimaryAreas,
			CitiesCovered: d.CitiesCovered,
			ZipPrefixes:   d.ZipPrefixes,
			VehicleType:   d.VehicleType,
			Notes:         d.Notes,
		})
	}
	ordersJSON, _ := json.MarshalIndent(ov, "", "  ")
	driversJSON, _ := json.MarshalIndent(dv, "", "  ")

	var b strings.Builder
	b.WriteString("DRIVERS AVAILABLE TODAY:\n")
	b.Write(driversJSON)
	b.WriteString("\n\nORDERS TO ASSIGN:\n")
	b.Write(ordersJSON)
	b.WriteString(`

GOALS:
1. Assign every order to one driver. Prefer the driver whose cities, areas or zip prefixes cover the stop, and keep workloads balanced.
2. Sequence each driver's stops to keep drive time low. Time windows must be respected; flag any you cannot meet in warnings and set time_window_ok to false.
3. Allow 30 to 60 minutes per stop for delivery, pickup or setup and use realistic Southern California drive times.
4. Start each route at the driver's start_location and start_time when given.
5. Orders you cannot place go in unassigned_orders by order_id. Never invent orders or drivers.

Use 12-hour times with AM/PM. Respond with JSON of exactly this shape:
`)
	b.WriteString(responseShape)
	b.WriteString("\n")
	return b.String()
}
