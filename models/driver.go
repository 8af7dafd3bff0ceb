package models

import (
	"strings"
	"time"
)

// DriverStatus represents whether a driver can be routed.
type DriverStatus string

const (
	DriverStatusActive   DriverStatus = "active"
	DriverStatusInactive DriverStatus = "inactive"
)

// Driver is a person/vehicle available for routing. Drivers persist across days.
type Driver struct {
	ID            string       `json:"driver_id"`
	Name          string       `json:"driver_name"`
	Phone         string       `json:"phone,omitempty"`
	Email         string       `json:"email,omitempty"`
	Status        DriverStatus `json:"status"`
	PrimaryAreas  string       `json:"primary_areas,omitempty"`
	CitiesCovered string       `json:"cities_covered,omitempty"`
	ZipPrefixes   string       `json:"zip_prefixes,omitempty"`
	VehicleType   string       `json:"vehicle_type,omitempty"`
	StartLocation string       `json:"start_location,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	// StartTime is session-only; it is never written to the DRIVERS table.
	StartTime string `json:"start_time,omitempty"`
}

// IsActive compares the status case-insensitively, as sheets are hand edited.
func (d *Driver) IsActive() bool {
	return strings.EqualFold(strings.TrimSpace(string(d.Status)), string(DriverStatusActive))
}

// DriverOverride is a per-session routing configuration that leaves the stored driver untouched.
type DriverOverride struct {
	StartTime     string `json:"start_time,omitempty"`
	StartLocation string `json:"start_location,omitempty"`
}

// Apply returns a copy of d with the override's non-empty fields applied.
func (o DriverOverride) Apply(d Driver) Driver {
	if o.StartTime != "" {
		d.StartTime = o.StartTime
	}
	if o.StartLocation != "" {
		d.StartLocation = o.StartLocation
	}
	return d
}
