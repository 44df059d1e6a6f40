package model

import (
	"math"
	"time"
)

// Capability identifies a service a vendor is able to perform on scene.
type Capability string

const (
	CapTireRepair      Capability = "tire_repair"
	CapTireReplacement Capability = "tire_replacement"
	CapEngineRepair    Capability = "engine_repair"
	CapTowing          Capability = "towing"
	CapBatteryJump     Capability = "battery_jump"
	CapLockout         Capability = "lockout"
	CapFuelDelivery    Capability = "fuel_delivery"
)

// Availability reflects the roster's last known vendor state.
type Availability string

const (
	Available Availability = "available"
	Busy      Availability = "busy"
	Offline   Availability = "offline"
)

// Location is a WGS84 point.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

const earthRadiusMiles = 3958.8

// DistanceMiles returns the haversine great-circle distance to other.
func (l Location) DistanceMiles(other Location) float64 {
	lat1 := l.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - l.Lat) * math.Pi / 180
	dLon := (other.Lon - l.Lon) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(a))
}

// VendorMetrics holds rolling performance counters maintained by the
// roster service. They are eventually-consistent snapshots.
type VendorMetrics struct {
	AcceptanceRate     float64 `json:"acceptance_rate"`
	CompletionRate     float64 `json:"completion_rate"`
	AvgResponseSeconds float64 `json:"avg_response_seconds"`
	TotalJobs          int     `json:"total_jobs"`
}

// VendorRating aggregates driver feedback on a 0-5 scale.
type VendorRating struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// Vendor is a read-only snapshot of a service vendor as returned by the
// external roster. The dispatch core never mutates a vendor record.
type Vendor struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Capabilities        []Capability  `json:"capabilities"`
	CoverageCenter      Location      `json:"coverage_center"`
	CoverageRadiusMiles float64       `json:"coverage_radius_miles"`
	Availability        Availability  `json:"availability"`
	AvailabilityUpdated time.Time     `json:"availability_updated"`
	Metrics             VendorMetrics `json:"metrics"`
	Rating              VendorRating  `json:"rating"`
}

// HasCapability reports whether the vendor advertises the capability.
func (v Vendor) HasCapability(c Capability) bool {
	for _, have := range v.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// CanServe reports whether any of the vendor's capabilities satisfies
// the incident type.
func (v Vendor) CanServe(t IncidentType) bool {
	for _, c := range CapabilitiesFor(t) {
		if v.HasCapability(c) {
			return true
		}
	}
	return false
}
