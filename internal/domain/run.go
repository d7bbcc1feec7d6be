// Package domain defines the core types and contracts for the runstreak
// sync-and-analytics engine.
package domain

import "time"

// Run is the canonical stored record of one logged run. Distances are in
// kilometers, durations in seconds, timestamps in the runner's local time.
type Run struct {
	ID            string
	UserID        string
	ConnectionID  string
	ProviderRunID string

	StartTimeLocal time.Time
	StartDate      time.Time // calendar date of StartTimeLocal, midnight UTC
	DistanceKm     float64
	DurationSec    float64

	CadenceAvg   *float64
	CadenceMin   *float64
	CadenceMax   *float64
	HeartRateAvg *float64
	HeartRateMin *float64
	HeartRateMax *float64

	TemperatureC *float64
	WeatherType  *string
	Terrain      *string
	HumidityPct  *int
	WindSpeedKph *int

	Notes      *string
	ExternalID *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaceMinPerKm returns the average pace in minutes per kilometer, or 0 for
// degenerate inputs.
func (r Run) PaceMinPerKm() float64 {
	if r.DistanceKm <= 0 || r.DurationSec <= 0 {
		return 0
	}
	return r.DurationSec / 60 / r.DistanceKm
}

// DateOf truncates a timestamp to its calendar date, normalized to midnight
// UTC so dates compare with Equal regardless of the source zone.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
