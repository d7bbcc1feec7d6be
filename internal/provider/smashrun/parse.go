package smashrun

import (
	"fmt"
	"strconv"

	"github.com/runstreak/streakd/internal/domain"
)

// ParseRun validates a raw provider record and normalizes it into the
// internal Run shape. User and connection ids are filled in by the caller.
// Malformed records return domain.ErrValidation so the ingest loop can skip
// them without failing the batch.
func ParseRun(raw RawActivity) (domain.Run, error) {
	if raw.ActivityID == 0 {
		return domain.Run{}, fmt.Errorf("%w: missing activityId", domain.ErrValidation)
	}
	if raw.Distance <= 0 {
		return domain.Run{}, fmt.Errorf("%w: activity %d has distance %v", domain.ErrValidation, raw.ActivityID, raw.Distance)
	}
	if raw.Duration <= 0 {
		return domain.Run{}, fmt.Errorf("%w: activity %d has duration %v", domain.ErrValidation, raw.ActivityID, raw.Duration)
	}

	start, err := parseStartTime(raw.StartDateTimeLocal)
	if err != nil {
		return domain.Run{}, fmt.Errorf("%w: activity %d: %v", domain.ErrValidation, raw.ActivityID, err)
	}

	run := domain.Run{
		ProviderRunID:  strconv.FormatInt(raw.ActivityID, 10),
		StartTimeLocal: start,
		StartDate:      domain.DateOf(start),
		DistanceKm:     raw.Distance,
		DurationSec:    raw.Duration,

		CadenceAvg:   raw.CadenceAverage,
		CadenceMin:   raw.CadenceMin,
		CadenceMax:   raw.CadenceMax,
		HeartRateAvg: raw.HeartRateAverage,
		HeartRateMin: raw.HeartRateMin,
		HeartRateMax: raw.HeartRateMax,

		TemperatureC: raw.Temperature,
		WeatherType:  raw.WeatherType,
		Terrain:      raw.Terrain,
		HumidityPct:  raw.Humidity,
		WindSpeedKph: raw.WindSpeed,

		Notes: raw.Notes,
	}
	if raw.ExternalID != "" {
		external := raw.ExternalID
		run.ExternalID = &external
	}
	return run, nil
}
