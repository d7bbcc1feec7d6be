package smashrun

// RawActivity is the wire shape of one activity returned by the Smashrun
// API. Distances are kilometers, durations seconds, timestamps local
// wall-clock time.
type RawActivity struct {
	ActivityID         int64   `json:"activityId"`
	StartDateTimeLocal string  `json:"startDateTimeLocal"`
	Distance           float64 `json:"distance"`
	Duration           float64 `json:"duration"`

	ActivityType       string `json:"activityType,omitempty"`
	ExternalID         string `json:"externalId,omitempty"`
	ExternalAppVersion string `json:"externalAppVersion,omitempty"`

	CadenceAverage *float64 `json:"cadenceAverage,omitempty"`
	CadenceMin     *float64 `json:"cadenceMin,omitempty"`
	CadenceMax     *float64 `json:"cadenceMax,omitempty"`

	HeartRateAverage *float64 `json:"heartRateAverage,omitempty"`
	HeartRateMin     *float64 `json:"heartRateMin,omitempty"`
	HeartRateMax     *float64 `json:"heartRateMax,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	WeatherType *string  `json:"weatherType,omitempty"`
	Terrain     *string  `json:"terrain,omitempty"`
	Humidity    *int     `json:"humidity,omitempty"`
	WindSpeed   *int     `json:"windSpeed,omitempty"`

	Notes *string `json:"notes,omitempty"`
}

// Profile is the authenticated user's Smashrun profile.
type Profile struct {
	ID        int64  `json:"id"`
	UserName  string `json:"userName"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}
