package model

import "time"

// Open-Meteo variable names accepted in indicator definitions.
const (
	VarPrecipitation = "precipitation"
	VarTemperature2m = "temperature_2m"
	VarRelHumidity2m = "relative_humidity_2m"
	VarWindGusts10m  = "wind_gusts_10m"
	VarWindSpeed10m  = "wind_speed_10m"
	VarPressureMSL   = "pressure_msl"
	VarHeatIndex     = "heat_index" // derived locally, not fetched
)

// Observation table columns.
const (
	ColPrcpMM      = "prcp_mm"
	ColTempC       = "temp_c"
	ColRHPct       = "rh_pct"
	ColWindGustMS  = "wind_gust_ms"
	ColWindMS      = "wind_ms"
	ColPressureHPa = "pressure_hpa"
	ColHeatIndexC  = "heat_index_c" // virtual, computed per row before aggregation
)

// VarColumns maps Open-Meteo variable names to the physical columns of
// meteo_observations_hourly. Derived variables are not listed here.
var VarColumns = map[string]string{
	VarPrecipitation: ColPrcpMM,
	VarTemperature2m: ColTempC,
	VarRelHumidity2m: ColRHPct,
	VarWindGusts10m:  ColWindGustMS,
	VarWindSpeed10m:  ColWindMS,
	VarPressureMSL:   ColPressureHPa,
}

// ResolveColumn returns the stored (or derived) column for an indicator
// variable. ok is false for variables the engine does not know; callers skip
// those rather than erroring.
func ResolveColumn(variable string) (string, bool) {
	if variable == VarHeatIndex {
		return ColHeatIndexC, true
	}
	col, ok := VarColumns[variable]
	return col, ok
}

// Station is a monitoring station. Stations are maintained externally; the
// engine only reads them. AdminCode is nil for stations not yet assigned to
// an administrative zone — those stations contribute to no aggregate.
type Station struct {
	ID        string  `json:"id"`
	Localite  string  `json:"localite"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	AdminCode *string `json:"admin_code,omitempty"`
}

// Mapped reports whether the station belongs to an administrative zone.
func (s Station) Mapped() bool {
	return s.AdminCode != nil && *s.AdminCode != ""
}

// Observation is one hourly row from meteo_observations_hourly. Measurement
// fields are pointers: a nil value means the station did not report that
// variable for the hour.
type Observation struct {
	StationID   string    `json:"station_id"`
	ObservedAt  time.Time `json:"observed_at"`
	PrcpMM      *float64  `json:"prcp_mm,omitempty"`
	TempC       *float64  `json:"temp_c,omitempty"`
	RHPct       *float64  `json:"rh_pct,omitempty"`
	WindGustMS  *float64  `json:"wind_gust_ms,omitempty"`
	WindMS      *float64  `json:"wind_ms,omitempty"`
	PressureHPa *float64  `json:"pressure_hpa,omitempty"`

	// HeatIndexC is filled by the derived-variable pass, never stored.
	HeatIndexC *float64 `json:"-"`

	// AdminCode is resolved from the station map before aggregation.
	// Empty means unmapped and excluded.
	AdminCode string `json:"-"`
}

// Column returns the value of the named observation column, nil when the
// column is absent for this row or unknown.
func (o *Observation) Column(col string) *float64 {
	switch col {
	case ColPrcpMM:
		return o.PrcpMM
	case ColTempC:
		return o.TempC
	case ColRHPct:
		return o.RHPct
	case ColWindGustMS:
		return o.WindGustMS
	case ColWindMS:
		return o.WindMS
	case ColPressureHPa:
		return o.PressureHPa
	case ColHeatIndexC:
		return o.HeatIndexC
	default:
		return nil
	}
}
