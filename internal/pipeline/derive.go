// Package pipeline implements the indicator and scoring engine: time-window
// aggregation per administrative zone, baseline normalization, weighted
// composite risk scores, and the run orchestrator that ties them together.
package pipeline

import "github.com/mnocc/vigilance-cli/internal/model"

// HeatIndexC computes the apparent temperature (°C) from air temperature and
// relative humidity using the NOAA Rothfusz regression. The regression only
// holds for T >= 27°C and RH >= 40%; below either bound the heat index equals
// the temperature unchanged. Returns nil when either input is missing.
func HeatIndexC(tempC, rhPct *float64) *float64 {
	if tempC == nil || rhPct == nil {
		return nil
	}
	t, r := *tempC, *rhPct
	if t < 27 || r < 40 {
		v := t
		return &v
	}

	T := t*9/5 + 32
	R := r
	hi := -42.379 +
		2.04901523*T +
		10.14333127*R -
		0.22475541*T*R -
		0.00683783*T*T -
		0.05481717*R*R +
		0.00122874*T*T*R +
		0.00085282*T*R*R -
		0.00000199*T*T*R*R

	v := (hi - 32) * 5 / 9
	return &v
}

// ApplyHeatIndex fills the derived heat_index_c column on every row. It runs
// once per invocation, before any window is selected, so the current
// aggregate and its baseline see the same derived series.
func ApplyHeatIndex(obs []model.Observation) {
	for i := range obs {
		obs[i].HeatIndexC = HeatIndexC(obs[i].TempC, obs[i].RHPct)
	}
}
