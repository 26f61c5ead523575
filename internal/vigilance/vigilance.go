// Package vigilance computes the fixed-threshold bulletin scores from raw
// hourly observations. Unlike the definition-driven engine, the thresholds
// here are frozen: they match the published vigilance ladder and change only
// with the bulletin specification.
package vigilance

import (
	"sort"
	"time"

	"github.com/mnocc/vigilance-cli/internal/model"
	"github.com/mnocc/vigilance-cli/internal/pipeline"
)

// SourceHourly labels rows produced by the threshold ladder.
const SourceHourly = "open-meteo-hourly"

// DryDayThresholdMM is the daily precipitation total below which a day
// counts as dry for the consecutive-dry-days streak.
const DryDayThresholdMM = 1.0

// CDDLookbackDays bounds how far back the dry streak is counted.
const CDDLookbackDays = 30

// ZoneMetrics holds the raw per-zone inputs to the threshold ladder.
// Temperature-derived fields are nil when no station in the zone reported
// temperature.
type ZoneMetrics struct {
	AdminCode       string
	Prcp24h         float64
	Prcp72h         float64
	Rx1h            float64
	HeatIndexMax24h *float64
	TMax24h         *float64
	CDD             int
}

// ComputeMetrics aggregates observations into per-zone ladder inputs, sorted
// by zone. Observations must already carry their admin code; heat index is
// derived here for rows that have both inputs.
func ComputeMetrics(obs []model.Observation, now time.Time) []ZoneMetrics {
	pipeline.ApplyHeatIndex(obs)

	cut24 := now.Add(-24 * time.Hour)
	cut72 := now.Add(-72 * time.Hour)
	cutCDD := now.AddDate(0, 0, -CDDLookbackDays)

	type acc struct {
		prcp24, prcp72, rx1h float64
		heatMax, tMax        *float64
		dailyPrcp            map[string]float64 // UTC day -> mm
	}
	zones := make(map[string]*acc)

	for i := range obs {
		o := &obs[i]
		if o.AdminCode == "" || o.ObservedAt.After(now) {
			continue
		}
		a, ok := zones[o.AdminCode]
		if !ok {
			a = &acc{dailyPrcp: make(map[string]float64)}
			zones[o.AdminCode] = a
		}

		if o.PrcpMM != nil {
			v := *o.PrcpMM
			if !o.ObservedAt.Before(cutCDD) {
				day := o.ObservedAt.UTC().Format(model.DateLayout)
				a.dailyPrcp[day] += v
			}
			if !o.ObservedAt.Before(cut72) {
				a.prcp72 += v
				if !o.ObservedAt.Before(cut24) {
					a.prcp24 += v
					if v > a.rx1h {
						a.rx1h = v
					}
				}
			}
		}
		if !o.ObservedAt.Before(cut24) {
			if o.HeatIndexC != nil && (a.heatMax == nil || *o.HeatIndexC > *a.heatMax) {
				v := *o.HeatIndexC
				a.heatMax = &v
			}
			if o.TempC != nil && (a.tMax == nil || *o.TempC > *a.tMax) {
				v := *o.TempC
				a.tMax = &v
			}
		}
	}

	codes := make([]string, 0, len(zones))
	for code := range zones {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make([]ZoneMetrics, 0, len(codes))
	for _, code := range codes {
		a := zones[code]
		out = append(out, ZoneMetrics{
			AdminCode:       code,
			Prcp24h:         a.prcp24,
			Prcp72h:         a.prcp72,
			Rx1h:            a.rx1h,
			HeatIndexMax24h: a.heatMax,
			TMax24h:         a.tMax,
			CDD:             dryStreak(a.dailyPrcp, now),
		})
	}
	return out
}

// dryStreak counts consecutive days with total precipitation under the dry
// threshold, walking backwards from the reference day. Days with no data at
// all end the streak: absence of rain data is not evidence of drought.
func dryStreak(dailyPrcp map[string]float64, now time.Time) int {
	streak := 0
	day := now.UTC().Truncate(24 * time.Hour)
	for i := 0; i < CDDLookbackDays; i++ {
		total, ok := dailyPrcp[day.Format(model.DateLayout)]
		if !ok || total >= DryDayThresholdMM {
			break
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}

// FloodScore applies the published flood ladder. Contributions are additive
// across the three precipitation metrics, capped at 100.
func FloodScore(m ZoneMetrics) float64 {
	score := 0.0

	switch {
	case m.Prcp24h >= 100:
		score += 40
	case m.Prcp24h >= 50:
		score += 30
	case m.Prcp24h >= 20:
		score += 15
	}

	switch {
	case m.Prcp72h >= 200:
		score += 40
	case m.Prcp72h >= 120:
		score += 30
	case m.Prcp72h >= 50:
		score += 15
	}

	switch {
	case m.Rx1h >= 40:
		score += 20
	case m.Rx1h >= 20:
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

// DroughtScore applies the published drought ladder: dry streak plus heat
// stress. Heat points read the heat index, falling back to the raw TMax for
// zones with a temperature sensor but no humidity sensor; zones with neither
// score on the streak alone.
func DroughtScore(m ZoneMetrics) float64 {
	score := 0.0

	switch {
	case m.CDD > 20:
		score += 50
	case m.CDD > 10:
		score += 35
	case m.CDD >= 5:
		score += 15
	}

	heat := m.HeatIndexMax24h
	if heat == nil {
		heat = m.TMax24h
	}
	if heat != nil {
		switch {
		case *heat > 38:
			score += 25
		case *heat >= 35:
			score += 18
		case *heat >= 32:
			score += 10
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Records renders zone metrics into persistable rows: every raw metric plus
// the two ladder scores, all under the hourly source so they never collide
// with the definition-driven engine's rows.
func Records(metrics []ZoneMetrics, validDate string) []model.RiskIndicatorRecord {
	var out []model.RiskIndicatorRecord

	add := func(zone, code string, risk model.Risk, value float64, unit string, payload model.Payload) {
		v := value
		out = append(out, model.RiskIndicatorRecord{
			AdminCode:     zone,
			Risk:          risk,
			IndicatorCode: code,
			ValidDate:     validDate,
			Value:         &v,
			Unit:          unit,
			Source:        SourceHourly,
			Payload:       payload,
		})
	}

	for _, m := range metrics {
		add(m.AdminCode, "PRCP_24H", model.RiskFlood, m.Prcp24h, "mm", nil)
		add(m.AdminCode, "PRCP_72H", model.RiskFlood, m.Prcp72h, "mm", nil)
		add(m.AdminCode, "RX1H", model.RiskFlood, m.Rx1h, "mm/h", nil)
		add(m.AdminCode, "CDD", model.RiskDrought, float64(m.CDD), "days", nil)
		if m.HeatIndexMax24h != nil {
			add(m.AdminCode, "HEAT_INDEX_MAX_24H", model.RiskDrought, *m.HeatIndexMax24h, "°C", nil)
		}
		if m.TMax24h != nil {
			add(m.AdminCode, "TMAX_24H", model.RiskDrought, *m.TMax24h, "°C", nil)
		}

		add(m.AdminCode, "FLOOD_SCORE", model.RiskFlood, FloodScore(m), "score", model.Payload{
			"prcp_24h": m.Prcp24h,
			"prcp_72h": m.Prcp72h,
			"rx1h":     m.Rx1h,
		})
		droughtPayload := model.Payload{"cdd": m.CDD}
		if m.HeatIndexMax24h != nil {
			droughtPayload["heat_index_max_24h"] = *m.HeatIndexMax24h
		}
		add(m.AdminCode, "DROUGHT_SCORE", model.RiskDrought, DroughtScore(m), "score", droughtPayload)
	}
	return out
}
