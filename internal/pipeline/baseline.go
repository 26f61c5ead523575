package pipeline

import (
	"time"

	"github.com/mnocc/vigilance-cli/internal/model"
)

// BaselineSeries reconstructs the historical series a zone's current
// aggregate is normalized against. The series must have the same shape as
// the current value, so construction depends on the indicator's leading
// aggregation term:
//
//   - precipitation aggregated with sum: observations are bucketed per
//     calendar day (UTC) and a rolling sum over ceil(window/24) days is
//     taken, mirroring an accumulation window sliding through history;
//   - every other (variable, method) pair: the raw hourly series of the
//     resolved column.
//
// History is restricted to lookback_days back from now (default 365) and,
// when the normalization is seasonal, to rows sharing now's calendar month.
// Returns nil when the zone has no usable history.
func BaselineSeries(obs []model.Observation, adminCode string, def model.IndicatorDefinition, now time.Time) []float64 {
	if len(def.Aggregation) == 0 {
		return nil
	}
	lead := def.Aggregation[0]
	col, ok := model.ResolveColumn(lead.Variable)
	if !ok {
		return nil
	}

	lookback := def.Normalization.LookbackDays
	if lookback <= 0 {
		lookback = 365
	}
	cutoff := now.AddDate(0, 0, -lookback)
	seasonal := def.Normalization.Seasonal == model.SeasonalMonth
	month := now.UTC().Month()

	inRange := func(o *model.Observation) bool {
		if o.AdminCode != adminCode || o.ObservedAt.Before(cutoff) {
			return false
		}
		if seasonal && o.ObservedAt.UTC().Month() != month {
			return false
		}
		return true
	}

	if lead.Variable == model.VarPrecipitation && lead.Method == model.AggSum {
		return rollingDailySums(obs, inRange, col, def.Window.Hours)
	}

	var series []float64
	for i := range obs {
		o := &obs[i]
		if !inRange(o) {
			continue
		}
		if v := o.Column(col); v != nil {
			series = append(series, *v)
		}
	}
	return series
}

// rollingDailySums buckets the column per UTC day over a continuous day axis
// (days without observations count as 0 mm, matching a daily resample), then
// sums a window of ceil(hours/24) days sliding one day at a time. A partial
// leading window still yields a value, like rolling with min_periods=1.
func rollingDailySums(obs []model.Observation, inRange func(*model.Observation) bool, col string, windowHours int) []float64 {
	daily := make(map[string]float64)
	var first, last time.Time

	for i := range obs {
		o := &obs[i]
		if !inRange(o) {
			continue
		}
		v := o.Column(col)
		if v == nil {
			continue
		}
		day := o.ObservedAt.UTC().Truncate(24 * time.Hour)
		daily[day.Format(model.DateLayout)] += *v
		if first.IsZero() || day.Before(first) {
			first = day
		}
		if last.IsZero() || day.After(last) {
			last = day
		}
	}
	if len(daily) == 0 {
		return nil
	}

	var days []float64
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, daily[d.Format(model.DateLayout)])
	}

	winDays := (windowHours + 23) / 24
	if winDays < 1 {
		winDays = 1
	}

	sums := make([]float64, len(days))
	running := 0.0
	for i, v := range days {
		running += v
		if i >= winDays {
			running -= days[i-winDays]
		}
		sums[i] = running
	}
	return sums
}
