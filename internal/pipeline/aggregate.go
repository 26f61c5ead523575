package pipeline

import (
	"math"
	"sort"
	"time"

	"github.com/mnocc/vigilance-cli/internal/model"
)

// ZoneValue is the aggregated metric for one administrative zone.
type ZoneValue struct {
	AdminCode string
	Value     float64
}

// accumulator keeps the running state for one (zone, variable) pair.
type accumulator struct {
	sum   float64
	min   float64
	max   float64
	count int
}

func (a *accumulator) add(v float64) {
	if a.count == 0 {
		a.min, a.max = v, v
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	a.sum += v
	a.count++
}

func (a *accumulator) result(m model.AggregationMethod) float64 {
	switch m {
	case model.AggSum:
		return a.sum
	case model.AggMax:
		return a.max
	case model.AggMin:
		return a.min
	default:
		// mean, including the documented unknown-method fallback
		return a.sum / float64(a.count)
	}
}

// resolvedTerm is an aggregation term whose variable resolved to a column.
type resolvedTerm struct {
	variable string
	col      string
	method   model.AggregationMethod
}

// resolveTerms drops terms whose variable is unknown. Never errors: an
// unresolvable variable simply contributes nothing.
func resolveTerms(terms []model.AggregationTerm) []resolvedTerm {
	out := make([]resolvedTerm, 0, len(terms))
	for _, t := range terms {
		col, ok := model.ResolveColumn(t.Variable)
		if !ok {
			continue
		}
		out = append(out, resolvedTerm{variable: t.Variable, col: col, method: t.Method})
	}
	return out
}

// AggregateWindow selects observations with timestamp >= now−hours and
// aggregates them per zone according to the definition's terms. With more
// than one variable the per-zone value is the sum of the per-variable
// aggregates (the documented combine rule); with one variable it is that
// aggregate directly. Zones with no data in the window produce no entry —
// never a fabricated zero. Results are sorted by zone for determinism.
func AggregateWindow(obs []model.Observation, now time.Time, hours int, terms []model.AggregationTerm) []ZoneValue {
	if hours <= 0 {
		hours = 24
	}
	resolved := resolveTerms(terms)
	if len(resolved) == 0 {
		return nil
	}

	cutoff := now.Add(-time.Duration(hours) * time.Hour)
	acc := make(map[string][]*accumulator)

	for i := range obs {
		o := &obs[i]
		if o.AdminCode == "" || o.ObservedAt.Before(cutoff) {
			continue
		}
		zone, ok := acc[o.AdminCode]
		if !ok {
			zone = make([]*accumulator, len(resolved))
			for j := range zone {
				zone[j] = &accumulator{}
			}
			acc[o.AdminCode] = zone
		}
		for j, rt := range resolved {
			if v := o.Column(rt.col); v != nil {
				zone[j].add(*v)
			}
		}
	}

	values := make([]ZoneValue, 0, len(acc))
	for code, zone := range acc {
		combined := 0.0
		parts := 0
		for j, rt := range resolved {
			if zone[j].count == 0 {
				continue
			}
			combined += zone[j].result(rt.method)
			parts++
		}
		if parts == 0 {
			continue
		}
		values = append(values, ZoneValue{AdminCode: code, Value: combined})
	}

	sort.Slice(values, func(i, j int) bool { return values[i].AdminCode < values[j].AdminCode })
	return values
}
