package pipeline

import (
	"sort"

	"github.com/mnocc/vigilance-cli/internal/model"
)

// CompositeRows combines normalized indicator rows into one composite score
// row per (score definition, zone). For each zone the weight map is walked:
// indicator codes with no row for that zone are skipped, not treated as
// zero. The composite is the weighted mean of the available score01 values;
// when the total applicable weight is zero the zone produces no row at all.
// The final value is clip(100·mean, lo, hi) with the definition's bounds.
func CompositeRows(indicators []model.RiskIndicatorRecord, defs []model.ScoreDefinition, validDate, source string) []model.RiskIndicatorRecord {
	if len(indicators) == 0 || len(defs) == 0 {
		return nil
	}

	// risk -> zone -> indicator code -> score01
	byRisk := make(map[model.Risk]map[string]map[string]float64)
	for _, rec := range indicators {
		s, ok := rec.Payload.Float("score01")
		if !ok {
			continue
		}
		zones, ok := byRisk[rec.Risk]
		if !ok {
			zones = make(map[string]map[string]float64)
			byRisk[rec.Risk] = zones
		}
		scores, ok := zones[rec.AdminCode]
		if !ok {
			scores = make(map[string]float64)
			zones[rec.AdminCode] = scores
		}
		scores[rec.IndicatorCode] = s
	}

	var out []model.RiskIndicatorRecord
	for _, def := range defs {
		zones, ok := byRisk[def.Risk]
		if !ok || len(def.Weights) == 0 {
			continue
		}

		codes := make([]string, 0, len(zones))
		for code := range zones {
			codes = append(codes, code)
		}
		sort.Strings(codes)

		lo, hi := def.Mapping.ClipBounds()
		for _, zone := range codes {
			scores := zones[zone]

			total, wsum := 0.0, 0.0
			components := make(map[string]float64)
			for code, w := range def.Weights {
				s, ok := scores[code]
				if !ok {
					continue
				}
				components[code] = s
				total += w * s
				wsum += w
			}
			if wsum == 0 {
				continue
			}

			score01 := total / wsum
			value := clamp(100*score01, lo, hi)

			method := def.Mapping.Method
			if method == "" {
				method = "weighted_sum"
			}

			out = append(out, model.RiskIndicatorRecord{
				AdminCode:     zone,
				Risk:          def.Risk,
				IndicatorCode: def.Code,
				ValidDate:     validDate,
				Value:         &value,
				Unit:          "score",
				Source:        source,
				Payload: model.Payload{
					"weights":    def.Weights,
					"components": components,
					"method":     method,
					"score01":    score01,
				},
			})
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
