package registry

import "github.com/mnocc/vigilance-cli/internal/model"

// DefaultIndicators is the built-in indicator set, seeded by `defs seed`
// when no file is given. Codes are stable: downstream bulletins key on them.
func DefaultIndicators() []model.IndicatorDefinition {
	return []model.IndicatorDefinition{
		{
			Code:       "PRCP_24H",
			Title:      "Cumul de précipitations sur 24h",
			Risk:       model.RiskFlood,
			Variables:  []string{model.VarPrecipitation},
			Resolution: model.ResolutionHourly,
			Window:     model.WindowSpec{Hours: 24},
			Aggregation: []model.AggregationTerm{
				{Variable: model.VarPrecipitation, Method: model.AggSum},
			},
			Normalization: model.NormalizationSpec{Method: model.NormPercentile, LookbackDays: 365},
			Unit:          "mm",
			Enabled:       true,
		},
		{
			Code:       "PRCP_72H",
			Title:      "Cumul de précipitations sur 72h",
			Risk:       model.RiskFlood,
			Variables:  []string{model.VarPrecipitation},
			Resolution: model.ResolutionHourly,
			Window:     model.WindowSpec{Hours: 72},
			Aggregation: []model.AggregationTerm{
				{Variable: model.VarPrecipitation, Method: model.AggSum},
			},
			Normalization: model.NormalizationSpec{Method: model.NormPercentile, LookbackDays: 365},
			Unit:          "mm",
			Enabled:       true,
		},
		{
			Code:       "RX1H",
			Title:      "Intensité horaire maximale",
			Risk:       model.RiskFlood,
			Variables:  []string{model.VarPrecipitation},
			Resolution: model.ResolutionHourly,
			Window:     model.WindowSpec{Hours: 24},
			Aggregation: []model.AggregationTerm{
				{Variable: model.VarPrecipitation, Method: model.AggMax},
			},
			Normalization: model.NormalizationSpec{Method: model.NormPercentile, LookbackDays: 365},
			Unit:          "mm/h",
			Enabled:       true,
		},
		{
			Code:       "GUST_MAX_24H",
			Title:      "Rafale maximale sur 24h",
			Risk:       model.RiskFlood,
			Variables:  []string{model.VarWindGusts10m},
			Resolution: model.ResolutionHourly,
			Window:     model.WindowSpec{Hours: 24},
			Aggregation: []model.AggregationTerm{
				{Variable: model.VarWindGusts10m, Method: model.AggMax},
			},
			Normalization: model.NormalizationSpec{Method: model.NormPercentile, LookbackDays: 365},
			Unit:          "m/s",
			Enabled:       true,
		},
		{
			Code:       "HEAT_INDEX_MAX_24H",
			Title:      "Indice de chaleur maximal sur 24h",
			Risk:       model.RiskDrought,
			Variables:  []string{model.VarTemperature2m, model.VarRelHumidity2m},
			Resolution: model.ResolutionHourly,
			Window:     model.WindowSpec{Hours: 24},
			Aggregation: []model.AggregationTerm{
				{Variable: model.VarHeatIndex, Method: model.AggMax},
			},
			Normalization: model.NormalizationSpec{
				Method:       model.NormZScore,
				LookbackDays: 365,
				Seasonal:     model.SeasonalMonth,
			},
			Unit:    "°C",
			Enabled: true,
		},
		{
			Code:       "TMAX_24H",
			Title:      "Température maximale sur 24h",
			Risk:       model.RiskDrought,
			Variables:  []string{model.VarTemperature2m},
			Resolution: model.ResolutionHourly,
			Window:     model.WindowSpec{Hours: 24},
			Aggregation: []model.AggregationTerm{
				{Variable: model.VarTemperature2m, Method: model.AggMax},
			},
			Normalization: model.NormalizationSpec{
				Method:       model.NormZScore,
				LookbackDays: 365,
				Seasonal:     model.SeasonalMonth,
			},
			Unit:    "°C",
			Enabled: true,
		},
	}
}

// DefaultScores combines the built-in indicators into the two published
// composite scores.
func DefaultScores() []model.ScoreDefinition {
	return []model.ScoreDefinition{
		{
			Code: "FLOOD_SCORE",
			Risk: model.RiskFlood,
			Weights: map[string]float64{
				"PRCP_24H": 0.4,
				"PRCP_72H": 0.3,
				"RX1H":     0.3,
			},
			Mapping: model.MappingSpec{Method: "weighted_sum", Clip: [2]float64{0, 100}},
			Enabled: true,
		},
		{
			Code: "DROUGHT_SCORE",
			Risk: model.RiskDrought,
			Weights: map[string]float64{
				"HEAT_INDEX_MAX_24H": 0.5,
				"TMAX_24H":           0.5,
			},
			Mapping: model.MappingSpec{Method: "weighted_sum", Clip: [2]float64{0, 100}},
			Enabled: true,
		},
	}
}
