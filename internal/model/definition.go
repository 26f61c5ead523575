package model

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Risk identifies the hazard category an indicator or score belongs to.
type Risk string

const (
	RiskFlood   Risk = "flood"
	RiskDrought Risk = "drought"
)

// ParseRisk validates a risk label from a definition row. The legacy French
// labels are accepted as aliases.
func ParseRisk(s string) (Risk, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "flood", "inondation":
		return RiskFlood, nil
	case "drought", "secheresse":
		return RiskDrought, nil
	default:
		return "", eris.Errorf("model: unknown risk %q (valid: flood, drought)", s)
	}
}

// AggregationMethod is how a variable is collapsed over a time window.
type AggregationMethod string

const (
	AggSum  AggregationMethod = "sum"
	AggMax  AggregationMethod = "max"
	AggMin  AggregationMethod = "min"
	AggMean AggregationMethod = "mean"
)

// ParseAggregation maps a definition string to a method. known is false for
// unrecognized values; the engine then falls back to AggMean, which is the
// documented default rather than an error.
func ParseAggregation(s string) (m AggregationMethod, known bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum":
		return AggSum, true
	case "max":
		return AggMax, true
	case "min":
		return AggMin, true
	case "mean", "avg":
		return AggMean, true
	default:
		return AggMean, false
	}
}

// NormalizationMethod maps a raw aggregate onto [0,1].
type NormalizationMethod string

const (
	NormPercentile NormalizationMethod = "percentile"
	NormZScore     NormalizationMethod = "zscore"
)

// ParseNormalization defaults to percentile for empty or unknown values.
func ParseNormalization(s string) (m NormalizationMethod, known bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "percentile":
		return NormPercentile, true
	case "zscore", "z-score":
		return NormZScore, true
	default:
		return NormPercentile, false
	}
}

// Resolution is the native cadence of an indicator. Only hourly indicators
// are computed today; daily and seasonal are reserved and skipped.
type Resolution string

const (
	ResolutionHourly   Resolution = "hourly"
	ResolutionDaily    Resolution = "daily"
	ResolutionSeasonal Resolution = "seasonal"
)

// WindowSpec selects how far back from the reference time observations are
// taken.
type WindowSpec struct {
	Hours int `json:"hours" yaml:"hours"`
}

// SeasonalMonth restricts a baseline to rows sharing the reference month.
const SeasonalMonth = "month"

// NormalizationSpec describes how an aggregate is scored against history.
type NormalizationSpec struct {
	Method       NormalizationMethod `json:"method" yaml:"method"`
	LookbackDays int                 `json:"lookback_days" yaml:"lookback_days"`
	Seasonal     string              `json:"seasonal,omitempty" yaml:"seasonal,omitempty"`
}

// AggregationTerm pairs one source variable with its aggregation method.
type AggregationTerm struct {
	Variable string            `json:"variable" yaml:"variable"`
	Method   AggregationMethod `json:"method" yaml:"method"`
}

// AggregationTermsFromMap converts the stored {"variable": "method"} object
// into an ordered term list. Terms are sorted by variable name so repeated
// runs aggregate in the same order. Unknown methods keep the mean fallback.
func AggregationTermsFromMap(m map[string]string) []AggregationTerm {
	if len(m) == 0 {
		return nil
	}
	terms := make([]AggregationTerm, 0, len(m))
	for v, raw := range m {
		method, _ := ParseAggregation(raw)
		terms = append(terms, AggregationTerm{Variable: v, Method: method})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Variable < terms[j].Variable })
	return terms
}

// IndicatorDefinition is one row of vigilance_indicator_defs. Definitions are
// data, edited externally, and loaded fresh each run.
type IndicatorDefinition struct {
	Code          string            `json:"code" yaml:"code"`
	Title         string            `json:"title" yaml:"title"`
	Risk          Risk              `json:"risk" yaml:"risk"`
	Variables     []string          `json:"variables" yaml:"variables"`
	Resolution    Resolution        `json:"resolution" yaml:"resolution"`
	Window        WindowSpec        `json:"window_spec" yaml:"window_spec"`
	Aggregation   []AggregationTerm `json:"aggregation" yaml:"-"`
	Normalization NormalizationSpec `json:"normalization" yaml:"normalization"`
	Unit          string            `json:"unit" yaml:"unit"`
	Enabled       bool              `json:"enabled" yaml:"enabled"`
}

// AggregationMap renders the term list back into the stored object shape.
func (d IndicatorDefinition) AggregationMap() map[string]string {
	if len(d.Aggregation) == 0 {
		return nil
	}
	m := make(map[string]string, len(d.Aggregation))
	for _, t := range d.Aggregation {
		m[t.Variable] = string(t.Method)
	}
	return m
}

// NeedsHeatIndex reports whether the definition aggregates the derived heat
// index variable.
func (d IndicatorDefinition) NeedsHeatIndex() bool {
	for _, t := range d.Aggregation {
		if t.Variable == VarHeatIndex {
			return true
		}
	}
	return false
}

// MappingSpec controls how a composite [0,1] mean becomes a displayed score.
type MappingSpec struct {
	Method string     `json:"method" yaml:"method"`
	Clip   [2]float64 `json:"clip" yaml:"clip"`
}

// ClipBounds returns the configured bounds, defaulting to [0,100].
func (m MappingSpec) ClipBounds() (lo, hi float64) {
	if m.Clip[0] == 0 && m.Clip[1] == 0 {
		return 0, 100
	}
	return m.Clip[0], m.Clip[1]
}

// ScoreDefinition is one row of vigilance_score_defs: which indicator codes
// combine, with what weights, into a named composite risk score.
type ScoreDefinition struct {
	Code    string             `json:"code" yaml:"code"`
	Risk    Risk               `json:"risk" yaml:"risk"`
	Weights map[string]float64 `json:"indicator_weights" yaml:"indicator_weights"`
	Mapping MappingSpec        `json:"mapping" yaml:"mapping"`
	Enabled bool               `json:"enabled" yaml:"enabled"`
}
