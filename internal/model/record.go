package model

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for valid_date values.
const DateLayout = "2006-01-02"

// Payload carries free-form audit detail on an output record: formula inputs,
// the normalized score01, composite components and weights. It stays a typed
// map so consumers can assert on specific keys without a parse step.
type Payload map[string]any

// Float reads a numeric payload key, tolerating the numeric shapes that
// round-trip through JSONB.
func (p Payload) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// RiskIndicatorRecord is one output row of risk_indicators. The tuple
// (admin_code, risk, indicator_code, valid_date, horizon, source) is the
// natural key: a second run for the same date updates rather than duplicates.
type RiskIndicatorRecord struct {
	AdminCode     string   `json:"admin_code"`
	Risk          Risk     `json:"risk"`
	IndicatorCode string   `json:"indicator_code"`
	ValidDate     string   `json:"valid_date"` // DateLayout
	Value         *float64 `json:"value"`
	Unit          string   `json:"unit"`
	Horizon       *string  `json:"horizon"` // nil for as-of-now indicators
	Source        string   `json:"source"`
	Payload       Payload  `json:"payload"`
}

// NaturalKey renders the conflict key as a single string, mostly for logs
// and duplicate checks in tests.
func (r RiskIndicatorRecord) NaturalKey() string {
	horizon := ""
	if r.Horizon != nil {
		horizon = *r.Horizon
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", r.AdminCode, r.Risk, r.IndicatorCode, r.ValidDate, horizon, r.Source)
}

// RunSummary is the sole reported outcome of a pipeline invocation.
type RunSummary struct {
	RunID             string    `json:"run_id"`
	ValidDate         string    `json:"valid_date"`
	Source            string    `json:"source"`
	RowsProduced      int       `json:"rows_produced"`
	RowsUpserted      int       `json:"rows_upserted"`
	IndicatorsSkipped int       `json:"indicators_skipped"`
	ErrorCount        int       `json:"error_count"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}
