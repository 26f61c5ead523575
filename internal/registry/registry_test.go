package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnocc/vigilance-cli/internal/model"
)

func TestDefaultsAreValid(t *testing.T) {
	for _, d := range DefaultIndicators() {
		assert.NoError(t, ValidateIndicator(d), d.Code)
	}
	for _, d := range DefaultScores() {
		assert.NoError(t, ValidateScore(d), d.Code)
	}
}

func TestDefaultScoresReferenceDefaultIndicators(t *testing.T) {
	codes := make(map[string]bool)
	for _, d := range DefaultIndicators() {
		codes[d.Code] = true
	}
	for _, sc := range DefaultScores() {
		for code := range sc.Weights {
			assert.True(t, codes[code], "score %s references unknown indicator %s", sc.Code, code)
		}
	}
}

func TestValidateIndicator(t *testing.T) {
	base := DefaultIndicators()[0]

	tests := []struct {
		name    string
		mutate  func(*model.IndicatorDefinition)
		wantErr string
	}{
		{"valid", func(d *model.IndicatorDefinition) {}, ""},
		{"missing code", func(d *model.IndicatorDefinition) { d.Code = "" }, "code is required"},
		{"bad risk", func(d *model.IndicatorDefinition) { d.Risk = "volcano" }, "unknown risk"},
		{"zero window", func(d *model.IndicatorDefinition) { d.Window.Hours = 0 }, "window_spec.hours"},
		{"no aggregation", func(d *model.IndicatorDefinition) { d.Aggregation = nil }, "at least one variable"},
		{"only unknown variables", func(d *model.IndicatorDefinition) {
			d.Aggregation = []model.AggregationTerm{{Variable: "soil_moisture_9cm", Method: model.AggMean}}
		}, "no known variables"},
		{"negative lookback", func(d *model.IndicatorDefinition) { d.Normalization.LookbackDays = -1 }, "negative lookback_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			err := ValidateIndicator(d)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateScore(t *testing.T) {
	valid := DefaultScores()[0]
	assert.NoError(t, ValidateScore(valid))

	noWeights := valid
	noWeights.Weights = nil
	require.Error(t, ValidateScore(noWeights))

	negative := valid
	negative.Weights = map[string]float64{"PRCP_24H": -1}
	require.Error(t, ValidateScore(negative))
}

func TestLoadFile(t *testing.T) {
	seed := `
indicators:
  - code: PRCP_48H
    title: Cumul 48h
    risk: flood
    variables: [precipitation]
    resolution: hourly
    window_spec:
      hours: 48
    aggregation:
      precipitation: sum
    normalization:
      method: percentile
      lookback_days: 180
    unit: mm
    enabled: true
scores:
  - code: FLOOD_SCORE
    risk: inondation
    indicator_weights:
      PRCP_48H: 1.0
    mapping:
      method: weighted_sum
      clip: [0, 100]
    enabled: true
`
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	indicators, scores, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, indicators, 1)
	require.Len(t, scores, 1)
	assert.Equal(t, model.RiskFlood, scores[0].Risk) // alias normalized

	d := indicators[0]
	assert.Equal(t, "PRCP_48H", d.Code)
	assert.Equal(t, 48, d.Window.Hours)
	require.Len(t, d.Aggregation, 1)
	assert.Equal(t, model.AggSum, d.Aggregation[0].Method)
	assert.Equal(t, 180, d.Normalization.LookbackDays)
}

func TestLoadFile_InvalidDefinitionFails(t *testing.T) {
	seed := `
indicators:
  - code: BAD
    risk: flood
    resolution: hourly
    window_spec:
      hours: 24
`
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	_, _, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `indicator "BAD"`)
}

func TestLoadFile_Missing(t *testing.T) {
	_, _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
