// Package registry owns the built-in indicator and score definitions and
// loads operator-supplied seed files. Definitions live in the database;
// this package only provides the initial set and validates edits before
// they are seeded.
package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mnocc/vigilance-cli/internal/model"
)

// SeedFile is the YAML shape accepted by `vigilance defs seed --file`.
type SeedFile struct {
	Indicators []IndicatorSeed         `yaml:"indicators"`
	Scores     []model.ScoreDefinition `yaml:"scores"`
}

// IndicatorSeed mirrors IndicatorDefinition with the aggregation kept in its
// stored {"variable": "method"} shape, which is what operators edit.
type IndicatorSeed struct {
	model.IndicatorDefinition `yaml:",inline"`
	Aggregation               map[string]string `yaml:"aggregation"`
}

// Definition resolves the seed into a validated IndicatorDefinition.
func (s IndicatorSeed) Definition() model.IndicatorDefinition {
	d := s.IndicatorDefinition
	d.Aggregation = model.AggregationTermsFromMap(s.Aggregation)
	return d
}

// LoadFile reads and validates a seed file. Invalid definitions fail the
// whole load: a seed file is operator input, not runtime data, so it gets
// strict treatment.
func LoadFile(path string) ([]model.IndicatorDefinition, []model.ScoreDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "registry: read seed file %s", path)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, nil, eris.Wrapf(err, "registry: parse seed file %s", path)
	}

	indicators := make([]model.IndicatorDefinition, 0, len(seed.Indicators))
	for _, s := range seed.Indicators {
		d := s.Definition()
		if err := ValidateIndicator(d); err != nil {
			return nil, nil, eris.Wrapf(err, "registry: indicator %q", d.Code)
		}
		d.Risk, _ = model.ParseRisk(string(d.Risk)) // normalize French aliases
		indicators = append(indicators, d)
	}
	scores := make([]model.ScoreDefinition, 0, len(seed.Scores))
	for _, d := range seed.Scores {
		if err := ValidateScore(d); err != nil {
			return nil, nil, eris.Wrapf(err, "registry: score %q", d.Code)
		}
		d.Risk, _ = model.ParseRisk(string(d.Risk))
		scores = append(scores, d)
	}
	return indicators, scores, nil
}

// ValidateIndicator rejects definitions the engine could never compute.
// Unknown variables are tolerated with a warning since the engine skips them
// per-term, but a definition with no known variable at all is an error.
func ValidateIndicator(d model.IndicatorDefinition) error {
	if d.Code == "" {
		return eris.New("registry: indicator code is required")
	}
	if _, err := model.ParseRisk(string(d.Risk)); err != nil {
		return err
	}
	if d.Resolution == "" {
		return eris.New("registry: resolution is required")
	}
	if d.Resolution == model.ResolutionHourly && d.Window.Hours <= 0 {
		return eris.Errorf("registry: hourly indicator needs window_spec.hours > 0, got %d", d.Window.Hours)
	}
	if len(d.Aggregation) == 0 {
		return eris.New("registry: aggregation must name at least one variable")
	}

	known := 0
	for _, t := range d.Aggregation {
		if _, ok := model.ResolveColumn(t.Variable); ok {
			known++
		} else {
			zap.L().Warn("indicator aggregates unknown variable",
				zap.String("code", d.Code),
				zap.String("variable", t.Variable),
			)
		}
	}
	if known == 0 {
		return eris.Errorf("registry: no known variables in aggregation for %s", d.Code)
	}
	if d.Normalization.LookbackDays < 0 {
		return eris.Errorf("registry: negative lookback_days for %s", d.Code)
	}
	return nil
}

// ValidateScore rejects composite definitions with no usable weights.
func ValidateScore(d model.ScoreDefinition) error {
	if d.Code == "" {
		return eris.New("registry: score code is required")
	}
	if _, err := model.ParseRisk(string(d.Risk)); err != nil {
		return err
	}
	if len(d.Weights) == 0 {
		return eris.Errorf("registry: score %s has no indicator weights", d.Code)
	}
	for code, w := range d.Weights {
		if w < 0 {
			return eris.Errorf("registry: negative weight %f for %s in %s", w, code, d.Code)
		}
	}
	return nil
}
