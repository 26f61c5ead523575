package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mnocc/vigilance-cli/internal/model"
	"github.com/mnocc/vigilance-cli/internal/zonemap"
)

// DefaultSource labels rows produced by the definition-driven engine.
const DefaultSource = "open-meteo-dynamic-v2"

// Stage names the orchestrator's progression, for logs and run records.
type Stage string

const (
	StageLoadingDefinitions  Stage = "LOADING_DEFINITIONS"
	StageLoadingObservations Stage = "LOADING_OBSERVATIONS"
	StageAggregating         Stage = "AGGREGATING"
	StageNormalizing         Stage = "NORMALIZING"
	StageScoring             Stage = "SCORING"
	StagePersisting          Stage = "PERSISTING"
	StageDone                Stage = "DONE"
)

// Source is the slice of the observation store the pipeline touches. The
// concrete store implements it; tests use an in-memory fake.
type Source interface {
	LoadIndicatorDefs(ctx context.Context) ([]model.IndicatorDefinition, error)
	LoadScoreDefs(ctx context.Context) ([]model.ScoreDefinition, error)
	LoadStations(ctx context.Context) ([]model.Station, error)
	LoadHourlyObservations(ctx context.Context, since time.Time, columns []string) ([]model.Observation, error)

	// UpsertRiskIndicators writes records in independent batches and reports
	// how many rows landed plus how many batches failed. Batch failures are
	// counted, not fatal.
	UpsertRiskIndicators(ctx context.Context, records []model.RiskIndicatorRecord) (upserted, failedBatches int, err error)

	RecordRun(ctx context.Context, summary model.RunSummary) error
}

// Options configures one pipeline invocation. The reference time is always
// injected so runs are replayable; the zero value means "now".
type Options struct {
	ValidDate   time.Time // defaults to Now's calendar date (UTC)
	Now         time.Time // reference timestamp for window boundaries
	DryRun      bool      // compute everything, persist nothing
	ZoneWorkers int       // concurrent zone normalizations per indicator
}

// Pipeline computes indicator and composite score rows for one valid date.
type Pipeline struct {
	src    Source
	source string
}

// New creates a pipeline writing rows under the given source label.
func New(src Source, source string) *Pipeline {
	if source == "" {
		source = DefaultSource
	}
	return &Pipeline{src: src, source: source}
}

// Run executes one synchronous pass: definitions → observations → aggregate →
// normalize → score → persist. Empty required input at any stage short-circuits
// to a clean zero-row summary; that is success, not failure. Re-invocation for
// the same date is safe because persistence upserts on the natural key.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*model.RunSummary, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	validDate := opts.ValidDate
	if validDate.IsZero() {
		validDate = now
	}
	workers := opts.ZoneWorkers
	if workers <= 0 {
		workers = 4
	}

	summary := &model.RunSummary{
		RunID:     uuid.New().String(),
		ValidDate: validDate.UTC().Format(model.DateLayout),
		Source:    p.source,
		StartedAt: time.Now().UTC(),
	}
	log := zap.L().With(
		zap.String("run_id", summary.RunID),
		zap.String("valid_date", summary.ValidDate),
	)

	log.Info("pipeline stage", zap.String("stage", string(StageLoadingDefinitions)))
	indicatorDefs, err := p.src.LoadIndicatorDefs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load indicator definitions")
	}
	scoreDefs, err := p.src.LoadScoreDefs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load score definitions")
	}
	if len(indicatorDefs) == 0 {
		return p.finish(ctx, log, summary, opts.DryRun, "no enabled indicator definitions")
	}

	stations, err := p.src.LoadStations(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load stations")
	}
	zones := zonemap.FromStations(stations)
	if len(zones) == 0 {
		return p.finish(ctx, log, summary, opts.DryRun, "no zone-mapped stations")
	}

	maxLookback, columns := planLoad(indicatorDefs)
	since := now.AddDate(0, 0, -(maxLookback + 2)) // window + baseline in one read

	log.Info("pipeline stage",
		zap.String("stage", string(StageLoadingObservations)),
		zap.Time("since", since),
		zap.Strings("columns", columns),
	)
	obs, err := p.src.LoadHourlyObservations(ctx, since, columns)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load observations")
	}
	mapped := zonemap.Apply(obs, zones)
	if len(mapped) == 0 {
		return p.finish(ctx, log, summary, opts.DryRun, "no observations from mapped stations")
	}

	if needsHeatIndex(indicatorDefs) {
		ApplyHeatIndex(mapped)
	}

	log.Info("pipeline stage", zap.String("stage", string(StageAggregating)), zap.Int("observations", len(mapped)))
	var rows []model.RiskIndicatorRecord
	for _, def := range indicatorDefs {
		recs, skipped := p.computeIndicator(ctx, mapped, def, now, summary.ValidDate, workers)
		if skipped {
			summary.IndicatorsSkipped++
			continue
		}
		rows = append(rows, recs...)
	}

	log.Info("pipeline stage", zap.String("stage", string(StageScoring)), zap.Int("indicator_rows", len(rows)))
	rows = append(rows, CompositeRows(rows, scoreDefs, summary.ValidDate, p.source)...)
	summary.RowsProduced = len(rows)
	if len(rows) == 0 {
		return p.finish(ctx, log, summary, opts.DryRun, "no rows produced")
	}

	if !opts.DryRun {
		log.Info("pipeline stage", zap.String("stage", string(StagePersisting)), zap.Int("rows", len(rows)))
		upserted, failedBatches, err := p.src.UpsertRiskIndicators(ctx, rows)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: upsert risk indicators")
		}
		summary.RowsUpserted = upserted
		summary.ErrorCount = failedBatches
	}

	return p.finish(ctx, log, summary, opts.DryRun, "")
}

// computeIndicator aggregates and normalizes one definition. skipped is true
// when the definition yields no rows: disabled, non-hourly, no variables, or
// no data in the window. Zones are normalized concurrently; results land in
// preallocated slots so output order never depends on scheduling.
func (p *Pipeline) computeIndicator(ctx context.Context, obs []model.Observation, def model.IndicatorDefinition, now time.Time, validDate string, workers int) ([]model.RiskIndicatorRecord, bool) {
	if !def.Enabled || len(def.Aggregation) == 0 {
		return nil, true
	}
	if def.Resolution != model.ResolutionHourly {
		// daily/seasonal resolutions are reserved, intentionally a no-op
		zap.L().Debug("skipping non-hourly indicator", zap.String("code", def.Code), zap.String("resolution", string(def.Resolution)))
		return nil, true
	}

	values := AggregateWindow(obs, now, def.Window.Hours, def.Aggregation)
	if len(values) == 0 {
		return nil, true
	}

	recs := make([]model.RiskIndicatorRecord, len(values))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, zv := range values {
		g.Go(func() error {
			history := BaselineSeries(obs, zv.AdminCode, def, now)
			score01 := Normalize(def.Normalization, history, zv.Value)
			value := zv.Value
			recs[i] = model.RiskIndicatorRecord{
				AdminCode:     zv.AdminCode,
				Risk:          def.Risk,
				IndicatorCode: def.Code,
				ValidDate:     validDate,
				Value:         &value,
				Unit:          def.Unit,
				Source:        p.source,
				Payload: model.Payload{
					"title":         def.Title,
					"variables":     def.Variables,
					"window_spec":   map[string]int{"hours": def.Window.Hours},
					"aggregation":   def.AggregationMap(),
					"normalization": def.Normalization,
					"score01":       score01,
					"baseline_n":    len(history),
				},
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	return recs, false
}

// finish closes out the summary, records the run, and logs the DONE stage.
func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, summary *model.RunSummary, dryRun bool, reason string) (*model.RunSummary, error) {
	summary.FinishedAt = time.Now().UTC()

	fields := []zap.Field{
		zap.String("stage", string(StageDone)),
		zap.Int("rows_produced", summary.RowsProduced),
		zap.Int("rows_upserted", summary.RowsUpserted),
		zap.Int("indicators_skipped", summary.IndicatorsSkipped),
		zap.Int("error_count", summary.ErrorCount),
	}
	if reason != "" {
		fields = append(fields, zap.String("short_circuit", reason))
	}
	log.Info("pipeline stage", fields...)

	if !dryRun {
		if err := p.src.RecordRun(ctx, *summary); err != nil {
			log.Warn("failed to record run", zap.Error(err))
		}
	}
	return summary, nil
}

// planLoad derives the widest lookback and the set of physical columns the
// selected definitions need, so history and window load in a single read.
func planLoad(defs []model.IndicatorDefinition) (maxLookbackDays int, columns []string) {
	maxLookbackDays = 0
	seen := make(map[string]bool)

	addVar := func(variable string) {
		if variable == model.VarHeatIndex {
			// derived from temperature + humidity
			seen[model.ColTempC] = true
			seen[model.ColRHPct] = true
			return
		}
		if col, ok := model.VarColumns[variable]; ok {
			seen[col] = true
		}
	}

	for _, d := range defs {
		lookback := d.Normalization.LookbackDays
		if lookback <= 0 {
			lookback = 365
		}
		if lookback > maxLookbackDays {
			maxLookbackDays = lookback
		}
		for _, v := range d.Variables {
			addVar(v)
		}
		for _, t := range d.Aggregation {
			addVar(t.Variable)
		}
	}

	for _, col := range []string{model.ColPrcpMM, model.ColTempC, model.ColRHPct, model.ColWindGustMS, model.ColWindMS, model.ColPressureHPa} {
		if seen[col] {
			columns = append(columns, col)
		}
	}
	return maxLookbackDays, columns
}

func needsHeatIndex(defs []model.IndicatorDefinition) bool {
	for _, d := range defs {
		if d.NeedsHeatIndex() {
			return true
		}
	}
	return false
}
