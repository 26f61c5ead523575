package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mnocc/vigilance-cli/internal/db"
	"github.com/mnocc/vigilance-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool      db.Pool
	closeFn   func()
	batchSize int
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"load_stations":       `SELECT id, localite, latitude, longitude, admin_code FROM mnocc_stations ORDER BY id`,
	"load_indicator_defs": `SELECT code, title, risk, variables, resolution, window_spec, aggregation, normalization, unit, enabled FROM vigilance_indicator_defs WHERE enabled ORDER BY code`,
	"load_score_defs":     `SELECT code, risk, indicator_weights, mapping, enabled FROM vigilance_score_defs WHERE enabled ORDER BY code`,
	"record_run":          `INSERT INTO pipeline_runs (run_id, valid_date, source, rows_produced, rows_upserted, indicators_skipped, error_count, started_at, finished_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, batchSize int) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, batchSize: batchSize}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// The unique index on risk_indicators uses NULLS NOT DISTINCT so rows with a
// NULL horizon still collide on re-runs. Requires PostgreSQL 15+.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS mnocc_stations (
	id         TEXT PRIMARY KEY,
	localite   TEXT NOT NULL DEFAULT '',
	latitude   DOUBLE PRECISION NOT NULL,
	longitude  DOUBLE PRECISION NOT NULL,
	admin_code TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS meteo_observations_hourly (
	station_id   TEXT NOT NULL REFERENCES mnocc_stations(id),
	observed_at  TIMESTAMPTZ NOT NULL,
	prcp_mm      DOUBLE PRECISION,
	temp_c       DOUBLE PRECISION,
	rh_pct       DOUBLE PRECISION,
	wind_gust_ms DOUBLE PRECISION,
	wind_ms      DOUBLE PRECISION,
	pressure_hpa DOUBLE PRECISION,
	ingested_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (station_id, observed_at)
);

CREATE INDEX IF NOT EXISTS idx_meteo_obs_observed_at ON meteo_observations_hourly(observed_at);

CREATE TABLE IF NOT EXISTS vigilance_indicator_defs (
	code          TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	risk          TEXT NOT NULL,
	variables     JSONB NOT NULL DEFAULT '[]',
	resolution    TEXT NOT NULL DEFAULT 'hourly',
	window_spec   JSONB NOT NULL DEFAULT '{}',
	aggregation   JSONB NOT NULL DEFAULT '{}',
	normalization JSONB NOT NULL DEFAULT '{}',
	unit          TEXT NOT NULL DEFAULT '',
	enabled       BOOLEAN NOT NULL DEFAULT true,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vigilance_score_defs (
	code              TEXT PRIMARY KEY,
	risk              TEXT NOT NULL,
	indicator_weights JSONB NOT NULL DEFAULT '{}',
	mapping           JSONB NOT NULL DEFAULT '{}',
	enabled           BOOLEAN NOT NULL DEFAULT true,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS risk_indicators (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	admin_code     TEXT NOT NULL,
	risk           TEXT NOT NULL,
	indicator_code TEXT NOT NULL,
	valid_date     DATE NOT NULL,
	value          DOUBLE PRECISION,
	unit           TEXT NOT NULL DEFAULT '',
	horizon        TEXT,
	source         TEXT NOT NULL,
	payload        JSONB NOT NULL DEFAULT '{}',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_risk_indicators_natural
	ON risk_indicators (admin_code, risk, indicator_code, valid_date, horizon, source)
	NULLS NOT DISTINCT;

CREATE INDEX IF NOT EXISTS idx_risk_indicators_valid_date ON risk_indicators(valid_date DESC);
CREATE INDEX IF NOT EXISTS idx_risk_indicators_code ON risk_indicators(indicator_code);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id             TEXT PRIMARY KEY,
	valid_date         DATE NOT NULL,
	source             TEXT NOT NULL,
	rows_produced      INTEGER NOT NULL DEFAULT 0,
	rows_upserted      INTEGER NOT NULL DEFAULT 0,
	indicators_skipped INTEGER NOT NULL DEFAULT 0,
	error_count        INTEGER NOT NULL DEFAULT 0,
	started_at         TIMESTAMPTZ NOT NULL,
	finished_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) LoadIndicatorDefs(ctx context.Context) ([]model.IndicatorDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, title, risk, variables, resolution, window_spec, aggregation, normalization, unit, enabled
		 FROM vigilance_indicator_defs WHERE enabled ORDER BY code`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load indicator defs")
	}
	defer rows.Close()

	var defs []model.IndicatorDefinition
	for rows.Next() {
		var d model.IndicatorDefinition
		var risk string
		var variablesJSON, windowJSON, aggJSON, normJSON []byte

		if err := rows.Scan(&d.Code, &d.Title, &risk, &variablesJSON, &d.Resolution, &windowJSON, &aggJSON, &normJSON, &d.Unit, &d.Enabled); err != nil {
			return nil, eris.Wrap(err, "postgres: scan indicator def")
		}
		def, err := decodeIndicatorDef(d, risk, variablesJSON, windowJSON, aggJSON, normJSON)
		if err != nil {
			// a malformed definition disables itself, not the run
			zap.L().Warn("skipping malformed indicator definition", zap.String("code", d.Code), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, eris.Wrap(rows.Err(), "postgres: load indicator defs iterate")
}

func (s *PostgresStore) LoadScoreDefs(ctx context.Context) ([]model.ScoreDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, risk, indicator_weights, mapping, enabled
		 FROM vigilance_score_defs WHERE enabled ORDER BY code`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load score defs")
	}
	defer rows.Close()

	var defs []model.ScoreDefinition
	for rows.Next() {
		var d model.ScoreDefinition
		var risk string
		var weightsJSON, mappingJSON []byte

		if err := rows.Scan(&d.Code, &risk, &weightsJSON, &mappingJSON, &d.Enabled); err != nil {
			return nil, eris.Wrap(err, "postgres: scan score def")
		}
		def, err := decodeScoreDef(d, risk, weightsJSON, mappingJSON)
		if err != nil {
			zap.L().Warn("skipping malformed score definition", zap.String("code", d.Code), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, eris.Wrap(rows.Err(), "postgres: load score defs iterate")
}

func (s *PostgresStore) SeedIndicatorDefs(ctx context.Context, defs []model.IndicatorDefinition) (int, error) {
	seeded := 0
	for _, d := range defs {
		variablesJSON, windowJSON, aggJSON, normJSON, err := encodeIndicatorDef(d)
		if err != nil {
			return seeded, eris.Wrapf(err, "postgres: encode indicator def %s", d.Code)
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO vigilance_indicator_defs (code, title, risk, variables, resolution, window_spec, aggregation, normalization, unit, enabled, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			 ON CONFLICT (code) DO UPDATE SET
			   title = $2, risk = $3, variables = $4, resolution = $5, window_spec = $6,
			   aggregation = $7, normalization = $8, unit = $9, enabled = $10, updated_at = now()`,
			d.Code, d.Title, string(d.Risk), variablesJSON, string(d.Resolution), windowJSON, aggJSON, normJSON, d.Unit, d.Enabled,
		)
		if err != nil {
			return seeded, eris.Wrapf(err, "postgres: seed indicator def %s", d.Code)
		}
		seeded++
	}
	return seeded, nil
}

func (s *PostgresStore) SeedScoreDefs(ctx context.Context, defs []model.ScoreDefinition) (int, error) {
	seeded := 0
	for _, d := range defs {
		weightsJSON, err := json.Marshal(d.Weights)
		if err != nil {
			return seeded, eris.Wrapf(err, "postgres: marshal weights %s", d.Code)
		}
		mappingJSON, err := json.Marshal(d.Mapping)
		if err != nil {
			return seeded, eris.Wrapf(err, "postgres: marshal mapping %s", d.Code)
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO vigilance_score_defs (code, risk, indicator_weights, mapping, enabled, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now())
			 ON CONFLICT (code) DO UPDATE SET
			   risk = $2, indicator_weights = $3, mapping = $4, enabled = $5, updated_at = now()`,
			d.Code, string(d.Risk), weightsJSON, mappingJSON, d.Enabled,
		)
		if err != nil {
			return seeded, eris.Wrapf(err, "postgres: seed score def %s", d.Code)
		}
		seeded++
	}
	return seeded, nil
}

func (s *PostgresStore) LoadStations(ctx context.Context) ([]model.Station, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, localite, latitude, longitude, admin_code FROM mnocc_stations ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load stations")
	}
	defer rows.Close()

	var stations []model.Station
	for rows.Next() {
		var st model.Station
		if err := rows.Scan(&st.ID, &st.Localite, &st.Latitude, &st.Longitude, &st.AdminCode); err != nil {
			return nil, eris.Wrap(err, "postgres: scan station")
		}
		stations = append(stations, st)
	}
	return stations, eris.Wrap(rows.Err(), "postgres: load stations iterate")
}

func (s *PostgresStore) UpdateStationZones(ctx context.Context, zones map[string]string) (int, error) {
	updated := 0
	for id, code := range zones {
		tag, err := s.pool.Exec(ctx,
			`UPDATE mnocc_stations SET admin_code = $1, updated_at = now() WHERE id = $2`,
			code, id,
		)
		if err != nil {
			return updated, eris.Wrapf(err, "postgres: update station zone %s", id)
		}
		updated += int(tag.RowsAffected())
	}
	return updated, nil
}

func (s *PostgresStore) LoadHourlyObservations(ctx context.Context, since time.Time, columns []string) ([]model.Observation, error) {
	cols, err := observationColumns(columns)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT station_id, observed_at, %s FROM meteo_observations_hourly WHERE observed_at >= $1 ORDER BY station_id, observed_at`,
		joinIdentifiers(cols),
	)
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load observations")
	}
	defer rows.Close()

	var obs []model.Observation
	for rows.Next() {
		var o model.Observation
		dest := make([]any, 0, len(cols)+2)
		dest = append(dest, &o.StationID, &o.ObservedAt)
		for _, col := range cols {
			dest = append(dest, observationDest(&o, col))
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "postgres: load observations iterate")
}

func (s *PostgresStore) UpsertObservations(ctx context.Context, obs []model.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	cfg := db.UpsertConfig{
		Table: "meteo_observations_hourly",
		Columns: []string{
			"station_id", "observed_at",
			model.ColPrcpMM, model.ColTempC, model.ColRHPct,
			model.ColWindGustMS, model.ColWindMS, model.ColPressureHPa,
		},
		ConflictKeys: []string{"station_id", "observed_at"},
	}

	total := 0
	for start := 0; start < len(obs); start += s.batchSize {
		end := min(start+s.batchSize, len(obs))
		rows := make([][]any, 0, end-start)
		for _, o := range obs[start:end] {
			rows = append(rows, []any{
				o.StationID, o.ObservedAt.UTC(),
				o.PrcpMM, o.TempC, o.RHPct,
				o.WindGustMS, o.WindMS, o.PressureHPa,
			})
		}
		n, err := db.BulkUpsert(ctx, s.pool, cfg, rows)
		if err != nil {
			return total, eris.Wrap(err, "postgres: upsert observations")
		}
		total += int(n)
	}
	return total, nil
}

// riskIndicatorColumns is the write set for risk_indicators; id and
// updated_at come from table defaults or the conflict update.
var riskIndicatorColumns = []string{
	"admin_code", "risk", "indicator_code", "valid_date", "value", "unit", "horizon", "source", "payload",
}

var riskIndicatorKeys = []string{
	"admin_code", "risk", "indicator_code", "valid_date", "horizon", "source",
}

func (s *PostgresStore) UpsertRiskIndicators(ctx context.Context, records []model.RiskIndicatorRecord) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	cfg := db.UpsertConfig{
		Table:        "risk_indicators",
		Columns:      riskIndicatorColumns,
		ConflictKeys: riskIndicatorKeys,
		UpdateCols:   []string{"value", "unit", "payload"},
	}

	upserted, failedBatches := 0, 0
	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))

		rows := make([][]any, 0, end-start)
		for _, rec := range records[start:end] {
			payloadJSON, err := json.Marshal(rec.Payload)
			if err != nil {
				return upserted, failedBatches, eris.Wrapf(err, "postgres: marshal payload %s", rec.NaturalKey())
			}
			rows = append(rows, []any{
				rec.AdminCode, string(rec.Risk), rec.IndicatorCode, rec.ValidDate,
				rec.Value, rec.Unit, rec.Horizon, rec.Source, payloadJSON,
			})
		}

		n, err := db.BulkUpsert(ctx, s.pool, cfg, rows)
		if err != nil {
			zap.L().Warn("risk indicator batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", end-start),
				zap.Error(err),
			)
			failedBatches++
			continue
		}
		upserted += int(n)
	}
	return upserted, failedBatches, nil
}

func (s *PostgresStore) ListIndicators(ctx context.Context, filter ScoreFilter) ([]model.RiskIndicatorRecord, error) {
	query := `SELECT admin_code, risk, indicator_code, valid_date::text, value, unit, horizon, source, payload
	          FROM risk_indicators WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Risk != "" {
		query += fmt.Sprintf(` AND risk = $%d`, argIdx)
		args = append(args, string(filter.Risk))
		argIdx++
	}
	if filter.IndicatorCode != "" {
		query += fmt.Sprintf(` AND indicator_code = $%d`, argIdx)
		args = append(args, filter.IndicatorCode)
		argIdx++
	}
	if filter.ValidDate != "" {
		query += fmt.Sprintf(` AND valid_date = $%d`, argIdx)
		args = append(args, filter.ValidDate)
		argIdx++
	}
	if filter.AdminCode != "" {
		query += fmt.Sprintf(` AND admin_code = $%d`, argIdx)
		args = append(args, filter.AdminCode)
		argIdx++
	}
	query += ` ORDER BY valid_date DESC, admin_code, indicator_code`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list indicators")
	}
	defer rows.Close()

	var out []model.RiskIndicatorRecord
	for rows.Next() {
		var rec model.RiskIndicatorRecord
		var risk string
		var payloadJSON []byte
		if err := rows.Scan(&rec.AdminCode, &risk, &rec.IndicatorCode, &rec.ValidDate, &rec.Value, &rec.Unit, &rec.Horizon, &rec.Source, &payloadJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan indicator")
		}
		rec.Risk = model.Risk(risk)
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal payload")
			}
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list indicators iterate")
}

func (s *PostgresStore) RecordRun(ctx context.Context, summary model.RunSummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (run_id, valid_date, source, rows_produced, rows_upserted, indicators_skipped, error_count, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		summary.RunID, summary.ValidDate, summary.Source,
		summary.RowsProduced, summary.RowsUpserted, summary.IndicatorsSkipped, summary.ErrorCount,
		summary.StartedAt, summary.FinishedAt,
	)
	return eris.Wrap(err, "postgres: record run")
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, valid_date::text, source, rows_produced, rows_upserted, indicators_skipped, error_count, started_at, finished_at
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		if err := rows.Scan(&r.RunID, &r.ValidDate, &r.Source, &r.RowsProduced, &r.RowsUpserted, &r.IndicatorsSkipped, &r.ErrorCount, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// observationColumns validates the requested measurement columns, defaulting
// to the full set when none are given.
func observationColumns(columns []string) ([]string, error) {
	all := []string{
		model.ColPrcpMM, model.ColTempC, model.ColRHPct,
		model.ColWindGustMS, model.ColWindMS, model.ColPressureHPa,
	}
	if len(columns) == 0 {
		return all, nil
	}
	known := make(map[string]bool, len(all))
	for _, c := range all {
		known[c] = true
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if !known[c] {
			return nil, eris.Errorf("store: unknown observation column %q", c)
		}
		out = append(out, c)
	}
	return out, nil
}

// observationDest maps a column name to the matching scan target. Callers
// only pass columns vetted by observationColumns.
func observationDest(o *model.Observation, col string) any {
	switch col {
	case model.ColPrcpMM:
		return &o.PrcpMM
	case model.ColTempC:
		return &o.TempC
	case model.ColRHPct:
		return &o.RHPct
	case model.ColWindGustMS:
		return &o.WindGustMS
	case model.ColWindMS:
		return &o.WindMS
	case model.ColPressureHPa:
		return &o.PressureHPa
	default:
		var discard *float64
		return &discard
	}
}

func joinIdentifiers(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
