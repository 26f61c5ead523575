package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mnocc/vigilance-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for field
// laptops and tests; production runs on Postgres.
type SQLiteStore struct {
	db        *sql.DB
	batchSize int
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, batchSize int) (*SQLiteStore, error) {
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := d.Exec(pragma); err != nil {
			d.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &SQLiteStore{db: d, batchSize: batchSize}, nil
}

// SQLite has no NULLS NOT DISTINCT, so the natural-key index folds a NULL
// horizon to '' with COALESCE; upserts name the same expression.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS mnocc_stations (
	id         TEXT PRIMARY KEY,
	localite   TEXT NOT NULL DEFAULT '',
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	admin_code TEXT,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS meteo_observations_hourly (
	station_id   TEXT NOT NULL REFERENCES mnocc_stations(id),
	observed_at  DATETIME NOT NULL,
	prcp_mm      REAL,
	temp_c       REAL,
	rh_pct       REAL,
	wind_gust_ms REAL,
	wind_ms      REAL,
	pressure_hpa REAL,
	ingested_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (station_id, observed_at)
);

CREATE INDEX IF NOT EXISTS idx_meteo_obs_observed_at ON meteo_observations_hourly(observed_at);

CREATE TABLE IF NOT EXISTS vigilance_indicator_defs (
	code          TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	risk          TEXT NOT NULL,
	variables     TEXT NOT NULL DEFAULT '[]',
	resolution    TEXT NOT NULL DEFAULT 'hourly',
	window_spec   TEXT NOT NULL DEFAULT '{}',
	aggregation   TEXT NOT NULL DEFAULT '{}',
	normalization TEXT NOT NULL DEFAULT '{}',
	unit          TEXT NOT NULL DEFAULT '',
	enabled       INTEGER NOT NULL DEFAULT 1,
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS vigilance_score_defs (
	code              TEXT PRIMARY KEY,
	risk              TEXT NOT NULL,
	indicator_weights TEXT NOT NULL DEFAULT '{}',
	mapping           TEXT NOT NULL DEFAULT '{}',
	enabled           INTEGER NOT NULL DEFAULT 1,
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS risk_indicators (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	admin_code     TEXT NOT NULL,
	risk           TEXT NOT NULL,
	indicator_code TEXT NOT NULL,
	valid_date     TEXT NOT NULL,
	value          REAL,
	unit           TEXT NOT NULL DEFAULT '',
	horizon        TEXT,
	source         TEXT NOT NULL,
	payload        TEXT NOT NULL DEFAULT '{}',
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_risk_indicators_natural
	ON risk_indicators (admin_code, risk, indicator_code, valid_date, COALESCE(horizon, ''), source);

CREATE INDEX IF NOT EXISTS idx_risk_indicators_valid_date ON risk_indicators(valid_date DESC);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id             TEXT PRIMARY KEY,
	valid_date         TEXT NOT NULL,
	source             TEXT NOT NULL,
	rows_produced      INTEGER NOT NULL DEFAULT 0,
	rows_upserted      INTEGER NOT NULL DEFAULT 0,
	indicators_skipped INTEGER NOT NULL DEFAULT 0,
	error_count        INTEGER NOT NULL DEFAULT 0,
	started_at         DATETIME NOT NULL,
	finished_at        DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadIndicatorDefs(ctx context.Context) ([]model.IndicatorDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, title, risk, variables, resolution, window_spec, aggregation, normalization, unit, enabled
		 FROM vigilance_indicator_defs WHERE enabled = 1 ORDER BY code`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load indicator defs")
	}
	defer rows.Close()

	var defs []model.IndicatorDefinition
	for rows.Next() {
		var d model.IndicatorDefinition
		var risk, variablesJSON, windowJSON, aggJSON, normJSON string

		if err := rows.Scan(&d.Code, &d.Title, &risk, &variablesJSON, &d.Resolution, &windowJSON, &aggJSON, &normJSON, &d.Unit, &d.Enabled); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan indicator def")
		}
		def, err := decodeIndicatorDef(d, risk, []byte(variablesJSON), []byte(windowJSON), []byte(aggJSON), []byte(normJSON))
		if err != nil {
			zap.L().Warn("skipping malformed indicator definition", zap.String("code", d.Code), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, eris.Wrap(rows.Err(), "sqlite: load indicator defs iterate")
}

func (s *SQLiteStore) LoadScoreDefs(ctx context.Context) ([]model.ScoreDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, risk, indicator_weights, mapping, enabled
		 FROM vigilance_score_defs WHERE enabled = 1 ORDER BY code`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load score defs")
	}
	defer rows.Close()

	var defs []model.ScoreDefinition
	for rows.Next() {
		var d model.ScoreDefinition
		var risk, weightsJSON, mappingJSON string

		if err := rows.Scan(&d.Code, &risk, &weightsJSON, &mappingJSON, &d.Enabled); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score def")
		}
		def, err := decodeScoreDef(d, risk, []byte(weightsJSON), []byte(mappingJSON))
		if err != nil {
			zap.L().Warn("skipping malformed score definition", zap.String("code", d.Code), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, eris.Wrap(rows.Err(), "sqlite: load score defs iterate")
}

func (s *SQLiteStore) SeedIndicatorDefs(ctx context.Context, defs []model.IndicatorDefinition) (int, error) {
	seeded := 0
	for _, d := range defs {
		variablesJSON, windowJSON, aggJSON, normJSON, err := encodeIndicatorDef(d)
		if err != nil {
			return seeded, eris.Wrapf(err, "sqlite: encode indicator def %s", d.Code)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO vigilance_indicator_defs (code, title, risk, variables, resolution, window_spec, aggregation, normalization, unit, enabled, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
			 ON CONFLICT(code) DO UPDATE SET
			   title = excluded.title, risk = excluded.risk, variables = excluded.variables,
			   resolution = excluded.resolution, window_spec = excluded.window_spec,
			   aggregation = excluded.aggregation, normalization = excluded.normalization,
			   unit = excluded.unit, enabled = excluded.enabled, updated_at = datetime('now')`,
			d.Code, d.Title, string(d.Risk), string(variablesJSON), string(d.Resolution),
			string(windowJSON), string(aggJSON), string(normJSON), d.Unit, d.Enabled,
		)
		if err != nil {
			return seeded, eris.Wrapf(err, "sqlite: seed indicator def %s", d.Code)
		}
		seeded++
	}
	return seeded, nil
}

func (s *SQLiteStore) SeedScoreDefs(ctx context.Context, defs []model.ScoreDefinition) (int, error) {
	seeded := 0
	for _, d := range defs {
		weightsJSON, err := json.Marshal(d.Weights)
		if err != nil {
			return seeded, eris.Wrapf(err, "sqlite: marshal weights %s", d.Code)
		}
		mappingJSON, err := json.Marshal(d.Mapping)
		if err != nil {
			return seeded, eris.Wrapf(err, "sqlite: marshal mapping %s", d.Code)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO vigilance_score_defs (code, risk, indicator_weights, mapping, enabled, updated_at)
			 VALUES (?, ?, ?, ?, ?, datetime('now'))
			 ON CONFLICT(code) DO UPDATE SET
			   risk = excluded.risk, indicator_weights = excluded.indicator_weights,
			   mapping = excluded.mapping, enabled = excluded.enabled, updated_at = datetime('now')`,
			d.Code, string(d.Risk), string(weightsJSON), string(mappingJSON), d.Enabled,
		)
		if err != nil {
			return seeded, eris.Wrapf(err, "sqlite: seed score def %s", d.Code)
		}
		seeded++
	}
	return seeded, nil
}

func (s *SQLiteStore) LoadStations(ctx context.Context) ([]model.Station, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, localite, latitude, longitude, admin_code FROM mnocc_stations ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load stations")
	}
	defer rows.Close()

	var stations []model.Station
	for rows.Next() {
		var st model.Station
		if err := rows.Scan(&st.ID, &st.Localite, &st.Latitude, &st.Longitude, &st.AdminCode); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan station")
		}
		stations = append(stations, st)
	}
	return stations, eris.Wrap(rows.Err(), "sqlite: load stations iterate")
}

func (s *SQLiteStore) UpdateStationZones(ctx context.Context, zones map[string]string) (int, error) {
	updated := 0
	for id, code := range zones {
		res, err := s.db.ExecContext(ctx,
			`UPDATE mnocc_stations SET admin_code = ?, updated_at = datetime('now') WHERE id = ?`,
			code, id,
		)
		if err != nil {
			return updated, eris.Wrapf(err, "sqlite: update station zone %s", id)
		}
		if n, err := res.RowsAffected(); err == nil {
			updated += int(n)
		}
	}
	return updated, nil
}

func (s *SQLiteStore) LoadHourlyObservations(ctx context.Context, since time.Time, columns []string) ([]model.Observation, error) {
	cols, err := observationColumns(columns)
	if err != nil {
		return nil, err
	}

	query := `SELECT station_id, observed_at`
	for _, col := range cols {
		query += ", " + col
	}
	query += ` FROM meteo_observations_hourly WHERE observed_at >= ? ORDER BY station_id, observed_at`

	rows, err := s.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load observations")
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
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "sqlite: load observations iterate")
}

func (s *SQLiteStore) UpsertObservations(ctx context.Context, obs []model.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	total := 0
	for start := 0; start < len(obs); start += s.batchSize {
		end := min(start+s.batchSize, len(obs))

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return total, eris.Wrap(err, "sqlite: begin observations tx")
		}
		for _, o := range obs[start:end] {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO meteo_observations_hourly
				 (station_id, observed_at, prcp_mm, temp_c, rh_pct, wind_gust_ms, wind_ms, pressure_hpa)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(station_id, observed_at) DO UPDATE SET
				   prcp_mm = excluded.prcp_mm, temp_c = excluded.temp_c, rh_pct = excluded.rh_pct,
				   wind_gust_ms = excluded.wind_gust_ms, wind_ms = excluded.wind_ms, pressure_hpa = excluded.pressure_hpa`,
				o.StationID, o.ObservedAt.UTC(),
				o.PrcpMM, o.TempC, o.RHPct, o.WindGustMS, o.WindMS, o.PressureHPa,
			)
			if err != nil {
				tx.Rollback() //nolint:errcheck
				return total, eris.Wrap(err, "sqlite: upsert observation")
			}
		}
		if err := tx.Commit(); err != nil {
			return total, eris.Wrap(err, "sqlite: commit observations")
		}
		total += end - start
	}
	return total, nil
}

func (s *SQLiteStore) UpsertRiskIndicators(ctx context.Context, records []model.RiskIndicatorRecord) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	upserted, failedBatches := 0, 0
	for start := 0; start < len(records); start += s.batchSize {
		end := min(start+s.batchSize, len(records))

		n, err := s.upsertIndicatorBatch(ctx, records[start:end])
		if err != nil {
			zap.L().Warn("risk indicator batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", end-start),
				zap.Error(err),
			)
			failedBatches++
			continue
		}
		upserted += n
	}
	return upserted, failedBatches, nil
}

func (s *SQLiteStore) upsertIndicatorBatch(ctx context.Context, records []model.RiskIndicatorRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin indicators tx")
	}
	for _, rec := range records {
		payloadJSON, err := json.Marshal(rec.Payload)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return 0, eris.Wrapf(err, "sqlite: marshal payload %s", rec.NaturalKey())
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO risk_indicators
			 (admin_code, risk, indicator_code, valid_date, value, unit, horizon, source, payload, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
			 ON CONFLICT(admin_code, risk, indicator_code, valid_date, COALESCE(horizon, ''), source) DO UPDATE SET
			   value = excluded.value, unit = excluded.unit, payload = excluded.payload, updated_at = datetime('now')`,
			rec.AdminCode, string(rec.Risk), rec.IndicatorCode, rec.ValidDate,
			rec.Value, rec.Unit, rec.Horizon, rec.Source, string(payloadJSON),
		)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return 0, eris.Wrapf(err, "sqlite: upsert indicator %s", rec.NaturalKey())
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit indicators")
	}
	return len(records), nil
}

func (s *SQLiteStore) ListIndicators(ctx context.Context, filter ScoreFilter) ([]model.RiskIndicatorRecord, error) {
	query := `SELECT admin_code, risk, indicator_code, valid_date, value, unit, horizon, source, payload
	          FROM risk_indicators WHERE 1=1`
	var args []any

	if filter.Risk != "" {
		query += ` AND risk = ?`
		args = append(args, string(filter.Risk))
	}
	if filter.IndicatorCode != "" {
		query += ` AND indicator_code = ?`
		args = append(args, filter.IndicatorCode)
	}
	if filter.ValidDate != "" {
		query += ` AND valid_date = ?`
		args = append(args, filter.ValidDate)
	}
	if filter.AdminCode != "" {
		query += ` AND admin_code = ?`
		args = append(args, filter.AdminCode)
	}
	query += ` ORDER BY valid_date DESC, admin_code, indicator_code`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list indicators")
	}
	defer rows.Close()

	var out []model.RiskIndicatorRecord
	for rows.Next() {
		var rec model.RiskIndicatorRecord
		var risk, payloadJSON string
		if err := rows.Scan(&rec.AdminCode, &risk, &rec.IndicatorCode, &rec.ValidDate, &rec.Value, &rec.Unit, &rec.Horizon, &rec.Source, &payloadJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan indicator")
		}
		rec.Risk = model.Risk(risk)
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal payload")
			}
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list indicators iterate")
}

func (s *SQLiteStore) RecordRun(ctx context.Context, summary model.RunSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (run_id, valid_date, source, rows_produced, rows_upserted, indicators_skipped, error_count, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID, summary.ValidDate, summary.Source,
		summary.RowsProduced, summary.RowsUpserted, summary.IndicatorsSkipped, summary.ErrorCount,
		summary.StartedAt.UTC(), summary.FinishedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: record run")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, valid_date, source, rows_produced, rows_upserted, indicators_skipped, error_count, started_at, finished_at
		 FROM pipeline_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		if err := rows.Scan(&r.RunID, &r.ValidDate, &r.Source, &r.RowsProduced, &r.RowsUpserted, &r.IndicatorsSkipped, &r.ErrorCount, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}
