package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnocc/vigilance-cli/internal/model"
)

func newMockStore(t *testing.T, batchSize int) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock, batchSize: batchSize}, mock
}

func TestPostgresLoadStations(t *testing.T) {
	s, mock := newMockStore(t, DefaultBatchSize)

	code := "MR041"
	mock.ExpectQuery(`SELECT id, localite, latitude, longitude, admin_code FROM mnocc_stations`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "localite", "latitude", "longitude", "admin_code"}).
			AddRow("ST1", "Kaedi", 16.15, -13.5, &code).
			AddRow("ST2", "Inconnue", 17.0, -12.0, (*string)(nil)))

	stations, err := s.LoadStations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.True(t, stations[0].Mapped())
	assert.Equal(t, "MR041", *stations[0].AdminCode)
	assert.False(t, stations[1].Mapped())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadIndicatorDefs(t *testing.T) {
	s, mock := newMockStore(t, DefaultBatchSize)

	rows := pgxmock.NewRows([]string{"code", "title", "risk", "variables", "resolution", "window_spec", "aggregation", "normalization", "unit", "enabled"}).
		AddRow("PRCP_24H", "Cumul 24h", "flood",
			[]byte(`["precipitation"]`), "hourly",
			[]byte(`{"hours":24}`), []byte(`{"precipitation":"sum"}`),
			[]byte(`{"method":"percentile","lookback_days":365}`), "mm", true).
		AddRow("BROKEN", "", "tsunami",
			[]byte(`[]`), "hourly", []byte(`{}`), []byte(`{}`), []byte(`{}`), "", true)

	mock.ExpectQuery(`FROM vigilance_indicator_defs WHERE enabled`).WillReturnRows(rows)

	defs, err := s.LoadIndicatorDefs(context.Background())
	require.NoError(t, err)
	// the unknown risk row is dropped, not fatal
	require.Len(t, defs, 1)
	d := defs[0]
	assert.Equal(t, "PRCP_24H", d.Code)
	assert.Equal(t, model.RiskFlood, d.Risk)
	assert.Equal(t, 24, d.Window.Hours)
	require.Len(t, d.Aggregation, 1)
	assert.Equal(t, model.AggSum, d.Aggregation[0].Method)
	assert.Equal(t, model.NormPercentile, d.Normalization.Method)
	assert.Equal(t, 365, d.Normalization.LookbackDays)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadScoreDefs(t *testing.T) {
	s, mock := newMockStore(t, DefaultBatchSize)

	rows := pgxmock.NewRows([]string{"code", "risk", "indicator_weights", "mapping", "enabled"}).
		AddRow("FLOOD_SCORE", "inondation",
			[]byte(`{"PRCP_24H":0.5,"RX1H":0.5}`),
			[]byte(`{"method":"weighted_sum","clip":[0,100]}`), true)

	mock.ExpectQuery(`FROM vigilance_score_defs WHERE enabled`).WillReturnRows(rows)

	defs, err := s.LoadScoreDefs(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, model.RiskFlood, defs[0].Risk) // French alias accepted
	assert.InDelta(t, 0.5, defs[0].Weights["RX1H"], 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadHourlyObservations_ColumnSubset(t *testing.T) {
	s, mock := newMockStore(t, DefaultBatchSize)

	at := time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)
	prcp := 4.2
	mock.ExpectQuery(`SELECT station_id, observed_at, "prcp_mm" FROM meteo_observations_hourly`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"station_id", "observed_at", "prcp_mm"}).
			AddRow("ST1", at, &prcp))

	obs, err := s.LoadHourlyObservations(context.Background(), at.AddDate(0, 0, -1), []string{model.ColPrcpMM})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	require.NotNil(t, obs[0].PrcpMM)
	assert.InDelta(t, 4.2, *obs[0].PrcpMM, 1e-9)
	assert.Nil(t, obs[0].TempC)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadHourlyObservations_UnknownColumn(t *testing.T) {
	s, _ := newMockStore(t, DefaultBatchSize)

	_, err := s.LoadHourlyObservations(context.Background(), time.Now(), []string{"sneaky; DROP TABLE"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown observation column")
}

func indicatorRecord(zone, code string, v float64) model.RiskIndicatorRecord {
	return model.RiskIndicatorRecord{
		AdminCode:     zone,
		Risk:          model.RiskFlood,
		IndicatorCode: code,
		ValidDate:     "2026-08-30",
		Value:         &v,
		Unit:          "mm",
		Source:        "open-meteo-dynamic-v2",
		Payload:       model.Payload{"score01": 0.9},
	}
}

func expectIndicatorBatch(mock pgxmock.PgxPoolIface, rows int) {
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_risk_indicators"}, riskIndicatorColumns).
		WillReturnResult(int64(rows))
	mock.ExpectExec(`INSERT INTO "risk_indicators"`).WillReturnResult(pgxmock.NewResult("INSERT", int64(rows)))
	mock.ExpectCommit()
	mock.ExpectRollback() // deferred rollback after commit is a no-op
}

func TestPostgresUpsertRiskIndicators_Batches(t *testing.T) {
	s, mock := newMockStore(t, 2)

	records := []model.RiskIndicatorRecord{
		indicatorRecord("MR041", "PRCP_24H", 12),
		indicatorRecord("MR042", "PRCP_24H", 30),
		indicatorRecord("MR043", "PRCP_24H", 7),
	}

	expectIndicatorBatch(mock, 2)
	expectIndicatorBatch(mock, 1)

	upserted, failed, err := s.UpsertRiskIndicators(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 3, upserted)
	assert.Equal(t, 0, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertRiskIndicators_FailedBatchCounted(t *testing.T) {
	s, mock := newMockStore(t, 2)

	records := []model.RiskIndicatorRecord{
		indicatorRecord("MR041", "PRCP_24H", 12),
		indicatorRecord("MR042", "PRCP_24H", 30),
		indicatorRecord("MR043", "PRCP_24H", 7),
	}

	// first batch dies on the temp table, second lands
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnError(fmt.Errorf("out of disk"))
	mock.ExpectRollback()
	expectIndicatorBatch(mock, 1)

	upserted, failed, err := s.UpsertRiskIndicators(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 1, upserted)
	assert.Equal(t, 1, failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertObservations(t *testing.T) {
	s, mock := newMockStore(t, DefaultBatchSize)

	prcp := 1.5
	obs := []model.Observation{{
		StationID:  "ST1",
		ObservedAt: time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC),
		PrcpMM:     &prcp,
	}}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_meteo_observations_hourly"},
		[]string{"station_id", "observed_at", "prcp_mm", "temp_c", "rh_pct", "wind_gust_ms", "wind_ms", "pressure_hpa"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "meteo_observations_hourly"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := s.UpsertObservations(context.Background(), obs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordRun(t *testing.T) {
	s, mock := newMockStore(t, DefaultBatchSize)

	summary := model.RunSummary{
		RunID:        "run-1",
		ValidDate:    "2026-08-30",
		Source:       "open-meteo-dynamic-v2",
		RowsProduced: 10,
		RowsUpserted: 10,
		StartedAt:    time.Now().UTC(),
		FinishedAt:   time.Now().UTC(),
	}
	mock.ExpectExec(`INSERT INTO pipeline_runs`).
		WithArgs(summary.RunID, summary.ValidDate, summary.Source,
			summary.RowsProduced, summary.RowsUpserted, summary.IndicatorsSkipped, summary.ErrorCount,
			summary.StartedAt, summary.FinishedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.RecordRun(context.Background(), summary))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListIndicators_Filter(t *testing.T) {
	s, mock := newMockStore(t, DefaultBatchSize)

	v := 87.5
	payload, err := json.Marshal(model.Payload{"score01": 0.875})
	require.NoError(t, err)

	mock.ExpectQuery(`FROM risk_indicators WHERE true AND risk = \$1 AND valid_date = \$2`).
		WithArgs("flood", "2026-08-30", 500).
		WillReturnRows(pgxmock.NewRows([]string{"admin_code", "risk", "indicator_code", "valid_date", "value", "unit", "horizon", "source", "payload"}).
			AddRow("MR041", "flood", "FLOOD_SCORE", "2026-08-30", &v, "score", (*string)(nil), "open-meteo-dynamic-v2", payload))

	recs, err := s.ListIndicators(context.Background(), ScoreFilter{Risk: model.RiskFlood, ValidDate: "2026-08-30"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	score, ok := recs[0].Payload.Float("score01")
	require.True(t, ok)
	assert.InDelta(t, 0.875, score, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}
