package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnocc/vigilance-cli/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "vigilance.db"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedStation(t *testing.T, s *SQLiteStore, id, localite string, adminCode *string) {
	t.Helper()
	_, err := s.db.Exec(
		`INSERT INTO mnocc_stations (id, localite, latitude, longitude, admin_code) VALUES (?, ?, ?, ?, ?)`,
		id, localite, 16.0, -13.0, adminCode,
	)
	require.NoError(t, err)
}

func TestSQLiteDefRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	defs := []model.IndicatorDefinition{{
		Code:       "PRCP_72H",
		Title:      "Cumul 72h",
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
	}}

	n, err := s.SeedIndicatorDefs(ctx, defs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// seeding again updates in place
	defs[0].Title = "Cumul sur 72 heures"
	_, err = s.SeedIndicatorDefs(ctx, defs)
	require.NoError(t, err)

	loaded, err := s.LoadIndicatorDefs(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "Cumul sur 72 heures", loaded[0].Title)
	assert.Equal(t, 72, loaded[0].Window.Hours)
	require.Len(t, loaded[0].Aggregation, 1)
	assert.Equal(t, model.AggSum, loaded[0].Aggregation[0].Method)
}

func TestSQLiteScoreDefRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.SeedScoreDefs(ctx, []model.ScoreDefinition{{
		Code:    "FLOOD_SCORE",
		Risk:    model.RiskFlood,
		Weights: map[string]float64{"PRCP_24H": 0.4, "PRCP_72H": 0.3, "RX1H": 0.3},
		Mapping: model.MappingSpec{Method: "weighted_sum", Clip: [2]float64{0, 100}},
		Enabled: true,
	}})
	require.NoError(t, err)

	defs, err := s.LoadScoreDefs(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.InDelta(t, 0.3, defs[0].Weights["RX1H"], 1e-9)
	lo, hi := defs[0].Mapping.ClipBounds()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 100.0, hi)
}

func TestSQLiteObservationRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	code := "MR041"
	seedStation(t, s, "ST1", "Kaedi", &code)
	seedStation(t, s, "ST2", "Inconnue", nil)

	at := time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)
	prcp, temp := 3.5, 31.0
	obs := []model.Observation{
		{StationID: "ST1", ObservedAt: at, PrcpMM: &prcp, TempC: &temp},
		{StationID: "ST1", ObservedAt: at.Add(time.Hour), PrcpMM: &prcp},
		{StationID: "ST2", ObservedAt: at},
	}

	n, err := s.UpsertObservations(ctx, obs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// re-ingesting the same hours replaces, never duplicates
	updated := 9.9
	obs[0].PrcpMM = &updated
	_, err = s.UpsertObservations(ctx, obs)
	require.NoError(t, err)

	loaded, err := s.LoadHourlyObservations(ctx, at.Add(-time.Hour), []string{model.ColPrcpMM, model.ColTempC})
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	require.NotNil(t, loaded[0].PrcpMM)
	assert.InDelta(t, 9.9, *loaded[0].PrcpMM, 1e-9)
	assert.Nil(t, loaded[2].PrcpMM)

	stations, err := s.LoadStations(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.True(t, stations[0].Mapped())
	assert.False(t, stations[1].Mapped())
}

func TestSQLiteUpdateStationZones(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	seedStation(t, s, "ST1", "Kaedi", nil)

	n, err := s.UpdateStationZones(ctx, map[string]string{"ST1": "MR041", "GHOST": "MR099"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stations, err := s.LoadStations(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 1)
	require.True(t, stations[0].Mapped())
	assert.Equal(t, "MR041", *stations[0].AdminCode)
}

func TestSQLiteRiskIndicatorsIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	records := []model.RiskIndicatorRecord{
		indicatorRecord("MR041", "PRCP_24H", 12),
		indicatorRecord("MR042", "PRCP_24H", 30),
		indicatorRecord("MR041", "FLOOD_SCORE", 85),
	}

	upserted, failed, err := s.UpsertRiskIndicators(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 3, upserted)
	assert.Equal(t, 0, failed)

	// same natural keys with new values: updated rows, same row count
	newVal := 44.0
	records[0].Value = &newVal
	_, _, err = s.UpsertRiskIndicators(ctx, records)
	require.NoError(t, err)

	recs, err := s.ListIndicators(ctx, ScoreFilter{ValidDate: "2026-08-30"})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	byKey := make(map[string]model.RiskIndicatorRecord, len(recs))
	for _, r := range recs {
		byKey[r.NaturalKey()] = r
	}
	got, ok := byKey[records[0].NaturalKey()]
	require.True(t, ok)
	require.NotNil(t, got.Value)
	assert.InDelta(t, 44.0, *got.Value, 1e-9)
	score, ok := got.Payload.Float("score01")
	require.True(t, ok)
	assert.InDelta(t, 0.9, score, 1e-9)
}

func TestSQLiteRunLog(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordRun(ctx, model.RunSummary{
		RunID:        "run-1",
		ValidDate:    "2026-08-30",
		Source:       "open-meteo-dynamic-v2",
		RowsProduced: 12,
		RowsUpserted: 12,
		StartedAt:    started,
		FinishedAt:   started.Add(40 * time.Second),
	}))
	require.NoError(t, s.RecordRun(ctx, model.RunSummary{
		RunID:     "run-2",
		ValidDate: "2026-08-31",
		Source:    "open-meteo-dynamic-v2",
		StartedAt: started.Add(24 * time.Hour),
		FinishedAt: started.Add(24*time.Hour + 5*time.Second),
	}))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID) // newest first
	assert.Equal(t, 12, runs[1].RowsUpserted)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
