package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnocc/vigilance-cli/internal/model"
	"github.com/mnocc/vigilance-cli/internal/pipeline"
	"github.com/mnocc/vigilance-cli/internal/store"
)

type fakeReader struct {
	filter  store.ScoreFilter
	records []model.RiskIndicatorRecord
	runs    []model.RunSummary
	err     error
}

func (f *fakeReader) ListIndicators(_ context.Context, filter store.ScoreFilter) ([]model.RiskIndicatorRecord, error) {
	f.filter = filter
	return f.records, f.err
}

func (f *fakeReader) ListRuns(_ context.Context, limit int) ([]model.RunSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

type fakeRunner struct {
	opts    pipeline.Options
	summary *model.RunSummary
	err     error
}

func (f *fakeRunner) Run(_ context.Context, opts pipeline.Options) (*model.RunSummary, error) {
	f.opts = opts
	return f.summary, f.err
}

func testValue(v float64) *float64 { return &v }

func TestHealthz(t *testing.T) {
	router := newRouter(&fakeReader{}, &fakeRunner{}, 4)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRunEndpoint(t *testing.T) {
	runner := &fakeRunner{summary: &model.RunSummary{RunID: "r1", ValidDate: "2026-08-30", RowsUpserted: 12}}
	router := newRouter(&fakeReader{}, runner, 4)

	body := strings.NewReader(`{"valid_date":"2026-08-30","dry_run":true}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, runner.opts.DryRun)
	assert.Equal(t, "2026-08-30", runner.opts.ValidDate.Format(model.DateLayout))

	var got model.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, 12, got.RowsUpserted)
}

func TestRunEndpoint_EmptyBodyUsesDefaults(t *testing.T) {
	runner := &fakeRunner{summary: &model.RunSummary{RunID: "r2"}}
	router := newRouter(&fakeReader{}, runner, 4)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, runner.opts.ValidDate.IsZero())
	assert.False(t, runner.opts.DryRun)
}

func TestRunEndpoint_BadDate(t *testing.T) {
	router := newRouter(&fakeReader{}, &fakeRunner{}, 4)

	body := strings.NewReader(`{"valid_date":"30/08/2026"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScoresLatest(t *testing.T) {
	reader := &fakeReader{records: []model.RiskIndicatorRecord{
		{AdminCode: "MR041", Risk: model.RiskFlood, IndicatorCode: "FLOOD_SCORE", ValidDate: "2026-08-30", Value: testValue(70)},
	}}
	router := newRouter(reader, &fakeRunner{}, 4)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scores/latest?risk=flood&date=2026-08-30&zone=MR041&limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.ScoreFilter{
		Risk:      model.RiskFlood,
		ValidDate: "2026-08-30",
		AdminCode: "MR041",
		Limit:     10,
	}, reader.filter)

	var got struct {
		Count  int                         `json:"count"`
		Scores []model.RiskIndicatorRecord `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Count)
	require.Len(t, got.Scores, 1)
	assert.Equal(t, "FLOOD_SCORE", got.Scores[0].IndicatorCode)
}

func TestScoresLatest_FrenchRiskAlias(t *testing.T) {
	reader := &fakeReader{}
	router := newRouter(reader, &fakeRunner{}, 4)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scores/latest?risk=inondation", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.RiskFlood, reader.filter.Risk)
}

func TestScoresLatest_BadParams(t *testing.T) {
	router := newRouter(&fakeReader{}, &fakeRunner{}, 4)

	for _, url := range []string{
		"/api/scores/latest?risk=tsunami",
		"/api/scores/latest?limit=abc",
		"/api/scores/latest?limit=-3",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
	}
}

func TestRunsEndpoint(t *testing.T) {
	reader := &fakeReader{runs: []model.RunSummary{
		{RunID: "a"}, {RunID: "b"}, {RunID: "c"},
	}}
	router := newRouter(reader, &fakeRunner{}, 4)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Count int                `json:"count"`
		Runs  []model.RunSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Count)
}
