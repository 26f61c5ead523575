package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnocc/vigilance-cli/internal/model"
)

const sampleHourly = `{
	"hourly": {
		"time": ["2026-08-30T00:00", "2026-08-30T01:00", "2026-08-30T02:00"],
		"precipitation": [0.0, 2.4, null],
		"temperature_2m": [28.1, 27.9, 27.5],
		"relative_humidity_2m": [62, 65, 70],
		"wind_gusts_10m": [8.2, 9.0, 7.1],
		"wind_speed_10m": [4.0, 4.4, 3.9],
		"pressure_msl": [1010.2, 1010.0, 1009.8]
	}
}`

func testStation() model.Station {
	return model.Station{ID: "ST1", Localite: "Kaedi", Latitude: 16.15, Longitude: -13.5}
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(ClientOptions{
		BaseURL:    srv.URL,
		RatePerSec: 1000,
		Burst:      1000,
		MaxRetries: 3,
	})
}

func TestFetchHourly(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleHourly))
	}))
	defer srv.Close()

	obs, err := newTestClient(srv).FetchHourly(context.Background(), testStation(), 2)
	require.NoError(t, err)
	require.Len(t, obs, 3)

	assert.Contains(t, gotQuery, "latitude=16.1500")
	assert.Contains(t, gotQuery, "past_days=2")
	assert.Contains(t, gotQuery, "hourly=precipitation")
	assert.Contains(t, gotQuery, "windspeed_unit=ms")

	first := obs[0]
	assert.Equal(t, "ST1", first.StationID)
	assert.Equal(t, "2026-08-30T00:00:00Z", first.ObservedAt.Format("2006-01-02T15:04:05Z07:00"))
	require.NotNil(t, first.PrcpMM)
	assert.InDelta(t, 0.0, *first.PrcpMM, 1e-9)
	require.NotNil(t, first.TempC)
	assert.InDelta(t, 28.1, *first.TempC, 1e-9)

	// nulls stay nil rather than zero
	assert.Nil(t, obs[2].PrcpMM)
	require.NotNil(t, obs[2].TempC)
}

func TestFetchHourly_RetriesOn500(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sampleHourly))
	}))
	defer srv.Close()

	obs, err := newTestClient(srv).FetchHourly(context.Background(), testStation(), 1)
	require.NoError(t, err)
	assert.Len(t, obs, 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchHourly_ClientErrorIsFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).FetchHourly(context.Background(), testStation(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 400")
	assert.Equal(t, int32(1), calls.Load()) // 4xx is not retried
}
