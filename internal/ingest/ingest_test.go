package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnocc/vigilance-cli/internal/model"
)

type fakeFetcher struct {
	mu      sync.Mutex
	failIDs map[string]bool
	calls   int
}

func (f *fakeFetcher) FetchHourly(_ context.Context, st model.Station, _ int) ([]model.Observation, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failIDs[st.ID] {
		return nil, eris.New("station offline")
	}
	return []model.Observation{
		{StationID: st.ID, ObservedAt: time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)},
		{StationID: st.ID, ObservedAt: time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC)},
	}, nil
}

type fakeSink struct {
	stations []model.Station
	mu       sync.Mutex
	upserted []model.Observation
}

func (s *fakeSink) LoadStations(context.Context) ([]model.Station, error) {
	return s.stations, nil
}

func (s *fakeSink) UpsertObservations(_ context.Context, obs []model.Observation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, obs...)
	return len(obs), nil
}

func TestIngestorRun(t *testing.T) {
	sink := &fakeSink{stations: []model.Station{
		{ID: "ST1"}, {ID: "ST2"}, {ID: "ST3"},
	}}
	fetcher := &fakeFetcher{failIDs: map[string]bool{"ST2": true}}

	res, err := New(fetcher, sink, 2).Run(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Stations)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 4, res.Upserted)
	assert.Len(t, sink.upserted, 4)
	assert.Equal(t, 3, fetcher.calls)
}

func TestIngestorRun_NoStations(t *testing.T) {
	res, err := New(&fakeFetcher{}, &fakeSink{}, 2).Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stations)
	assert.Equal(t, 0, res.Upserted)
}
