package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mnocc/vigilance-cli/internal/model"
)

// Sink is the slice of the store the ingestor writes through.
type Sink interface {
	LoadStations(ctx context.Context) ([]model.Station, error)
	UpsertObservations(ctx context.Context, obs []model.Observation) (int, error)
}

// Fetcher abstracts the API client so tests can stub it.
type Fetcher interface {
	FetchHourly(ctx context.Context, station model.Station, pastDays int) ([]model.Observation, error)
}

// Result summarizes one ingest pass. Per-station fetch failures are counted
// and logged, not fatal: a station being down must not block the rest.
type Result struct {
	Stations int           `json:"stations"`
	Fetched  int           `json:"fetched"`
	Upserted int           `json:"upserted"`
	Failed   int           `json:"failed"`
	Took     time.Duration `json:"took"`
}

// Ingestor fans fetches out over stations and lands everything in one
// upsert per pass.
type Ingestor struct {
	client  Fetcher
	sink    Sink
	workers int
}

// New creates an Ingestor. workers bounds concurrent API calls; the client's
// rate limiter still applies across all of them.
func New(client Fetcher, sink Sink, workers int) *Ingestor {
	if workers <= 0 {
		workers = 4
	}
	return &Ingestor{client: client, sink: sink, workers: workers}
}

// Run fetches pastDays of hourly history for every station and upserts the
// rows on (station_id, observed_at), so re-running refreshes in place.
func (i *Ingestor) Run(ctx context.Context, pastDays int) (*Result, error) {
	start := time.Now()

	stations, err := i.sink.LoadStations(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load stations")
	}
	res := &Result{Stations: len(stations)}
	if len(stations) == 0 {
		res.Took = time.Since(start)
		return res, nil
	}

	var mu sync.Mutex
	var all []model.Observation

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)
	for _, st := range stations {
		g.Go(func() error {
			obs, err := i.client.FetchHourly(gctx, st, pastDays)
			if err != nil {
				zap.L().Warn("station fetch failed",
					zap.String("station", st.ID),
					zap.String("localite", st.Localite),
					zap.Error(err),
				)
				mu.Lock()
				res.Failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			res.Fetched++
			all = append(all, obs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // fetch errors are counted, never returned

	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "ingest: canceled")
	}

	n, err := i.sink.UpsertObservations(ctx, all)
	if err != nil {
		return res, eris.Wrap(err, "ingest: upsert observations")
	}
	res.Upserted = n
	res.Took = time.Since(start)

	zap.L().Info("ingest complete",
		zap.Int("stations", res.Stations),
		zap.Int("fetched", res.Fetched),
		zap.Int("failed", res.Failed),
		zap.Int("upserted", res.Upserted),
		zap.Duration("took", res.Took),
	)
	return res, nil
}
