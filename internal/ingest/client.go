// Package ingest pulls hourly nowcast observations from the Open-Meteo API
// into the local observation table, one request per station.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mnocc/vigilance-cli/internal/model"
)

// DefaultBaseURL is the public Open-Meteo forecast endpoint.
const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

// hourlyVariables is the fixed request set, matching the observation table
// columns one to one.
var hourlyVariables = []string{
	model.VarPrecipitation,
	model.VarTemperature2m,
	model.VarRelHumidity2m,
	model.VarWindGusts10m,
	model.VarWindSpeed10m,
	model.VarPressureMSL,
}

// ClientOptions configures the Open-Meteo client.
type ClientOptions struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	MaxRetries int
}

// Client is a rate-limited Open-Meteo API client with retry.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	opts    ClientOptions
}

// NewClient creates a Client with the given options.
func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "vigilance-cli/1.0"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL: opts.BaseURL,
		client:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		opts:    opts,
	}
}

// hourlyResponse is the slice of the Open-Meteo payload we read. Value
// arrays are positionally aligned with Time; entries may be null.
type hourlyResponse struct {
	Hourly struct {
		Time        []string   `json:"time"`
		Precip      []*float64 `json:"precipitation"`
		Temp        []*float64 `json:"temperature_2m"`
		RH          []*float64 `json:"relative_humidity_2m"`
		WindGusts   []*float64 `json:"wind_gusts_10m"`
		WindSpeed   []*float64 `json:"wind_speed_10m"`
		PressureMSL []*float64 `json:"pressure_msl"`
	} `json:"hourly"`
}

// openMeteoTimeLayout is the timestamp format returned with timezone=UTC.
const openMeteoTimeLayout = "2006-01-02T15:04"

// FetchHourly retrieves the hourly series for one station, covering pastDays
// of history plus the current day, and maps it onto observation rows.
func (c *Client) FetchHourly(ctx context.Context, station model.Station, pastDays int) ([]model.Observation, error) {
	if pastDays <= 0 {
		pastDays = 2
	}

	url := fmt.Sprintf(
		"%s?latitude=%.4f&longitude=%.4f&hourly=%s&past_days=%d&forecast_days=1&timezone=UTC&windspeed_unit=ms",
		c.baseURL, station.Latitude, station.Longitude, joinVariables(), pastDays,
	)

	body, err := c.getWithRetry(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: fetch station %s", station.ID)
	}

	var resp hourlyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrapf(err, "ingest: decode response for station %s", station.ID)
	}

	obs := make([]model.Observation, 0, len(resp.Hourly.Time))
	for i, ts := range resp.Hourly.Time {
		at, err := time.ParseInLocation(openMeteoTimeLayout, ts, time.UTC)
		if err != nil {
			zap.L().Warn("skipping unparseable timestamp",
				zap.String("station", station.ID),
				zap.String("time", ts),
			)
			continue
		}
		obs = append(obs, model.Observation{
			StationID:   station.ID,
			ObservedAt:  at,
			PrcpMM:      valueAt(resp.Hourly.Precip, i),
			TempC:       valueAt(resp.Hourly.Temp, i),
			RHPct:       valueAt(resp.Hourly.RH, i),
			WindGustMS:  valueAt(resp.Hourly.WindGusts, i),
			WindMS:      valueAt(resp.Hourly.WindSpeed, i),
			PressureHPa: valueAt(resp.Hourly.PressureMSL, i),
		})
	}
	return obs, nil
}

func (c *Client) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := range c.opts.MaxRetries {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ingest: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: create request")
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			zap.L().Warn("open-meteo request failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("ingest: http %d from open-meteo", resp.StatusCode)
			zap.L().Warn("open-meteo returned retryable status",
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, eris.Errorf("ingest: http %d from open-meteo", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			c.backoff(ctx, attempt)
			continue
		}
		return body, nil
	}
	return nil, eris.Wrap(lastErr, "ingest: all retries exhausted")
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func joinVariables() string {
	return strings.Join(hourlyVariables, ",")
}

func valueAt(vals []*float64, i int) *float64 {
	if i >= len(vals) {
		return nil
	}
	return vals[i]
}
