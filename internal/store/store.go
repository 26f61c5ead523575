package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mnocc/vigilance-cli/internal/model"
)

// DefaultBatchSize is the number of risk indicator rows written per upsert
// batch. Batches are independent: one failing batch is counted, not fatal.
const DefaultBatchSize = 800

// ScoreFilter specifies criteria for reading back computed indicator rows.
type ScoreFilter struct {
	Risk          model.Risk `json:"risk,omitempty"`
	IndicatorCode string     `json:"indicator_code,omitempty"`
	ValidDate     string     `json:"valid_date,omitempty"`
	AdminCode     string     `json:"admin_code,omitempty"`
	Limit         int        `json:"limit,omitempty"`
}

// Store defines the persistence interface for the vigilance pipeline.
type Store interface {
	// Definitions
	LoadIndicatorDefs(ctx context.Context) ([]model.IndicatorDefinition, error)
	LoadScoreDefs(ctx context.Context) ([]model.ScoreDefinition, error)
	SeedIndicatorDefs(ctx context.Context, defs []model.IndicatorDefinition) (int, error)
	SeedScoreDefs(ctx context.Context, defs []model.ScoreDefinition) (int, error)

	// Stations and observations
	LoadStations(ctx context.Context) ([]model.Station, error)
	UpdateStationZones(ctx context.Context, zones map[string]string) (int, error)
	LoadHourlyObservations(ctx context.Context, since time.Time, columns []string) ([]model.Observation, error)
	UpsertObservations(ctx context.Context, obs []model.Observation) (int, error)

	// Outputs
	UpsertRiskIndicators(ctx context.Context, records []model.RiskIndicatorRecord) (upserted, failedBatches int, err error)
	ListIndicators(ctx context.Context, filter ScoreFilter) ([]model.RiskIndicatorRecord, error)

	// Runs
	RecordRun(ctx context.Context, summary model.RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and tunes the backing database.
type Config struct {
	Driver    string     `yaml:"driver" mapstructure:"driver"`         // postgres | sqlite
	DSN       string     `yaml:"dsn" mapstructure:"dsn"`
	BatchSize int        `yaml:"batch_size" mapstructure:"batch_size"` // risk indicator rows per upsert batch
	Pool      PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	switch cfg.Driver {
	case "postgres", "":
		return NewPostgres(ctx, cfg.DSN, &cfg.Pool, batch)
	case "sqlite":
		return NewSQLite(cfg.DSN, batch)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: postgres, sqlite)", cfg.Driver)
	}
}
