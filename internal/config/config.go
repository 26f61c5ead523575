package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mnocc/vigilance-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store    store.Config   `yaml:"store" mapstructure:"store"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Zones    ZonesConfig    `yaml:"zones" mapstructure:"zones"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PipelineConfig configures the indicator engine.
type PipelineConfig struct {
	Source      string `yaml:"source" mapstructure:"source"`
	ZoneWorkers int    `yaml:"zone_workers" mapstructure:"zone_workers"`
}

// IngestConfig configures the Open-Meteo fetch.
type IngestConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	PastDays    int     `yaml:"past_days" mapstructure:"past_days"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	Workers     int     `yaml:"workers" mapstructure:"workers"`
}

// ZonesConfig points at the administrative boundary shapefile used for
// station backfill.
type ZonesConfig struct {
	Shapefile string `yaml:"shapefile" mapstructure:"shapefile"`
	CodeField string `yaml:"code_field" mapstructure:"code_field"`
	NameField string `yaml:"name_field" mapstructure:"name_field"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/vigilance")

	// Environment
	v.SetEnvPrefix("VIGILANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.batch_size", store.DefaultBatchSize)
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("pipeline.zone_workers", 4)
	v.SetDefault("ingest.base_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("ingest.past_days", 2)
	v.SetDefault("ingest.timeout_secs", 30)
	v.SetDefault("ingest.rate_per_sec", 5)
	v.SetDefault("ingest.burst", 5)
	v.SetDefault("ingest.max_retries", 3)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("zones.code_field", "ADM2_PCODE")
	v.SetDefault("zones.name_field", "ADM2_FR")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields the given command mode depends on. Modes map
// to subcommands: "run" and "ingest" need a database, "serve" a port,
// "zones" the boundary shapefile.
func (c *Config) Validate(mode string) error {
	var problems []string

	needDB := func() {
		if c.Store.DSN == "" && c.Store.Driver != "sqlite" {
			problems = append(problems, "store.dsn is required")
		}
	}

	switch mode {
	case "run", "ingest", "defs", "migrate":
		needDB()
	case "serve":
		needDB()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "zones":
		needDB()
		if c.Zones.Shapefile == "" {
			problems = append(problems, "zones.shapefile is required")
		}
		if c.Zones.CodeField == "" {
			problems = append(problems, "zones.code_field is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Ingest.Workers < 0 || c.Ingest.Workers > 64 {
		problems = append(problems, "ingest.workers must be between 0 and 64")
	}
	if c.Pipeline.ZoneWorkers < 0 || c.Pipeline.ZoneWorkers > 64 {
		problems = append(problems, "pipeline.zone_workers must be between 0 and 64")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
