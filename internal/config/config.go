package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	WorldData    WorldDataConfig    `yaml:"world_data" mapstructure:"world_data"`
	Reactor      ReactorConfig      `yaml:"reactor" mapstructure:"reactor"`
	Evaluator    EvaluatorConfig    `yaml:"evaluator" mapstructure:"evaluator"`
	Integrations IntegrationsConfig `yaml:"integrations" mapstructure:"integrations"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// WorldDataConfig holds the world-data API settings.
type WorldDataConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	Token         string `yaml:"token" mapstructure:"token"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxConns      int    `yaml:"max_conns" mapstructure:"max_conns"`
	MaxKeepAlive  int    `yaml:"max_keepalive" mapstructure:"max_keepalive"`
	RoadwayRadius int    `yaml:"roadway_radius" mapstructure:"roadway_radius"`
}

// ReactorConfig configures the trigger fan-out worker pool.
type ReactorConfig struct {
	Workers               int `yaml:"workers" mapstructure:"workers"`
	QueueCapacity         int `yaml:"queue_capacity" mapstructure:"queue_capacity"`
	DedupTTLSecs          int `yaml:"dedup_ttl_secs" mapstructure:"dedup_ttl_secs"`
	CalculatorTimeoutSecs int `yaml:"calculator_timeout_secs" mapstructure:"calculator_timeout_secs"`
	MaxTransientRetries   int `yaml:"max_transient_retries" mapstructure:"max_transient_retries"`
	DateWindowDays        int `yaml:"date_window_days" mapstructure:"date_window_days"`
	DrainGraceSecs        int `yaml:"drain_grace_secs" mapstructure:"drain_grace_secs"`
}

// EvaluatorConfig configures the site-condition evaluation pipeline.
type EvaluatorConfig struct {
	MaxBulkQueries int `yaml:"max_bulk_queries" mapstructure:"max_bulk_queries"`
	MaxConcurrent  int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// IntegrationsConfig configures outbound webhook publishing.
type IntegrationsConfig struct {
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// ServerConfig configures the trigger intake server.
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

	// Environment
	v.SetEnvPrefix("RISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("world_data.timeout_secs", 30)
	v.SetDefault("world_data.max_conns", 20)
	v.SetDefault("world_data.max_keepalive", 10)
	v.SetDefault("world_data.roadway_radius", 100)
	v.SetDefault("reactor.workers", 10)
	v.SetDefault("reactor.queue_capacity", 1024)
	v.SetDefault("reactor.dedup_ttl_secs", 300)
	v.SetDefault("reactor.calculator_timeout_secs", 60)
	v.SetDefault("reactor.max_transient_retries", 2)
	v.SetDefault("reactor.date_window_days", 14)
	v.SetDefault("reactor.drain_grace_secs", 30)
	v.SetDefault("evaluator.max_bulk_queries", 50)
	v.SetDefault("evaluator.max_concurrent", 5)
	v.SetDefault("integrations.timeout_secs", 15)
	v.SetDefault("integrations.requests_per_sec", 5)
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

// Validate checks that the settings a command depends on are present.
func (c *Config) Validate(component string) error {
	switch component {
	case "store":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required")
		}
	case "worlddata":
		if c.WorldData.BaseURL == "" {
			return eris.New("config: world_data.base_url is required")
		}
		if c.WorldData.Token == "" {
			return eris.New("config: world_data.token is required")
		}
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
