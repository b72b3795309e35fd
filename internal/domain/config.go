package domain

import "time"

// Config holds the complete claimguard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Tier determines which backends are used
	Tier Tier `mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventBus"`

	// Scoring core
	Model   ModelConfig   `mapstructure:"model"`
	History HistoryConfig `mapstructure:"history"`
	Scoring ScoringConfig `mapstructure:"scoring"`

	// AsyncWorker subscribes to submitted claims on the event bus
	AsyncWorker bool `mapstructure:"asyncWorker"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// ModelConfig holds anomaly model settings.
type ModelConfig struct {
	// Path of the persisted model file
	Path string `mapstructure:"path"`

	// AutoTrain trains and saves a model when Path does not exist
	AutoTrain bool `mapstructure:"autoTrain"`

	Trees         int     `mapstructure:"trees"`
	SampleSize    int     `mapstructure:"sampleSize"`
	Contamination float64 `mapstructure:"contamination"`
	TrainingRows  int     `mapstructure:"trainingRows"`
	Seed          uint64  `mapstructure:"seed"`
}

// HistoryConfig holds in-memory history settings.
type HistoryConfig struct {
	// Shards is the number of lock stripes guarding entity keys
	Shards int `mapstructure:"shards"`

	// MaxRecordsPerEntity caps each beneficiary history; 0 keeps everything
	MaxRecordsPerEntity int `mapstructure:"maxRecordsPerEntity"`

	// MaxTimestampsPerShop caps each shop history; 0 keeps everything
	MaxTimestampsPerShop int `mapstructure:"maxTimestampsPerShop"`
}

// ScoringConfig holds hybrid scorer settings.
type ScoringConfig struct {
	NoiseMin float64 `mapstructure:"noiseMin"`
	NoiseMax float64 `mapstructure:"noiseMax"`

	// NoiseSeed seeds the noise source; 0 seeds from the clock
	NoiseSeed uint64 `mapstructure:"noiseSeed"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5000,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./claimguard.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  10000,
			LocalTTL:      5 * time.Minute,
			AssessmentTTL: time.Hour,
			AlertWindow:   time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Model: ModelConfig{
			Path:          "./fraud_model.json",
			AutoTrain:     true,
			Trees:         100,
			SampleSize:    256,
			Contamination: 0.25,
			TrainingRows:  500,
			Seed:          42,
		},
		History: HistoryConfig{
			Shards:               64,
			MaxRecordsPerEntity:  0,
			MaxTimestampsPerShop: 0,
		},
		Scoring: ScoringConfig{
			NoiseMin: 0.01,
			NoiseMax: 0.05,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "claimguard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "claimguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		AssessmentTTL:  24 * time.Hour,
		AlertWindow:    time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}
