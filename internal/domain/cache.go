package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetAssessment retrieves a cached assessment.
	GetAssessment(ctx context.Context, id string) (*Assessment, error)

	// SetAssessment caches an assessment for lookups by id.
	SetAssessment(ctx context.Context, a *Assessment, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// The counter resets once window has elapsed since its first increment.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// ResetCounter drops a counter so the next increment starts a new window.
	ResetCounter(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `mapstructure:"localMaxSize"`
	LocalTTL     time.Duration `mapstructure:"localTtl"`

	// AssessmentTTL is how long scored claims stay retrievable from cache
	AssessmentTTL time.Duration `mapstructure:"assessmentTtl"`

	// AlertWindow throttles alerts to one per beneficiary per window
	AlertWindow time.Duration `mapstructure:"alertWindow"`

	// Redis settings (Pro tier)
	RedisAddr     string `mapstructure:"redisAddr"`
	RedisPassword string `mapstructure:"redisPassword"`
	RedisDB       int    `mapstructure:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enableTwoPhase"` // If true, check local first, then Redis
}
