// Package domain defines the core interfaces and types for claimguard.
package domain

import (
	"context"
	"time"
)

// Repository persists the audit trail of scored claims and the custom
// reason rules. It never backs the in-memory history.
type Repository interface {
	// Assessment operations
	SaveAssessment(ctx context.Context, a *Assessment) error
	GetAssessment(ctx context.Context, id string) (*Assessment, error)
	ListAssessmentsByBeneficiary(ctx context.Context, beneficiaryID string, since time.Time) ([]*Assessment, error)

	// Reason rule operations
	SaveReasonRule(ctx context.Context, rule *ReasonRule) error
	GetReasonRule(ctx context.Context, ruleID string) (*ReasonRule, error)
	ListReasonRules(ctx context.Context) ([]*ReasonRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "none"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgresHost"`
	PostgresPort     int    `mapstructure:"postgresPort"`
	PostgresUser     string `mapstructure:"postgresUser"`
	PostgresPassword string `mapstructure:"postgresPassword"`
	PostgresDB       string `mapstructure:"postgresDb"`
	PostgresSSLMode  string `mapstructure:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}
