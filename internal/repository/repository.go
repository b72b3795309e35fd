// Package repository provides the audit trail persistence for claimguard.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration. The "none" driver
// disables persistence.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite", "":
		cfg.Driver = "sqlite"
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	case "none":
		return NopRepository{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the connection pool for stats collection.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// SaveAssessment stores a scored claim. Saving the same ID twice is an error.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.Assessment) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	reasons, err := json.Marshal(nonNilReasons(a.Reasons))
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	features, err := json.Marshal(a.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	signals, err := json.Marshal(a.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}
	breakdown, err := json.Marshal(a.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `
		INSERT INTO assessments (
			id, beneficiary_id, shop_id, quantity, region_risk, claimed_at,
			fraud_score, risk_level, reasons, features, signals, breakdown,
			metadata, scored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.BeneficiaryID, a.ShopID, a.Quantity, a.RegionRisk, a.ClaimedAt,
		a.FraudScore, string(a.RiskLevel), string(reasons), string(features),
		string(signals), string(breakdown), string(metadata), ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save assessment %s: %w", a.ID, err)
	}
	return nil
}

const assessmentColumns = `
	id, beneficiary_id, shop_id, quantity, region_risk, claimed_at,
	fraud_score, risk_level, reasons, features, signals, breakdown,
	metadata, scored_at
`

// GetAssessment retrieves an assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, id string) (*domain.Assessment, error) {
	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE id = ?`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssessmentsByBeneficiary returns a beneficiary's assessments scored at
// or after since, newest first.
func (r *SQLRepository) ListAssessmentsByBeneficiary(ctx context.Context, beneficiaryID string, since time.Time) ([]*domain.Assessment, error) {
	query := `SELECT ` + assessmentColumns + `
		FROM assessments
		WHERE beneficiary_id = ? AND scored_at >= ?
		ORDER BY scored_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), beneficiaryID, since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*domain.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}

	return assessments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*domain.Assessment, error) {
	var a domain.Assessment
	var riskLevel, reasons, features, signals, breakdown, metadata string
	var scoredAt int64

	if err := row.Scan(
		&a.ID, &a.BeneficiaryID, &a.ShopID, &a.Quantity, &a.RegionRisk, &a.ClaimedAt,
		&a.FraudScore, &riskLevel, &reasons, &features, &signals, &breakdown,
		&metadata, &scoredAt,
	); err != nil {
		return nil, err
	}

	a.RiskLevel = domain.RiskLevel(riskLevel)
	a.Timestamp = time.Unix(0, scoredAt).UTC()

	for _, f := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"reasons", reasons, &a.Reasons},
		{"features", features, &a.Features},
		{"signals", signals, &a.Signals},
		{"breakdown", breakdown, &a.Breakdown},
		{"metadata", metadata, &a.Metadata},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("failed to parse %s for %s: %w", f.name, a.ID, err)
		}
	}
	a.Reasons = nonNilReasons(a.Reasons)

	return &a, nil
}

// SaveReasonRule inserts or replaces a reason rule.
func (r *SQLRepository) SaveReasonRule(ctx context.Context, rule *domain.ReasonRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO reason_rules (
			id, name, description, version, expression, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version,
		rule.Condition, rule.Reason, enabled, now, now,
	)
	return err
}

// GetReasonRule retrieves a reason rule by ID, enabled or not.
func (r *SQLRepository) GetReasonRule(ctx context.Context, ruleID string) (*domain.ReasonRule, error) {
	query := `
		SELECT id, name, description, version, expression, reason, enabled
		FROM reason_rules
		WHERE id = ?
	`

	rule, err := scanReasonRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListReasonRules retrieves all enabled reason rules ordered by ID.
func (r *SQLRepository) ListReasonRules(ctx context.Context) ([]*domain.ReasonRule, error) {
	query := `
		SELECT id, name, description, version, expression, reason, enabled
		FROM reason_rules
		WHERE enabled = 1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ReasonRule
	for rows.Next() {
		rule, err := scanReasonRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func scanReasonRule(row rowScanner) (*domain.ReasonRule, error) {
	var rule domain.ReasonRule
	var description sql.NullString
	var enabled int

	if err := row.Scan(
		&rule.ID, &rule.Name, &description, &rule.Version,
		&rule.Condition, &rule.Reason, &enabled,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Enabled = enabled == 1
	return &rule, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func nonNilReasons(reasons []string) []string {
	if reasons == nil {
		return []string{}
	}
	return reasons
}

// NopRepository discards writes and finds nothing. Used when persistence
// is disabled.
type NopRepository struct{}

func (NopRepository) SaveAssessment(context.Context, *domain.Assessment) error { return nil }

func (NopRepository) GetAssessment(context.Context, string) (*domain.Assessment, error) {
	return nil, ErrNotFound
}

func (NopRepository) ListAssessmentsByBeneficiary(context.Context, string, time.Time) ([]*domain.Assessment, error) {
	return nil, nil
}

func (NopRepository) SaveReasonRule(context.Context, *domain.ReasonRule) error { return nil }

func (NopRepository) GetReasonRule(context.Context, string) (*domain.ReasonRule, error) {
	return nil, ErrNotFound
}

func (NopRepository) ListReasonRules(context.Context) ([]*domain.ReasonRule, error) {
	return nil, nil
}

func (NopRepository) Ping(context.Context) error { return nil }

func (NopRepository) Close() error { return nil }
