package repository

import (
	"database/sql"
	"fmt"

	"github.com/opensource-finance/claimguard/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres opens a PostgreSQL database connection.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}

	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "claimguard"
	}

	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s application_name=claimguard connect_timeout=10",
		host, port, dbname, sslmode)
	if cfg.PostgresUser != "" {
		dsn += " user=" + cfg.PostgresUser
	}
	if cfg.PostgresPassword != "" {
		dsn += " password=" + cfg.PostgresPassword
	}
	return dsn
}
