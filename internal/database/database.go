// internal/database/database.go

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FleetRiskAPI/internal/config"

	_ "github.com/lib/pq"
)

type Database struct {
	DB *sql.DB
}

// DSN builds the lib/pq connection string for cfg.
func DSN(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)
}

func New(cfg *config.DatabaseConfig) (*Database, error) {
	d, err := Open(DSN(cfg))
	if err != nil {
		return nil, err
	}

	d.DB.SetMaxOpenConns(cfg.MaxOpenConns)
	d.DB.SetMaxIdleConns(cfg.MaxIdleConns)
	d.DB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	d.DB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return d, nil
}

// Open connects with a raw DSN and verifies the connection.
func Open(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{DB: db}, nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}

func (d *Database) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var result int
	if err := d.DB.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

func (d *Database) Stats() sql.DBStats {
	return d.DB.Stats()
}
