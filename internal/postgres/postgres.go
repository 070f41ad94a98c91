// Package postgres stores daily quota counters in PostgreSQL, for
// deployments where several API processes share one quota.
//
// Connections go through pgxpool; the schema is applied with golang-migrate
// from migrations embedded in the binary.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx5:// migrate driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect opens a pool to dsn and checks that the server answers.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	logger.Info("connected to postgres",
		slog.String("host", poolCfg.ConnConfig.Host),
		slog.Int("port", int(poolCfg.ConnConfig.Port)),
		slog.String("database", poolCfg.ConnConfig.Database),
	)
	return pool, nil
}

// Migrate applies the embedded migrations to dsn.
func Migrate(dsn string, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("failed to initialise migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// migrateURL rewrites a postgres:// or postgresql:// url to the pgx5://
// scheme golang-migrate's pgx driver registers.
func migrateURL(dsn string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}

// QuotaStore is a quota.Store on PostgreSQL.
type QuotaStore struct {
	pool *pgxpool.Pool
}

// NewQuotaStore returns a store using pool. The caller owns pool.
func NewQuotaStore(pool *pgxpool.Pool) *QuotaStore {
	return &QuotaStore{pool: pool}
}

// Count returns the scans counted for identifier on day, 0 when absent.
func (s *QuotaStore) Count(ctx context.Context, identifier, day string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT scans_count FROM quota_usage WHERE identifier = $1 AND day = $2::date`,
		identifier, day,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota: %w", err)
	}
	return n, nil
}

// Increment adds one scan in a single upsert.
func (s *QuotaStore) Increment(ctx context.Context, identifier, day string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO quota_usage (identifier, day, scans_count) VALUES ($1, $2::date, 1)
		ON CONFLICT (identifier, day)
		DO UPDATE SET scans_count = quota_usage.scans_count + 1, updated_at = now()
		RETURNING scans_count`,
		identifier, day,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to increment quota: %w", err)
	}
	return n, nil
}

// IncrementBelow adds one scan only while the count is below limit.
func (s *QuotaStore) IncrementBelow(ctx context.Context, identifier, day string, limit int) (int, bool, error) {
	if limit <= 0 {
		n, err := s.Count(ctx, identifier, day)
		return n, false, err
	}

	var n int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO quota_usage (identifier, day, scans_count) VALUES ($1, $2::date, 1)
		ON CONFLICT (identifier, day)
		DO UPDATE SET scans_count = quota_usage.scans_count + 1, updated_at = now()
		WHERE quota_usage.scans_count < $3
		RETURNING scans_count`,
		identifier, day, limit,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := s.Count(ctx, identifier, day)
		return current, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to consume quota: %w", err)
	}
	return n, true, nil
}
