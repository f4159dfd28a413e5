package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "/migrations"
	}

	logger, err := observ.NewLogger(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	// Migration files carry multiple statements per file; the simple
	// protocol is the only exec mode that accepts them.
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "restock-migrator"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	m := &migrator{pool: pool, logger: logger}

	if err := m.ensureLedger(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations: %w", err)
	}

	applied, skipped, err := m.apply(ctx, dir)
	if err != nil {
		return err
	}

	logger.Info("migrations complete",
		zap.Int("applied", applied),
		zap.Int("skipped", skipped),
	)
	return nil
}

type migrator struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func (m *migrator) ensureLedger(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// apply runs every *.up.sql under dir in lexical order, skipping names
// already recorded in schema_migrations.
func (m *migrator) apply(ctx context.Context, dir string) (applied, skipped int, err error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list migrations in %s: %w", dir, err)
	}
	if len(paths) == 0 {
		m.logger.Warn("no migration files found", zap.String("dir", dir))
		return 0, 0, nil
	}
	sort.Strings(paths)

	for _, path := range paths {
		name := filepath.Base(path)

		done, err := m.recorded(ctx, name)
		if err != nil {
			return applied, skipped, fmt.Errorf("failed to check %s: %w", name, err)
		}
		if done {
			m.logger.Debug("migration already applied", zap.String("name", name))
			skipped++
			continue
		}

		sql, err := os.ReadFile(path)
		if err != nil {
			return applied, skipped, fmt.Errorf("failed to read %s: %w", name, err)
		}

		start := time.Now()
		if _, err := m.pool.Exec(ctx, string(sql)); err != nil {
			return applied, skipped, fmt.Errorf("failed to execute %s: %w", name, err)
		}
		if err := m.record(ctx, name); err != nil {
			return applied, skipped, fmt.Errorf("failed to record %s: %w", name, err)
		}

		applied++
		m.logger.Info("migration applied",
			zap.String("name", name),
			zap.Duration("took", time.Since(start).Round(time.Millisecond)),
		)
	}
	return applied, skipped, nil
}

func (m *migrator) recorded(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := m.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name,
	).Scan(&exists)
	return exists, err
}

func (m *migrator) record(ctx context.Context, name string) error {
	_, err := m.pool.Exec(ctx,
		`INSERT INTO schema_migrations(name) VALUES($1) ON CONFLICT DO NOTHING`, name)
	return err
}
