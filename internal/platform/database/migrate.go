package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// 同時に複数プロセスがマイグレーションを実行しないためのロックキー
const migrationLockID int64 = 0x6d6967726174650a

// Migrate は未適用のマイグレーションをファイル名順に適用します
// 各ファイルは1トランザクションで適用され、schema_migrations に記録されます
func Migrate(ctx context.Context, db TxBeginner, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	names, err := migrationNames()
	if err != nil {
		return nil, err
	}

	return Transact(ctx, db, func(tx pgx.Tx) ([]string, error) {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
			return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
			return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
		}

		var applied []string
		for _, name := range names {
			var exists bool
			if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", name).Scan(&exists); err != nil {
				return nil, fmt.Errorf("failed to check migration %s: %w", name, err)
			}
			if exists {
				continue
			}

			body, err := migrationFS.ReadFile("migrations/" + name)
			if err != nil {
				return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return nil, fmt.Errorf("failed to apply migration %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", name); err != nil {
				return nil, fmt.Errorf("failed to record migration %s: %w", name, err)
			}

			logger.Info("migration applied", "version", name)
			applied = append(applied, name)
		}
		return applied, nil
	})
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
