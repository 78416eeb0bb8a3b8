package sqlite

import (
	"context"
	"fmt"
)

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			identifier TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'idle',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status);`,
		`CREATE TABLE IF NOT EXISTS proxies (
			id TEXT PRIMARY KEY,
			address TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'http',
			status TEXT NOT NULL DEFAULT 'untested',
			last_test INTEGER NOT NULL DEFAULT 0,
			last_used INTEGER NOT NULL DEFAULT 0,
			use_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS points (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			project_url TEXT NOT NULL,
			points REAL NOT NULL DEFAULT 0,
			details_json TEXT NOT NULL DEFAULT '{}',
			ts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_points_project ON points(project_url);`,
		`CREATE INDEX IF NOT EXISTS idx_points_account ON points(account_id);`,
		`CREATE TABLE IF NOT EXISTS activity_logs (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL DEFAULT '',
			project_url TEXT NOT NULL DEFAULT '',
			activity TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			details_json TEXT NOT NULL DEFAULT '{}',
			ts INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
