// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/autobrr/pickr/internal/dbinterface"
)

const busyTimeout = 5 * time.Second

// DB wraps the sqlite handle used by every store.
type DB struct {
	*sql.DB
	path string
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS download_tasks (
		info_hash TEXT PRIMARY KEY,
		task_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL CHECK(state IN ('idle', 'resolving', 'downloading', 'completed', 'failed')),
		error_message TEXT NOT NULL DEFAULT '',
		media_id TEXT NOT NULL DEFAULT '',
		episode_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_download_tasks_state ON download_tasks(state)`,
	`CREATE TABLE IF NOT EXISTS search_cache (
		cache_key TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		query TEXT NOT NULL DEFAULT '',
		response_data BLOB NOT NULL,
		total_results INTEGER NOT NULL DEFAULT 0,
		cached_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_search_cache_expires ON search_cache(expires_at)`,
}

// New opens (or creates) the database at path and applies migrations.
func New(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, busyTimeout.Milliseconds())

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite serializes writers; a single connection avoids SQLITE_BUSY churn.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.migrate(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Debug().Str("path", path).Int("migrations", len(migrations)).Msg("Database ready")

	return db, nil
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) migrate(ctx context.Context) error {
	return dbinterface.WithTx(ctx, db.DB, func(tx dbinterface.TxQuerier) error {
		for i, stmt := range migrations {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d: %w", i, err)
			}
		}
		return nil
	})
}
