// Copyright 2026 The Mailworks Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package autodiscover

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const cacheSchema = `
	CREATE TABLE IF NOT EXISTS endpoints (
		domain     TEXT PRIMARY KEY,
		endpoint   TEXT NOT NULL,
		auth_type  TEXT NOT NULL DEFAULT '',
		version    TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	)`

// SQLiteCache persists resolved endpoints across processes, so a client
// restart does not repeat the probe sequence.
type SQLiteCache struct {
	db *sqlx.DB
}

// NewSQLiteCache opens (or creates) the cache database at dbPath and
// enables WAL mode so concurrent sessions can read while one writes.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening endpoint cache: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating endpoint cache schema: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

func (c *SQLiteCache) Get(ctx context.Context, domain string) (*Result, bool, error) {
	var result Result
	err := c.db.GetContext(ctx, &result,
		"SELECT endpoint, auth_type, version FROM endpoints WHERE domain = ?", domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached endpoint for %s: %w", domain, err)
	}
	return &result, true, nil
}

func (c *SQLiteCache) Put(ctx context.Context, domain string, result *Result) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO endpoints (domain, endpoint, auth_type, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			endpoint = excluded.endpoint,
			auth_type = excluded.auth_type,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		domain, result.Endpoint, result.AuthType, result.Version, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("caching endpoint for %s: %w", domain, err)
	}
	return nil
}

func (c *SQLiteCache) Invalidate(ctx context.Context, domain string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM endpoints WHERE domain = ?", domain)
	if err != nil {
		return fmt.Errorf("invalidating cached endpoint for %s: %w", domain, err)
	}
	return nil
}

func (c *SQLiteCache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM endpoints")
	if err != nil {
		return fmt.Errorf("clearing endpoint cache: %w", err)
	}
	return nil
}
