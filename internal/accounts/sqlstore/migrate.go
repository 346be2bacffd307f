package sqlstore

import (
	"context"
	"fmt"
)

var postgresMigration = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id text PRIMARY KEY,
    email text NOT NULL,
    name text NOT NULL DEFAULT '',
    is_admin boolean NOT NULL DEFAULT false,
    password_hash text NOT NULL DEFAULT '',
    storage_label text NOT NULL DEFAULT '',
    should_change_password boolean NOT NULL DEFAULT false,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW()
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_unique ON users (LOWER(email))`,
}

// MySQL compares with a case-insensitive collation, so a plain unique key
// enforces case-insensitive email uniqueness.
var mysqlMigration = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id CHAR(36) NOT NULL PRIMARY KEY,
    email VARCHAR(320) NOT NULL,
    name VARCHAR(255) NOT NULL DEFAULT '',
    is_admin BOOLEAN NOT NULL DEFAULT FALSE,
    password_hash VARCHAR(255) NOT NULL DEFAULT '',
    storage_label VARCHAR(255) NOT NULL DEFAULT '',
    should_change_password BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY users_email_unique (email)
) DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

// Migrate creates the users table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	statements := postgresMigration
	if s.dialect == DialectMySQL {
		statements = mysqlMigration
	}

	for i, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
