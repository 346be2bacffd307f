// Package sqlstore implements accounts.Store on database/sql for PostgreSQL and MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/isometry/dirsync/internal/accounts"
)

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

const (
	mySQLDuplicateEntry    = 1062
	postgresUniqueViolation = "23505"
)

const accountColumns = "id, email, name, is_admin, password_hash, storage_label, should_change_password, created_at, updated_at"

// Store is a SQL-backed accounts.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ accounts.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	driver, dsn, err := driverFor(dialect, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", dialect, err)
	}

	return New(db, dialect), nil
}

// New wraps an existing handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// driverFor returns the registered driver name and a DSN adjusted for it.
func driverFor(dialect Dialect, dsn string) (string, string, error) {
	switch dialect {
	case DialectPostgres:
		return "postgres", dsn, nil
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse mysql DSN: %w", err)
		}
		cfg.ParseTime = true
		return "mysql", cfg.FormatDSN(), nil
	default:
		return "", "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT "+accountColumns+" FROM users WHERE LOWER(email) = ?"), accounts.NormalizeEmail(email))

	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return acct, nil
}

func (s *Store) Create(ctx context.Context, a accounts.NewAccount) (*accounts.Account, error) {
	now := s.now().UTC().Truncate(time.Second)
	acct := &accounts.Account{
		ID:                   uuid.NewString(),
		Email:                strings.TrimSpace(a.Email),
		Name:                 a.Name,
		IsPrivileged:         a.IsPrivileged,
		CredentialHash:       a.CredentialHash,
		StorageLabel:         a.StorageLabel,
		ShouldChangePassword: a.ShouldChangePassword,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO users ("+accountColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		acct.ID, acct.Email, acct.Name, acct.IsPrivileged, acct.CredentialHash,
		acct.StorageLabel, acct.ShouldChangePassword, acct.CreatedAt, acct.UpdatedAt)
	if isDuplicateConflict(err) {
		return nil, fmt.Errorf("create account %s: %w", a.Email, accounts.ErrEmailTaken)
	}
	if err != nil {
		return nil, fmt.Errorf("create account %s: %w", a.Email, err)
	}

	return acct, nil
}

func (s *Store) Update(ctx context.Context, id string, patch accounts.Patch) (*accounts.Account, error) {
	if !patch.Empty() {
		sets := []string{"updated_at = ?"}
		args := []any{s.now().UTC().Truncate(time.Second)}

		if patch.IsPrivileged != nil {
			sets = append(sets, "is_admin = ?")
			args = append(args, *patch.IsPrivileged)
		}
		if patch.CredentialHash != nil {
			sets = append(sets, "password_hash = ?")
			args = append(args, *patch.CredentialHash)
		}
		args = append(args, id)

		query := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = ?"
		if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
			return nil, fmt.Errorf("update account %s: %w", id, err)
		}
	}

	// MySQL reports zero affected rows for no-op updates, so existence is
	// checked by reading the row back.
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+accountColumns+" FROM users WHERE id = ?"), id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update account %s: %w", id, accounts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update account %s: %w", id, err)
	}
	return acct, nil
}

func scanAccount(row *sql.Row) (*accounts.Account, error) {
	var a accounts.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.IsPrivileged, &a.CredentialHash,
		&a.StorageLabel, &a.ShouldChangePassword, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isDuplicateConflict(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mySQLDuplicateEntry {
		return true
	}
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == postgresUniqueViolation {
		return true
	}
	return false
}
