// Package datastore provides a SQLite-backed store.DataStore.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cloudmeeting/orderhub/pkg/model"
	"github.com/cloudmeeting/orderhub/pkg/store"
)

const dbTimeLayout = time.RFC3339Nano

// DB is satisfied by both *sql.DB and *sql.Tx.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store keeps users and work orders in a SQLite database.
type Store struct {
	db *sql.DB
}

var _ store.DataStore = (*Store)(nil)

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		username      TEXT NOT NULL PRIMARY KEY CHECK(length(username) > 0 AND length(username) <= 256),
		role          TEXT NOT NULL CHECK(role IN ('requester', 'specialist')),
		password_hash TEXT NOT NULL,
		salt          TEXT NOT NULL,
		created_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS work_orders (
		id          TEXT NOT NULL PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		created_by  TEXT NOT NULL,
		assigned_to TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS work_orders_status ON work_orders (status)",
				"CREATE INDEX IF NOT EXISTS work_orders_assigned_to ON work_orders (assigned_to)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion() (int, error) {
	return s.getSchemaVersion(context.Background())
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *Store) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.Parse(dbTimeLayout, value)
}

// replace runs fn inside a transaction, committing only if it succeeds.
func (s *Store) replace(op string, fn func(ctx context.Context, tx DB) error) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("datastore: %s: begin: %w", op, err)
	}
	if err := fn(ctx, tx); err != nil {
		return errors.Join(fmt.Errorf("datastore: %s: %w", op, err), tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datastore: %s: commit: %w", op, err)
	}
	return nil
}

// ---- Users ----

// LoadUsers returns all users ordered by username.
func (s *Store) LoadUsers() ([]model.User, error) {
	rows, err := s.db.QueryContext(context.Background(),
		"SELECT username, role, password_hash, salt, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("datastore: load users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := []model.User{}
	for rows.Next() {
		var u model.User
		var role, createdAt string
		if err := rows.Scan(&u.Username, &role, &u.PasswordHash, &u.Salt, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.Role = model.ParseRole(role)
		if u.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan user %s: %w", u.Username, err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SaveUsers replaces the users table.
func (s *Store) SaveUsers(users []model.User) error {
	return s.replace("save users", func(ctx context.Context, tx DB) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM users"); err != nil {
			return err
		}
		for _, u := range users {
			if !u.Role.Valid() {
				return fmt.Errorf("user %s: %w", u.Username, model.ErrInvalidRole)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO users (username, role, password_hash, salt, created_at) VALUES (?, ?, ?, ?, ?)",
				u.Username, u.Role.String(), u.PasswordHash, u.Salt, formatDBTime(u.CreatedAt))
			if err != nil {
				return fmt.Errorf("user %s: %w", u.Username, err)
			}
		}
		return nil
	})
}

// ---- Work orders ----

// LoadOrders returns all work orders ordered by creation time, then id.
func (s *Store) LoadOrders() ([]model.WorkOrder, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, title, description, status, created_by, assigned_to, created_at, updated_at
		 FROM work_orders`)
	if err != nil {
		return nil, fmt.Errorf("datastore: load orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	orders := []model.WorkOrder{}
	for rows.Next() {
		var o model.WorkOrder
		var status, createdAt, updatedAt string
		if err := rows.Scan(&o.ID, &o.Title, &o.Description, &status, &o.CreatedBy, &o.AssignedTo, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("datastore: scan order: %w", err)
		}
		if o.Status, err = model.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("datastore: scan order %s: %w", o.ID, err)
		}
		if o.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan order %s: %w", o.ID, err)
		}
		if o.UpdatedAt, err = parseDBTime(updatedAt); err != nil {
			return nil, fmt.Errorf("datastore: scan order %s: %w", o.ID, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datastore: load orders: %w", err)
	}
	// RFC 3339 text does not sort chronologically across precisions.
	store.SortOrders(orders)
	return orders, nil
}

// SaveOrders replaces the work_orders table.
func (s *Store) SaveOrders(orders []model.WorkOrder) error {
	return s.replace("save orders", func(ctx context.Context, tx DB) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM work_orders"); err != nil {
			return err
		}
		for _, o := range orders {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO work_orders (id, title, description, status, created_by, assigned_to, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				o.ID, o.Title, o.Description, string(o.Status), o.CreatedBy, o.AssignedTo,
				formatDBTime(o.CreatedAt), formatDBTime(o.UpdatedAt))
			if err != nil {
				return fmt.Errorf("order %s: %w", o.ID, err)
			}
		}
		return nil
	})
}
