// Package sqlstore implements the store interfaces on database/sql.
//
// Queries are written once with Postgres-style $n placeholders; the SQLite
// dialect rebinds them to SQLite's numbered ?n form.
package sqlstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

//go:embed migrations
var migrationsFS embed.FS

// Dialect identifies the SQL backend.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// DB wraps a connection pool with its dialect.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the backend. For SQLite, dsn is a file path.
func Open(dialect Dialect, dsn string) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case Postgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	case SQLite:
		db, err = sql.Open("sqlite", "file:"+dsn+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// single writer; avoids SQLITE_BUSY under concurrent handlers
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &DB{db: db, dialect: dialect}, nil
}

// Close releases the pool.
func (d *DB) Close() error { return d.db.Close() }

// SQL exposes the raw pool.
func (d *DB) SQL() *sql.DB { return d.db }

// Dialect reports the backend kind.
func (d *DB) Dialect() Dialect { return d.dialect }

// q rebinds $n placeholders for the active dialect.
func (d *DB) q(query string) string {
	if d.dialect == SQLite {
		return placeholderRe.ReplaceAllString(query, "?$1")
	}
	return query
}

// Stores returns every store backed by d.
func (d *DB) Stores() *store.Stores {
	return &store.Stores{
		Agents:    &AgentStore{d},
		Sessions:  &SessionStore{d},
		Messages:  &MessageStore{d},
		Contacts:  &ContactStore{d},
		Orders:    &OrderStore{d},
		Products:  &ProductStore{d},
		FollowUps: &FollowUpStore{d},
		Close:     d.Close,
	}
}

// NewMigrator builds a migrator over the embedded migrations for d's dialect.
func (d *DB) NewMigrator() (*migrate.Migrate, error) {
	sub, err := fs.Sub(migrationsFS, "migrations/"+string(d.dialect))
	if err != nil {
		return nil, fmt.Errorf("migrations for %s: %w", d.dialect, err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	var drv database.Driver
	switch d.dialect {
	case Postgres:
		drv, err = postgres.WithInstance(d.db, &postgres.Config{})
	case SQLite:
		drv, err = sqlite.WithInstance(d.db, &sqlite.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(d.dialect), drv)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// MigrateUp applies all pending migrations.
func (d *DB) MigrateUp() error {
	m, err := d.NewMigrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func utc(t time.Time) time.Time { return t.UTC() }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
