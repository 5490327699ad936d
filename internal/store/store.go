// Package store persists guild snapshots, likes and play history in SQLite or
// Postgres.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// goose keeps its dialect and base FS in package globals.
var gooseMu sync.Mutex

type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database. For sqlite, dsn is a file path whose parent
// directory is created if needed.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch Dialect(strings.ToLower(driver)) {
	case SQLite, "":
		return openSQLite(ctx, dsn)
	case Postgres, "pgx":
		return openPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("store: unknown driver %q", driver)
}

func openSQLite(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between guild loops
	db.SetMaxOpenConns(1)
	if err := ping(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: SQLite}, nil
}

func openPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := ping(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: Postgres}, nil
}

func ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func (s *Store) Dialect() Dialect { return s.dialect }

// Migrate applies the embedded migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	dialect := "sqlite3"
	if s.dialect == Postgres {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "migrations/"+string(s.dialect)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Version reports the applied migration version.
func (s *Store) Version(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	dialect := "sqlite3"
	if s.dialect == Postgres {
		dialect = "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, s.db)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
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
