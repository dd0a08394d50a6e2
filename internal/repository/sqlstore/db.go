package sqlstore

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	sqlite "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	driverPgx    = "pgx"
	driverSQLite = "sqlite3"
)

// Connect opens the store named by url. postgres:// and postgresql:// URLs
// use pgx; sqlite:// URLs (sqlite://finance.db, sqlite://:memory:) use
// go-sqlite3 with immediate transactions so a write transaction holds the
// database lock from BEGIN.
func Connect(url string) (*sqlx.DB, error) {
	if path, ok := sqlitePath(url); ok {
		return connectSQLite(path)
	}
	db, err := sqlx.Open(driverPgx, url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

func connectSQLite(path string) (*sqlx.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := "file:" + path + sep + "_txlock=immediate&_foreign_keys=on&_busy_timeout=5000"
	db, err := sqlx.Open(driverSQLite, dsn)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps :memory: databases
	// alive for the lifetime of the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

func sqlitePath(url string) (string, bool) {
	for _, prefix := range []string{"sqlite://", "sqlite3://"} {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix), true
		}
	}
	return "", false
}

// RunMigrations applies the embedded schema for the driver behind db. url is
// the one db was opened with.
func RunMigrations(db *sqlx.DB, url string) error {
	if db.DriverName() == driverSQLite {
		src, err := iofs.New(migrationsFS, "migrations/sqlite3")
		if err != nil {
			return err
		}
		driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
		if err != nil {
			return err
		}
		// m is not closed: closing it would close db.
		m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
		if err != nil {
			return err
		}
		return up(m)
	}

	src, err := iofs.New(migrationsFS, "migrations/postgres")
	if err != nil {
		return err
	}
	migrateURL := url
	if strings.HasPrefix(migrateURL, "postgresql://") {
		migrateURL = "postgres://" + strings.TrimPrefix(migrateURL, "postgresql://")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL)
	if err != nil {
		return err
	}
	defer m.Close()
	return up(m)
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique constraint failure from
// either supported driver.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite.ErrConstraintPrimaryKey
	}
	return false
}

// forUpdate returns the row-locking suffix for the dialect. SQLite locks the
// whole database at BEGIN IMMEDIATE instead.
func forUpdate(q sqlx.Queryer) string {
	if ext, ok := q.(interface{ DriverName() string }); ok && ext.DriverName() == driverSQLite {
		return ""
	}
	return " FOR UPDATE"
}
