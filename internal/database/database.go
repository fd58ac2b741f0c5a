package database

import (
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"paratest/internal/config"
)

// New connects to the timing database configured in conf. SQLite is the default; it is opened with
// a busy timeout and a single connection so concurrent workers serialise their writes instead of
// failing with SQLITE_BUSY.
func New(conf *config.PTConfig) (*sqlx.DB, error) {
	switch conf.Database.Driver {
	case config.DriverPostgres:
		return sqlx.Connect("pgx", conf.Database.DSN)
	case config.DriverSQLite, "":
		return NewSQLite(conf.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", conf.Database.Driver)
	}
}

// NewSQLite opens the SQLite database at path.
func NewSQLite(path string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
}
