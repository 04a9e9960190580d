package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const defaultDBName = "bountyline.db"

const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

type Config struct {
	Workspace string
	// Driver is "sqlite" (pure Go, default) or "sqlite3" (cgo).
	Driver string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".bountyline", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".bountyline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// DSN builds a connection string for the driver. Transactions start
// IMMEDIATE so concurrent writers queue on the busy timeout instead of
// failing on lock upgrade.
func DSN(driver, path string) (string, error) {
	switch driver {
	case "", DriverModernc:
		return fmt.Sprintf("file:%s?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path), nil
	case DriverMattn:
		return fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=1&_journal_mode=WAL", path), nil
	default:
		return "", fmt.Errorf("unknown db driver %q (want %s or %s)", driver, DriverModernc, DriverMattn)
	}
}

// Open opens the workspace SQLite database.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverModernc
	}
	dsn, err := DSN(driver, dbPath(cfg.Workspace))
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", dbPath(cfg.Workspace), err)
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
