package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/engine"
	"bountyline/internal/migrate"
	"bountyline/internal/repo"
)

// ResolveConfig returns the ledger config stored in the database, seeding
// the defaults on first use.
func ResolveConfig(ctx context.Context, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("load ledger config: %w", err)
	}
	seed := config.Default()
	if err := r.UpsertConfig(ctx, nil, seed); err != nil {
		return nil, fmt.Errorf("seed ledger config: %w", err)
	}
	return seed, nil
}

// Options select the workspace and process-level settings of a command.
type Options struct {
	Workspace string
	Driver    string
	Logger    *slog.Logger
}

// OpenEngine opens and migrates the workspace database and builds an engine
// over its stored config. The caller closes the returned DB.
func OpenEngine(ctx context.Context, opts Options) (engine.Engine, *sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: opts.Driver})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	cfg, err := ResolveConfig(ctx, repo.Repo{DB: conn})
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	e := engine.New(conn, cfg)
	if opts.Logger != nil {
		e.Logger = opts.Logger
	}
	return e, conn, nil
}

// NewLogger builds the JSON logger used by long-running commands. level is
// one of debug, info, warn, error; BOUNTYLINE_LOG_LEVEL is used when empty.
func NewLogger(w io.Writer, level string) *slog.Logger {
	if level == "" {
		level = os.Getenv("BOUNTYLINE_LOG_LEVEL")
	}
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
