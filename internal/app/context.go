package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"permitline/internal/config"
	"permitline/internal/db"
	"permitline/internal/engine"
	"permitline/internal/metrics"
	"permitline/internal/migrate"
)

// Options locate the workspace and its configuration.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/permitline.yml.
	ConfigPath    string
	BusyTimeoutMS int
	Log           logrus.FieldLogger
	Metrics       *metrics.Collector
}

// Runtime is an opened workspace: database migrated, config loaded, engine
// wired.
type Runtime struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open prepares everything a CLI command or the server needs. A missing
// config file falls back to the defaults.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, BusyTimeoutMS: opts.BusyTimeoutMS})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if opts.Log != nil {
		eng.Log = opts.Log
	}
	if opts.Metrics != nil {
		eng.Metrics = opts.Metrics
	}
	return &Runtime{DB: conn, Config: cfg, Engine: eng}, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		cfg, err := config.FromFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
		}
		return cfg, nil
	}
	return config.LoadOptional(opts.Workspace)
}
