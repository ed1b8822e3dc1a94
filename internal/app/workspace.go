// Package app opens a DailyRise workspace: data directory, database, schema
// and config, wired into an engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"dailyrise/internal/config"
	"dailyrise/internal/db"
	"dailyrise/internal/engine"
	"dailyrise/internal/logging"
	"dailyrise/internal/migrate"
)

// JWTSecretEnv overrides auth.jwt_secret from dailyrise.yml.
const JWTSecretEnv = "DAILYRISE_JWT_SECRET"

type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open prepares the workspace at dir. The caller must Close it.
func Open(ctx context.Context, dir string) (*Workspace, error) {
	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}
	conn, err := db.OpenContext(ctx, db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(dir), err)
	}
	return &Workspace{
		Dir:    dir,
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg),
	}, nil
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// LoadConfig reads dailyrise.yml from dir, falling back to defaults, and
// applies environment overrides.
func LoadConfig(dir string) (*config.Config, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(dir), err)
	}
	if secret := strings.TrimSpace(os.Getenv(JWTSecretEnv)); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	return cfg, nil
}

// ConfigureLogging applies the log section of cfg to the global logger. An
// explicit level wins over the config file.
func ConfigureLogging(cfg *config.Config, level string) {
	if level == "" {
		level = cfg.Log.Level
	}
	logging.Init(logging.Config{Level: level, Format: cfg.Log.Format})
}
