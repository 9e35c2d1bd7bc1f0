package cmd

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/salesclaw/internal/config"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/internal/store/memstore"
	"github.com/nextlevelbuilder/salesclaw/internal/store/sqlstore"
)

// openSQL connects to the configured SQL backend.
func openSQL(cfg *config.Config) (*sqlstore.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return sqlstore.Open(sqlstore.Postgres, cfg.Database.PostgresDSN)
	case "sqlite":
		return sqlstore.Open(sqlstore.SQLite, cfg.Database.SQLitePath)
	default:
		return nil, fmt.Errorf("database.driver %q has no schema to migrate", cfg.Database.Driver)
	}
}

// openStores opens the configured backend and applies pending migrations.
func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.Database.Driver == "memory" {
		slog.Warn("using in-memory store; data is lost on restart")
		return memstore.New().Stores(), nil
	}
	db, err := openSQL(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database ready", "driver", cfg.Database.Driver)
	return db.Stores(), nil
}
