package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/jobflow/capture-server-go/internal/config"
	"github.com/jobflow/capture-server-go/internal/database"
)

// New builds the configured store backend.
func New(cfg *config.Config) (SessionStore, error) {
	switch cfg.StoreBackend {
	case config.BackendFile:
		dir := filepath.Join(cfg.DataDir, "sessions")
		fs, err := NewFileStore(dir)
		if err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
		log.Info().Str("dir", dir).Msg("using file session store")
		return fs, nil

	case config.BackendPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}

		ps, err := NewPostgresStore(db.DB)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		log.Info().Msg("using postgres session store")
		return ps, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
