package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/vaultcore/internal/breach"
	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/config"
	"github.com/dmitrijs2005/vaultcore/internal/filex"
	"github.com/dmitrijs2005/vaultcore/internal/preferences"
	"github.com/dmitrijs2005/vaultcore/internal/storage"
)

// closeFn releases whatever a backend holds open.
type closeFn func() error

func nopClose() error { return nil }

// OpenStorage builds the vault backend named by cfg.Backend.
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.Storage, closeFn, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemory(), nopClose, nil

	case config.BackendFile:
		s, err := storage.NewFile(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return s, nopClose, nil

	case config.BackendBolt:
		if err := filex.EnsureParent(cfg.BoltPath); err != nil {
			return nil, nil, err
		}
		s, err := storage.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.BackendS3:
		s, err := storage.NewS3(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nopClose, nil

	case config.BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("%w: postgres backend needs a DSN", common.ErrValidation)
		}
		db, err := storage.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewPostgres(db), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", common.ErrValidation, cfg.Backend)
	}
}

// OpenPreferences opens (and migrates) the preferences database.
func OpenPreferences(ctx context.Context, cfg *config.Config) (*preferences.SQLiteStore, closeFn, error) {
	if !strings.Contains(cfg.PreferencesDB, ":memory:") {
		if err := filex.EnsureParent(cfg.PreferencesDB); err != nil {
			return nil, nil, err
		}
	}
	db, err := preferences.Open(ctx, cfg.PreferencesDB)
	if err != nil {
		return nil, nil, err
	}
	return preferences.NewSQLiteStore(db), db.Close, nil
}

// NewChecker returns the breach checker configured by cfg.
func NewChecker(cfg *config.Config) breach.Checker {
	return breach.NewHIBPClient(
		breach.WithBaseURL(cfg.BreachURL),
		breach.WithHTTPClient(&http.Client{Timeout: cfg.BreachTimeout}),
		breach.WithRateLimit(cfg.BreachRate, 1),
	)
}
