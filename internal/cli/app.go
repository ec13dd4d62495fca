package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/app"
	"github.com/dmitrijs2005/vaultcore/internal/breach"
	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/config"
	"github.com/dmitrijs2005/vaultcore/internal/format"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/zalando/go-keyring"
)

type App struct {
	cfg     *config.Config
	logger  logging.Logger
	reader  *bufio.Reader
	out     io.Writer
	checker breach.Checker
	encoder format.Adaptor
	now     func() time.Time

	session *app.Session
	closers []func() error
}

func NewApp(cfg *config.Config, in io.Reader, out io.Writer, logger logging.Logger) *App {
	return &App{
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		reader:  bufio.NewReader(in),
		out:     out,
		checker: app.NewChecker(cfg),
		now:     time.Now,
	}
}

// Close ends the session and releases the backends in reverse order.
func (a *App) Close() {
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn(context.Background(), "close backend", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) options(ctx context.Context) (app.Options, error) {
	store, closeStore, err := app.OpenStorage(ctx, a.cfg)
	if err != nil {
		return app.Options{}, fmt.Errorf("open storage: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	prefs, closePrefs, err := app.OpenPreferences(ctx, a.cfg)
	if err != nil {
		return app.Options{}, fmt.Errorf("open preferences: %w", err)
	}
	a.closers = append(a.closers, closePrefs)

	return app.Options{
		ID:              a.cfg.VaultID,
		Store:           store,
		Preferences:     prefs,
		Checker:         a.checker,
		BreachTimeout:   a.cfg.BreachTimeout,
		Encoder:         a.encoder,
		MonitorInterval: a.cfg.MonitorInterval,
		ReadOnly:        a.cfg.ReadOnly,
		Logger:          a.logger,
	}, nil
}

// masterPassword returns the keyring copy when enabled and present,
// otherwise prompts. New vaults ask twice.
func (a *App) masterPassword(create bool) ([]byte, bool, error) {
	if a.cfg.UseKeyring && !create {
		pw, err := keyringGet(keyringService, a.cfg.VaultID)
		switch {
		case err == nil:
			return []byte(pw), true, nil
		case !errors.Is(err, keyring.ErrNotFound):
			a.logger.Warn(context.Background(), "keyring unavailable", "error", err)
		}
	}

	pw, err := GetPassword(a.out, "Master password: ")
	if err != nil {
		return nil, false, err
	}
	if create {
		again, err := GetPassword(a.out, "Repeat master password: ")
		if err != nil {
			return nil, false, err
		}
		if !bytes.Equal(pw, again) {
			return nil, false, fmt.Errorf("%w: passwords do not match", common.ErrValidation)
		}
	}
	if len(pw) == 0 {
		return nil, false, fmt.Errorf("%w: empty master password", common.ErrValidation)
	}
	return pw, false, nil
}

// unlock opens the configured vault, or creates it with f when create is set.
func (a *App) unlock(ctx context.Context, create bool, f models.Format) error {
	if a.session != nil {
		return nil
	}
	opts, err := a.options(ctx)
	if err != nil {
		return err
	}

	pw, fromKeyring, err := a.masterPassword(create)
	if err != nil {
		return err
	}
	opts.Key = models.CompositeKey{Password: pw}

	var s *app.Session
	if create {
		s, err = app.Create(ctx, opts, f)
	} else {
		s, err = app.Open(ctx, opts)
		if errors.Is(err, common.ErrCredential) && fromKeyring {
			// stale keyring copy; forget it and ask once
			_ = keyringDelete(keyringService, a.cfg.VaultID)
			if pw, _, err = a.masterPassword(false); err != nil {
				return err
			}
			opts.Key = models.CompositeKey{Password: pw}
			fromKeyring = false
			s, err = app.Open(ctx, opts)
		}
	}
	if err != nil {
		return err
	}
	a.session = s

	if a.cfg.UseKeyring && !fromKeyring {
		if err := keyringSet(keyringService, a.cfg.VaultID, string(pw)); err != nil {
			a.logger.Warn(ctx, "keyring store failed", "error", err)
		}
	}

	if st := models.ParseConflictStrategy(a.cfg.ConflictStrategy); st != models.ConflictAsk &&
		st != s.DB().Preferences().ConflictStrategy {
		if err := s.DB().SetConflictStrategy(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) status() string {
	if a.session == nil {
		return a.cfg.VaultID
	}
	s := a.cfg.VaultID
	if a.session.DB().ReadOnly() {
		s += " (read-only)"
	}
	if rep := a.session.Audit().Report(); rep != nil && rep.NodesWithIssues > 0 {
		s += fmt.Sprintf(" (%d flagged)", rep.NodesWithIssues)
	}
	if n := len(a.session.Coordinator().PendingConflicts()); n > 0 {
		s += fmt.Sprintf(" [%d conflicts]", n)
	}
	return s
}
