package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/calvinalkan/formdb/internal/common"
	"github.com/calvinalkan/formdb/internal/sqlite"
	"github.com/calvinalkan/formdb/pkg/form"
	"github.com/calvinalkan/formdb/pkg/revstore"
	"github.com/calvinalkan/formdb/pkg/session"
	"github.com/calvinalkan/formdb/pkg/sqlquery"
)

// app wires the stores of one space for the duration of a command.
type app struct {
	cfg      Config
	store    *sqlite.Store
	forms    *form.Registry
	revs     *revstore.Store
	sessions *session.Manager
}

// openApp opens the configured space. The space directory must exist;
// init creates it.
func openApp(ctx context.Context, cfg Config) (*app, error) {
	spaceDir := cfg.SpaceDir()

	_, err := os.Stat(spaceDir)
	if err != nil {
		return nil, fmt.Errorf("space %q not initialized (run 'formdb init'): %w", cfg.Space, err)
	}

	store, err := sqlite.Open(ctx, filepath.Join(spaceDir, "store.db"))
	if err != nil {
		return nil, err
	}

	forms, err := form.OpenRegistry(filepath.Join(spaceDir, "forms"))
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	revs, err := revstore.New(revstore.Config{
		Store:  store,
		Forms:  forms,
		Strict: cfg.Strict,
	})
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	engine := &sqlquery.Engine{MaxLimit: cfg.MaxLimit}

	sessions, err := session.NewManager(session.Config{
		Dir:    spaceDir,
		Store:  store,
		Forms:  forms,
		Engine: engine,
		Log:    common.Logger(),
	})
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	return &app{
		cfg:      cfg,
		store:    store,
		forms:    forms,
		revs:     revs,
		sessions: sessions,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// initSpace creates the directory skeleton of a space and opens the
// store once so the schema exists.
func initSpace(ctx context.Context, cfg Config) error {
	spaceDir := cfg.SpaceDir()

	for _, sub := range []string{"forms", "queries", "materialized_views", "sql_sessions"} {
		err := os.MkdirAll(filepath.Join(spaceDir, sub), 0o755)
		if err != nil {
			return fmt.Errorf("init space %q: %w", cfg.Space, err)
		}
	}

	store, err := sqlite.Open(ctx, filepath.Join(spaceDir, "store.db"))
	if err != nil {
		return err
	}

	return store.Close()
}
