package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/eargollo/assetindex/internal/api/handlers"
	"github.com/eargollo/assetindex/internal/config"
	"github.com/eargollo/assetindex/internal/db"
	"github.com/eargollo/assetindex/internal/history"
	"github.com/eargollo/assetindex/internal/index"
	"github.com/eargollo/assetindex/internal/library"
	"github.com/eargollo/assetindex/internal/scan"
	"github.com/eargollo/assetindex/internal/trash"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// app holds the wired components every subcommand works with.
type app struct {
	cfg     *config.Config
	db      *sql.DB
	trash   *trash.Manager
	ledger  *history.Ledger
	manager *scan.Manager
}

// openApp opens the database, applies migrations and builds the scan
// manager over the configured library. Call close when done.
func (c *commandContext) openApp() (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	store, err := index.NewStore(cfg.IndexDir)
	if err != nil {
		database.Close()
		return nil, err
	}

	trashMgr := trash.New(database, cfg.TrashDir, cfg.TrashRetentionDays)
	lib, err := library.New(library.Options{
		LocalPaths:   cfg.LocalPaths,
		CloudPaths:   cfg.CloudPaths,
		ExcludePaths: append([]string{cfg.TrashDir}, cfg.ExcludePaths...),
		Walkers:      cfg.Scan.Walkers,
		Trash:        trashMgr,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	ledger := history.New(database)
	mgr := scan.NewManager(lib, store, handlers.ScanConfig(cfg), scan.WithRecorder(ledger))

	return &app{
		cfg:     cfg,
		db:      database,
		trash:   trashMgr,
		ledger:  ledger,
		manager: mgr,
	}, nil
}

// markStale fails any scan rows left 'running' by a previous process.
// Only serve calls it: a one-off scan may share the database with a live
// server whose run is still in progress.
func (a *app) markStale() error {
	return history.MarkStale(a.db)
}

func (a *app) close() error {
	return a.db.Close()
}

// requireLibrary fails when no library folders are configured.
func (a *app) requireLibrary() error {
	if len(a.cfg.LocalPaths) == 0 && len(a.cfg.CloudPaths) == 0 {
		return errors.New("no library folders configured: set local_paths or cloud_paths")
	}
	return nil
}
