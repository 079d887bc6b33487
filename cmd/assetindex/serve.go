package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eargollo/assetindex/internal/api"
	"github.com/eargollo/assetindex/internal/scheduler"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scan scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.markStale(); err != nil {
				slog.Warn("mark stale scans", "error", err)
			}

			slog.Info("assetindex starting",
				"version", version,
				"log_level", a.cfg.LogLevel,
				"http_addr", a.cfg.HTTPAddr,
				"db_path", a.cfg.DBPath,
				"index_dir", a.cfg.IndexDir,
				"local_paths", a.cfg.LocalPaths,
				"cloud_paths", a.cfg.CloudPaths)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := scheduler.New(runCtx, a.manager, a.trash)
			if a.cfg.Schedule != "" {
				if err := sched.SetScanSchedule(a.cfg.Schedule); err != nil {
					slog.Warn("invalid cron expression", "expr", a.cfg.Schedule, "error", err)
				}
			}
			sched.SetPaused(a.cfg.ScanPaused)
			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()

			srv := api.New(a.cfg.HTTPAddr, api.Deps{
				DB:      a.db,
				Cfg:     a.cfg,
				Manager: a.manager,
				Trash:   a.trash,
				History: a.ledger,
				Sched:   sched,
				Version: version,
			})
			err = srv.Run(runCtx)

			// Let an in-flight scan write its final checkpoint.
			if _, cerr := a.manager.Cancel(); cerr == nil {
				a.manager.Wait()
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			slog.Info("assetindex stopped")
			return nil
		},
	}
}
