package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eargollo/assetindex/internal/api/handlers"
	"github.com/eargollo/assetindex/internal/config"
	"github.com/eargollo/assetindex/internal/history"
	"github.com/eargollo/assetindex/internal/scan"
	"github.com/eargollo/assetindex/internal/scheduler"
	"github.com/eargollo/assetindex/internal/trash"
)

// Deps are the components the HTTP surface serves.
type Deps struct {
	DB      *sql.DB
	Cfg     *config.Config
	Manager *scan.Manager
	Trash   *trash.Manager
	History *history.Ledger
	Sched   *scheduler.Scheduler
	Version string
}

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(addr string, d Deps) *Server {
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: Router(d)},
	}
}

// Router builds the chi router for d.
func Router(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{Manager: d.Manager, Sched: d.Sched, Version: d.Version}
	scansH := &handlers.ScansHandler{Manager: d.Manager, History: d.History}
	groupsH := &handlers.GroupsHandler{Manager: d.Manager}
	statsH := &handlers.StatsHandler{DB: d.DB, Manager: d.Manager}
	configH := &handlers.ConfigHandler{Cfg: d.Cfg, Manager: d.Manager, Sched: d.Sched}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/scans", scansH.Create)
		r.Get("/scans", scansH.List)
		r.Post("/scans/current/pause", scansH.Pause)
		r.Post("/scans/current/resume", scansH.Resume)
		r.Delete("/scans/current", scansH.Cancel)

		r.Get("/groups", groupsH.List)
		r.Post("/groups/delete-all", groupsH.DeleteAll)
		r.Get("/groups/{fingerprint}", groupsH.Get)
		r.Post("/groups/{fingerprint}/delete", groupsH.Delete)

		if d.Trash != nil {
			trashH := &handlers.TrashHandler{Trash: d.Trash}
			r.Get("/trash", trashH.List)
			r.Post("/trash/{id}/restore", trashH.Restore)
			r.Delete("/trash", trashH.PurgeAll)
		}

		r.Get("/stats", statsH.ServeHTTP)

		if d.Cfg != nil {
			r.Get("/config", configH.Get)
			r.Patch("/config", configH.Update)
		}
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
