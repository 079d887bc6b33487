package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/eargollo/assetindex/internal/config"
	"github.com/eargollo/assetindex/internal/scan"
	"github.com/eargollo/assetindex/internal/scheduler"
)

// ConfigHandler handles GET/PATCH /api/config. Changes apply to the running
// process only; config.yaml is not rewritten.
type ConfigHandler struct {
	Cfg     *config.Config
	Manager *scan.Manager
	Sched   *scheduler.Scheduler
	mu      sync.Mutex // guards Cfg mutations
}

// ConfigPatch describes the fields that can be updated at runtime.
// Only supplied (non-nil) fields are applied.
type ConfigPatch struct {
	Schedule   *string    `json:"schedule"`
	ScanPaused *bool      `json:"scan_paused"`
	Scan       *ScanPatch `json:"scan"`
}

// ScanPatch holds optional updates for scan tuning.
type ScanPatch struct {
	CheckpointEvery   *int    `json:"checkpoint_every"`
	PausePollInterval *string `json:"pause_poll_interval"`
	AllowNetwork      *bool   `json:"allow_network"`
}

// Get handles GET /api/config.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, h.Cfg)
}

// Apply validates the whole patch, then applies it to h.Cfg, the scheduler
// and the scan manager. Nothing is applied if any field is invalid.
func (h *ConfigHandler) Apply(patch ConfigPatch) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := *h.Cfg
	if patch.Schedule != nil {
		next.Schedule = *patch.Schedule
	}
	if patch.ScanPaused != nil {
		next.ScanPaused = *patch.ScanPaused
	}
	if patch.Scan != nil {
		if patch.Scan.CheckpointEvery != nil {
			next.Scan.CheckpointEvery = *patch.Scan.CheckpointEvery
		}
		if patch.Scan.PausePollInterval != nil {
			d, err := time.ParseDuration(*patch.Scan.PausePollInterval)
			if err != nil || d <= 0 {
				return fmt.Errorf("scan.pause_poll_interval: invalid duration %q", *patch.Scan.PausePollInterval)
			}
			next.Scan.PausePollInterval = d
		}
		if patch.Scan.AllowNetwork != nil {
			next.Scan.AllowNetwork = *patch.Scan.AllowNetwork
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}

	if h.Sched != nil {
		if next.Schedule != h.Cfg.Schedule {
			if err := h.Sched.SetScanSchedule(next.Schedule); err != nil {
				return err
			}
		}
		h.Sched.SetPaused(next.ScanPaused)
	}
	*h.Cfg = next

	if h.Manager != nil {
		h.Manager.UpdateConfig(ScanConfig(h.Cfg))
	}
	return nil
}

// ScanConfig derives the orchestrator tuning from cfg.
func ScanConfig(cfg *config.Config) scan.Config {
	return scan.Config{
		CheckpointEvery: cfg.Scan.CheckpointEvery,
		PollInterval:    cfg.Scan.PausePollInterval,
		LocalOnly:       !cfg.Scan.AllowNetwork,
	}
}

// Update handles PATCH /api/config.
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}

	if err := h.Apply(patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, h.Cfg)
}
