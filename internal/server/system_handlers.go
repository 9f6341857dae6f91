package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/meridian/internal/clients/guard"
	"github.com/aristath/meridian/internal/database"
	"github.com/aristath/meridian/internal/modules/alerts"
	"github.com/aristath/meridian/internal/scheduler"
)

// SystemHandlers serves the operational endpoints: host health, breaker
// states, database statistics, and the scheduler roster.
type SystemHandlers struct {
	dataDir     string
	databases   map[string]*database.DB
	guards      []*guard.Guard
	alertRepo   *alerts.Repository
	scheduler   *scheduler.Scheduler
	startupTime time.Time
	log         zerolog.Logger
}

// NewSystemHandlers creates the system handlers.
func NewSystemHandlers(dataDir string, databases map[string]*database.DB, guards []*guard.Guard, alertRepo *alerts.Repository, sched *scheduler.Scheduler, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		dataDir:     dataDir,
		databases:   databases,
		guards:      guards,
		alertRepo:   alertRepo,
		scheduler:   sched,
		startupTime: time.Now(),
		log:         log.With().Str("component", "system_handlers").Logger(),
	}
}

// SystemStatusResponse reports host and provider health in one shot.
type SystemStatusResponse struct {
	Status        string            `json:"status"` // "healthy" or "degraded"
	UptimeHours   float64           `json:"uptime_hours"`
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryPercent float64           `json:"memory_percent"`
	DiskFreeGB    float64           `json:"disk_free_gb"`
	Breakers      map[string]string `json:"breakers"`
	DeadLetters   int               `json:"dead_letters"`
	Timestamp     string            `json:"timestamp"`
}

// HandleSystemStatus returns host metrics, per-provider breaker states, and
// the dead letter queue depth. Any open breaker marks the system degraded.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeHours:   time.Since(h.startupTime).Hours(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Breakers:      make(map[string]string, len(h.guards)),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	if usage, err := disk.Usage(h.dataDir); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		response.DiskFreeGB = float64(usage.Free) / 1e9
	}

	for _, g := range h.guards {
		state := g.State()
		response.Breakers[g.Name()] = state
		if state == "open" {
			response.Status = "degraded"
		}
	}

	if pending, err := h.alertRepo.CountPending(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to count dead letters")
	} else {
		response.DeadLetters = pending
	}

	h.writeJSON(w, http.StatusOK, response)
}

// DatabaseStatsResponse lists per-database statistics.
type DatabaseStatsResponse struct {
	Databases   []DBInfo `json:"databases"`
	TotalSizeMB float64  `json:"total_size_mb"`
	LastChecked string   `json:"last_checked"`
}

// DBInfo describes one database file.
type DBInfo struct {
	Name          string  `json:"name"`
	SizeMB        float64 `json:"size_mb"`
	WALSizeMB     float64 `json:"wal_size_mb"`
	PageCount     int64   `json:"page_count"`
	FreelistPages int64   `json:"freelist_pages"`
}

// HandleDatabaseStats returns size and page statistics for every store.
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	response := DatabaseStatsResponse{
		Databases:   make([]DBInfo, 0, len(names)),
		LastChecked: time.Now().UTC().Format(time.RFC3339),
	}

	for _, name := range names {
		stats, err := h.databases[name].GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Failed to get database stats")
			continue
		}

		sizeMB := float64(stats.SizeBytes) / 1024 / 1024
		response.Databases = append(response.Databases, DBInfo{
			Name:          name,
			SizeMB:        sizeMB,
			WALSizeMB:     float64(stats.WALSizeBytes) / 1024 / 1024,
			PageCount:     stats.PageCount,
			FreelistPages: stats.FreelistCount,
		})
		response.TotalSizeMB += sizeMB
	}

	h.writeJSON(w, http.StatusOK, response)
}

// JobsResponse lists the scheduler roster.
type JobsResponse struct {
	Jobs []JobInfo `json:"jobs"`
}

// JobInfo describes one scheduled job. Run times are empty until the
// scheduler has started.
type JobInfo struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	PrevRun  string `json:"prev_run,omitempty"`
	NextRun  string `json:"next_run,omitempty"`
}

// HandleListJobs returns every registered job with its schedule and cron
// timing.
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	entries := h.scheduler.Entries()

	response := JobsResponse{Jobs: make([]JobInfo, 0, len(entries))}
	for _, e := range entries {
		info := JobInfo{Name: e.Name, Schedule: e.Schedule}
		if !e.Prev.IsZero() {
			info.PrevRun = e.Prev.UTC().Format(time.RFC3339)
		}
		if !e.Next.IsZero() {
			info.NextRun = e.Next.UTC().Format(time.RFC3339)
		}
		response.Jobs = append(response.Jobs, info)
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleTriggerJob starts a registered job outside its schedule. The job
// runs in the background; its outcome lands in the logs and the event
// stream the same way a scheduled run's does.
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	job, ok := h.scheduler.Lookup(name)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("unknown job %q", name),
		})
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job trigger")
	go func() {
		if err := h.scheduler.RunNow(job); err != nil {
			h.log.Error().Err(err).Str("job", name).Msg("Triggered job failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"job":    name,
	})
}

// getSystemStats samples CPU and RAM usage. The 100ms CPU window keeps the
// endpoint responsive for pollers with short timeouts.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
