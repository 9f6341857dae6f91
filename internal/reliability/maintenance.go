package reliability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/meridian/internal/database"
	"github.com/aristath/meridian/internal/modules/factors"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/utils"
)

// DailyMaintenanceJob checkpoints WAL files, purges expired calc cache
// entries, checks disk headroom, and logs per-store size stats.
type DailyMaintenanceJob struct {
	databases map[string]*database.DB
	cache     *factors.Cache
	dataDir   string
	log       zerolog.Logger
}

// NewDailyMaintenanceJob creates the daily maintenance job.
func NewDailyMaintenanceJob(databases map[string]*database.DB, cache *factors.Cache, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		databases: databases,
		cache:     cache,
		dataDir:   dataDir,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name implements the scheduler Job interface.
func (j *DailyMaintenanceJob) Name() string { return "daily_maintenance" }

// Run executes the daily maintenance pass. Checkpoint failures are logged
// and skipped; only exhausted disk space halts.
func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	for _, name := range sortedNames(j.databases) {
		j.log.Debug().Str("database", name).Msg("Running WAL checkpoint")

		if err := j.databases[name].WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().
				Str("database", name).
				Err(err).
				Msg("WAL checkpoint failed")
		}
	}

	if purged, err := j.cache.PurgeExpired(); err != nil {
		j.log.Warn().Err(err).Msg("Calc cache purge failed")
	} else if purged > 0 {
		j.log.Info().Int64("purged", purged).Msg("Expired calc cache entries removed")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.logDatabaseStats()

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed")

	return nil
}

// checkDiskSpace verifies the data directory's filesystem has headroom.
func (j *DailyMaintenanceJob) checkDiskSpace() error {
	usage, err := disk.Usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableGB := float64(usage.Free) / 1e9

	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if availableGB < 0.5 {
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("CRITICAL: only %.2f GB free", availableGB)
	}

	if availableGB < 5.0 {
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("Low disk space - consider cleanup")
	} else if availableGB < 10.0 {
		j.log.Warn().
			Float64("available_gb", availableGB).
			Msg("Disk space running low")
	}

	return nil
}

// logDatabaseStats records per-store sizes so growth shows up in the logs
// before it shows up as a problem.
func (j *DailyMaintenanceJob) logDatabaseStats() {
	for _, name := range sortedNames(j.databases) {
		stats, err := j.databases[name].GetStats()
		if err != nil {
			j.log.Error().
				Str("database", name).
				Err(err).
				Msg("Failed to get stats")
			continue
		}

		j.log.Info().
			Str("database", name).
			Float64("size_mb", float64(stats.SizeBytes)/1024/1024).
			Float64("wal_size_mb", float64(stats.WALSizeBytes)/1024/1024).
			Int64("freelist_pages", stats.FreelistCount).
			Msg("Database stats")
	}
}

// WeeklyMaintenanceJob runs the deep pass: integrity checks, VACUUM, and
// content-hash verification of every policy's current pack. A pack whose
// stored rows no longer hash to its recorded content hash is parked in
// error so the freshness gate stops serving it.
type WeeklyMaintenanceJob struct {
	databases map[string]*database.DB
	packs     *packs.Repository
	policies  []string
	log       zerolog.Logger
}

// NewWeeklyMaintenanceJob creates the weekly maintenance job.
func NewWeeklyMaintenanceJob(
	databases map[string]*database.DB,
	packRepo *packs.Repository,
	policies []string,
	log zerolog.Logger,
) *WeeklyMaintenanceJob {
	return &WeeklyMaintenanceJob{
		databases: databases,
		packs:     packRepo,
		policies:  policies,
		log:       log.With().Str("job", "weekly_maintenance").Logger(),
	}
}

// Name implements the scheduler Job interface.
func (j *WeeklyMaintenanceJob) Name() string { return "weekly_maintenance" }

// Run executes the weekly maintenance pass. Vacuum failures are logged and
// skipped; integrity failures and pack hash mismatches are collected and
// returned so the scheduler log carries them.
func (j *WeeklyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting weekly maintenance")
	startTime := time.Now()

	var problems []string

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, name := range sortedNames(j.databases) {
		if err := j.databases[name].HealthCheck(ctx); err != nil {
			j.log.Error().
				Str("database", name).
				Err(err).
				Msg("Integrity check failed")
			problems = append(problems, fmt.Sprintf("%s integrity: %v", name, err))
		}
	}

	for _, name := range sortedNames(j.databases) {
		if err := j.vacuumDatabase(name); err != nil {
			j.log.Error().
				Str("database", name).
				Err(err).
				Msg("VACUUM failed")
		}
	}

	problems = append(problems, j.verifyPackHashes()...)

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Int("problems", len(problems)).
		Msg("Weekly maintenance completed")

	if len(problems) > 0 {
		return fmt.Errorf("weekly maintenance found problems: %s", strings.Join(problems, "; "))
	}
	return nil
}

// vacuumDatabase runs VACUUM and logs the space it reclaimed.
func (j *WeeklyMaintenanceJob) vacuumDatabase(name string) error {
	db := j.databases[name]

	j.log.Debug().Str("database", name).Msg("Starting VACUUM")

	before, err := db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get stats before vacuum: %w", err)
	}

	timer := utils.NewTimer("vacuum_"+name, j.log)
	if err := db.Vacuum(); err != nil {
		return err
	}
	duration := timer.Stop()

	after, err := db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get stats after vacuum: %w", err)
	}

	sizeBefore := float64(before.PageCount*before.PageSize) / 1024 / 1024
	sizeAfter := float64(after.PageCount*after.PageSize) / 1024 / 1024

	j.log.Info().
		Str("database", name).
		Dur("duration_ms", duration).
		Float64("size_before_mb", sizeBefore).
		Float64("size_after_mb", sizeAfter).
		Float64("space_reclaimed_mb", sizeBefore-sizeAfter).
		Msg("VACUUM completed")

	return nil
}

// verifyPackHashes recomputes the content hash of each policy's current pack
// from its stored rows and parks any pack that no longer matches.
func (j *WeeklyMaintenanceJob) verifyPackHashes() []string {
	var problems []string

	for _, policy := range j.policies {
		pack, err := j.packs.GetLatestCurrent(policy)
		if err != nil {
			j.log.Error().
				Str("policy", policy).
				Err(err).
				Msg("Failed to load current pack")
			problems = append(problems, fmt.Sprintf("policy %s: %v", policy, err))
			continue
		}
		if pack == nil {
			j.log.Debug().Str("policy", policy).Msg("No current pack, skipping")
			continue
		}

		prices, err := j.packs.GetPrices(pack.ID)
		if err != nil {
			problems = append(problems, fmt.Sprintf("pack %s prices: %v", pack.ID, err))
			continue
		}
		rates, err := j.packs.GetFXRates(pack.ID)
		if err != nil {
			problems = append(problems, fmt.Sprintf("pack %s fx rates: %v", pack.ID, err))
			continue
		}

		computed := packs.ContentHash(prices, rates)
		if computed == pack.Hash {
			j.log.Debug().
				Str("pack_id", pack.ID).
				Str("policy", policy).
				Msg("Pack hash verified")
			continue
		}

		j.log.Error().
			Str("pack_id", pack.ID).
			Str("policy", policy).
			Str("stored_hash", pack.Hash).
			Str("computed_hash", computed).
			Msg("Pack content hash mismatch, parking pack")

		if err := j.packs.SetStatusError(pack.ID); err != nil {
			j.log.Error().
				Str("pack_id", pack.ID).
				Err(err).
				Msg("Failed to park corrupt pack")
		}
		problems = append(problems, fmt.Sprintf("pack %s: content hash mismatch", pack.ID))
	}

	return problems
}

func sortedNames(databases map[string]*database.DB) []string {
	names := make([]string, 0, len(databases))
	for name := range databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
