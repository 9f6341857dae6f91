// Package scheduler owns the cron cadences: the nightly pipeline run, the
// provider syncs that precede it, the hourly DLQ replay, and the maintenance
// and backup windows. Jobs are small named wrappers around the services that
// do the work; a job failure is logged and never stops the scheduler.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one scheduled unit of work.
type Job interface {
	Run() error
	Name() string
}

// Entry describes one registered job and its cron timing. Prev and Next are
// zero until the scheduler has started.
type Entry struct {
	Name     string
	Schedule string
	Prev     time.Time
	Next     time.Time
}

type registration struct {
	id       cron.EntryID
	schedule string
	job      Job
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.RWMutex
	jobs []registration
}

// New creates a scheduler. Schedules use the six-field cron format with a
// leading seconds field; @every and @hourly descriptors also work.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins firing registered jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job on a cron schedule.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	id, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			s.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	})

	if err != nil {
		return err
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, registration{id: id, schedule: schedule, job: job})
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// Entries lists the registered jobs in registration order with their cron
// timing.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.jobs))
	for _, reg := range s.jobs {
		ce := s.cron.Entry(reg.id)
		entries = append(entries, Entry{
			Name:     reg.job.Name(),
			Schedule: reg.schedule,
			Prev:     ce.Prev,
			Next:     ce.Next,
		})
	}
	return entries
}

// Lookup finds a registered job by name.
func (s *Scheduler) Lookup(name string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, reg := range s.jobs {
		if reg.job.Name() == name {
			return reg.job, true
		}
	}
	return nil, false
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}
