/*
scheduler.go - Scheduled overdue and missed sweeps

PURPOSE:
  The engine owns no goroutines. This scheduler is the external trigger
  that calls AutoCloser.Sweep and AutoCloser.SweepMissed on a cadence, and
  keeps a short history of runs for the admin API.

DESIGN:
  - gocron jobs in singleton mode: a slow sweep is never overlapped by the
    next tick of the same job
  - Manual sweeps from the admin API go through RunSweep/RunMissed so they
    show up in the same history
  - A sweep with nothing to do is a no-op and is still recorded

USAGE:
  sweeps := api.NewSweepScheduler(api.SweepSchedulerConfig{Closer: machine.AutoCloser(), ...})
  if err := sweeps.Start(); err != nil { ... }
  defer sweeps.Stop()

SEE ALSO:
  - shift/autocloser.go: the sweeps themselves
  - handlers.go: POST /api/admin/sweep, GET /api/admin/sweep/runs
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/warp/shift-engine/core"
	"github.com/warp/shift-engine/shift"
)

const (
	SweepOverdue = "overdue"
	SweepMissed  = "missed"

	defaultRunHistory = 50
)

// SweepRun records one sweep execution.
type SweepRun struct {
	Kind      string            `json:"kind"`
	Trigger   string            `json:"trigger"`
	StartedAt time.Time         `json:"started_at"`
	Duration  string            `json:"duration"`
	Result    shift.SweepResult `json:"result"`
	Error     string            `json:"error,omitempty"`
}

type SweepSchedulerConfig struct {
	Closer         *shift.AutoCloser
	Interval       time.Duration
	MissedInterval time.Duration
	Now            func() time.Time
	Logger         zerolog.Logger

	// History bounds the number of runs kept; zero means 50.
	History int
}

type SweepScheduler struct {
	cfg       SweepSchedulerConfig
	scheduler *gocron.Scheduler

	mu   sync.Mutex
	runs []SweepRun
}

func NewSweepScheduler(cfg SweepSchedulerConfig) *SweepScheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.History <= 0 {
		cfg.History = defaultRunHistory
	}
	return &SweepScheduler{
		cfg:       cfg,
		scheduler: gocron.NewScheduler(core.PlatformZone),
	}
}

// Start registers both jobs and runs the scheduler in the background.
func (s *SweepScheduler) Start() error {
	if s.cfg.Interval <= 0 || s.cfg.MissedInterval <= 0 {
		return fmt.Errorf("sweep intervals must be positive")
	}

	_, err := s.scheduler.Every(s.cfg.Interval).SingletonMode().Tag(SweepOverdue).Do(func() {
		s.RunSweep(context.Background(), "schedule")
	})
	if err != nil {
		return fmt.Errorf("scheduling overdue sweep: %w", err)
	}
	_, err = s.scheduler.Every(s.cfg.MissedInterval).SingletonMode().Tag(SweepMissed).Do(func() {
		s.RunMissed(context.Background(), "schedule")
	})
	if err != nil {
		return fmt.Errorf("scheduling missed sweep: %w", err)
	}

	s.scheduler.StartAsync()
	s.cfg.Logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("missed_interval", s.cfg.MissedInterval).
		Msg("sweep scheduler started")
	return nil
}

// Stop stops the scheduler; running jobs finish.
func (s *SweepScheduler) Stop() {
	s.scheduler.Stop()
	s.cfg.Logger.Info().Msg("sweep scheduler stopped")
}

// RunSweep closes overdue shifts now and records the run.
func (s *SweepScheduler) RunSweep(ctx context.Context, trigger string) SweepRun {
	return s.run(ctx, SweepOverdue, trigger, s.cfg.Closer.Sweep)
}

// RunMissed marks missed shifts now and records the run.
func (s *SweepScheduler) RunMissed(ctx context.Context, trigger string) SweepRun {
	return s.run(ctx, SweepMissed, trigger, s.cfg.Closer.SweepMissed)
}

func (s *SweepScheduler) run(ctx context.Context, kind, trigger string, sweep func(context.Context, time.Time) (shift.SweepResult, error)) SweepRun {
	started := s.cfg.Now()
	res, err := sweep(ctx, started)

	run := SweepRun{
		Kind:      kind,
		Trigger:   trigger,
		StartedAt: started,
		Duration:  s.cfg.Now().Sub(started).Round(time.Millisecond).String(),
		Result:    res,
	}
	if err != nil {
		run.Error = err.Error()
		s.cfg.Logger.Error().Err(err).Str("kind", kind).Msg("sweep failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	if len(s.runs) > s.cfg.History {
		s.runs = s.runs[len(s.runs)-s.cfg.History:]
	}
	return run
}

// Runs returns recorded runs, newest first.
func (s *SweepScheduler) Runs() []SweepRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]SweepRun, len(s.runs))
	for i, r := range s.runs {
		result[len(s.runs)-1-i] = r
	}
	return result
}
