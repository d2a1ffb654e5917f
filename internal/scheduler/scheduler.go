// Package scheduler triggers dispatch cycles and cooldown sweeps on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ogulcanaydogan/Weather-Alert-Guardian/pkg/dispatch"
)

// Cycler runs one dispatch cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (*dispatch.Summary, error)
}

// Sweeper removes expired cooldown records.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Config holds the schedules. Specs accept standard cron fields and descriptors
// such as "@every 10m".
type Config struct {
	Schedule      string
	SweepSchedule string
	CycleTimeout  time.Duration
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cfg     Config
	cycler  Cycler
	sweeper Sweeper
	logger  *slog.Logger

	c     *cron.Cron
	cycle cron.Job
	sweep cron.Job
	ctx   context.Context
}

// New validates the schedules and wires the jobs. Nothing runs until Start.
func New(cfg Config, cycler Cycler, sweeper Sweeper, logger *slog.Logger) (*Scheduler, error) {
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 8 * time.Minute
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 30m"
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger}
	s := &Scheduler{
		cfg:     cfg,
		cycler:  cycler,
		sweeper: sweeper,
		logger:  logger,
		c:       cron.New(cron.WithParser(parser), cron.WithLogger(cl)),
		ctx:     context.Background(),
	}

	chain := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))
	s.cycle = chain.Then(cron.FuncJob(s.runCycle))
	s.sweep = chain.Then(cron.FuncJob(s.runSweep))

	if _, err := s.c.AddJob(cfg.Schedule, s.cycle); err != nil {
		return nil, fmt.Errorf("parse dispatch schedule %q: %w", cfg.Schedule, err)
	}
	if sweeper != nil {
		if _, err := s.c.AddJob(cfg.SweepSchedule, s.sweep); err != nil {
			return nil, fmt.Errorf("parse sweep schedule %q: %w", cfg.SweepSchedule, err)
		}
	}
	return s, nil
}

// Start begins firing jobs. Jobs derive their contexts from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.c.Start()
	s.logger.Info("scheduler started", "schedule", s.cfg.Schedule, "sweep_schedule", s.cfg.SweepSchedule)
}

// Stop prevents new runs and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runCycle() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CycleTimeout)
	defer cancel()

	_, err := s.cycler.RunCycle(ctx)
	switch {
	case errors.Is(err, dispatch.ErrCycleRunning):
		s.logger.Info("previous dispatch cycle still running, tick dropped")
	case err != nil:
		s.logger.Error("dispatch cycle failed", "error", err)
	}
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.Warn("cooldown sweep failed", "error", err)
	}
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
