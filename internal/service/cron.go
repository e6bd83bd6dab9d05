package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"github.com/synctab/synctab/internal/model"
)

// everyMinute is the tick of the scheduler, Job expressions are matched
// at minute granularity.
const everyMinute = "* * * * *"

// ValidateCron checks the cron expression of a Job, an empty one means
// the Job is never scheduled.
func ValidateCron(job model.Job) error {
	if job.Cron == "" {
		return nil
	}
	if _, err := model.ParseCron(job.Cron); err != nil {
		return fmt.Errorf("parsing cron %q: %w", job.Cron, err)
	}
	return nil
}

// StartFunc starts a Job by its id.
type StartFunc func(ctx context.Context, jobID string) error

// Cron starts the Jobs whose cron expression matches the current minute.
// Missed minutes are not caught up.
type Cron struct {
	jobs  func() []model.Job
	start StartFunc

	active atomic.Bool

	mx        sync.Mutex
	schedules map[string]cron.Schedule
	fired     map[string]time.Time
	scheduler gocron.Scheduler
}

func NewCron(jobs func() []model.Job, start StartFunc, active bool) *Cron {
	c := &Cron{
		jobs:      jobs,
		start:     start,
		schedules: make(map[string]cron.Schedule),
		fired:     make(map[string]time.Time),
	}
	c.active.Store(active)
	return c
}

// SetActive enables or disables scheduling process-wide. Running Jobs
// are not affected.
func (c *Cron) SetActive(active bool) {
	c.active.Store(active)
}

func (c *Cron) Active() bool {
	return c.active.Load()
}

// Start ticks the scheduler at the start of every minute until Stop.
func (c *Cron) Start(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.scheduler != nil {
		return errors.New("cron already started")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.CronJob(everyMinute, false),
		gocron.NewTask(func() {
			c.Tick(ctx, time.Now())
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("initializing gocron job: %w", err)
	}
	s.Start()
	c.scheduler = s
	slog.DebugContext(ctx, "cron started", "active", c.Active())
	return nil
}

func (c *Cron) Stop() error {
	c.mx.Lock()
	s := c.scheduler
	c.scheduler = nil
	c.mx.Unlock()
	if s == nil {
		return nil
	}
	if err := s.Shutdown(); err != nil {
		return fmt.Errorf("shutting down gocron: %w", err)
	}
	return nil
}

// Tick starts every due Job for the minute of now and returns their ids.
// A Job is started at most once per minute.
func (c *Cron) Tick(ctx context.Context, now time.Time) []string {
	if !c.Active() {
		return nil
	}
	minute := now.Truncate(time.Minute)

	var due []string
	c.mx.Lock()
	for _, job := range c.jobs() {
		if !job.CronActive || job.Cron == "" {
			continue
		}
		schedule, err := c.schedule(job.Cron)
		if err != nil {
			slog.WarnContext(ctx, "invalid cron expression: ignoring", "job_id", job.ID, "cron", job.Cron, "error", err)
			continue
		}
		if !model.CronMatches(schedule, minute) || c.fired[job.ID].Equal(minute) {
			continue
		}
		c.fired[job.ID] = minute
		due = append(due, job.ID)
	}
	c.mx.Unlock()

	var started []string
	for _, id := range due {
		err := c.start(ctx, id)
		switch {
		case errors.Is(err, model.ErrAlreadyRunning):
			slog.InfoContext(ctx, "scheduled job still running: skipping", "job_id", id)
		case err != nil:
			slog.ErrorContext(ctx, "starting scheduled job", "job_id", id, "error", err)
		default:
			started = append(started, id)
		}
	}
	return started
}

// schedule parses expr once, c.mx must be held
func (c *Cron) schedule(expr string) (cron.Schedule, error) {
	if s, ok := c.schedules[expr]; ok {
		return s, nil
	}
	s, err := model.ParseCron(expr)
	if err != nil {
		return nil, err
	}
	c.schedules[expr] = s
	return s, nil
}
