package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/synctab/synctab/internal/catalog"
	"github.com/synctab/synctab/internal/history"
	"github.com/synctab/synctab/internal/model"
)

type CommanderConfig struct {
	Catalog    *catalog.Catalog
	Executor   *Executor
	Events     *Broadcaster
	History    history.Store
	CronActive bool
}

// Commander is the single entry point of the remote API. Jobs are
// referenced by id or by name.
type Commander struct {
	catalog   *catalog.Catalog
	executor  *Executor
	events    *Broadcaster
	history   history.Store
	cron      *Cron
	hostname  string
	startedAt time.Time

	shutdownOnce sync.Once
	done         chan struct{}
}

func NewCommander(cfg CommanderConfig) *Commander {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	c := &Commander{
		catalog:   cfg.Catalog,
		executor:  cfg.Executor,
		events:    cfg.Events,
		history:   cfg.History,
		hostname:  hostname,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	c.cron = NewCron(cfg.Catalog.Jobs, c.startByID, cfg.CronActive)
	return c
}

// Start starts the cron scheduler.
func (c *Commander) Start(ctx context.Context) error {
	return c.cron.Start(ctx)
}

// Cron exposes the scheduler, mainly to tick it in tests.
func (c *Commander) Cron() *Cron {
	return c.cron
}

func (c *Commander) Jobs() []model.Job {
	return c.catalog.Jobs()
}

func (c *Commander) Job(ref string) (model.Job, error) {
	return c.catalog.FindJob(ref)
}

func (c *Commander) PutJob(ctx context.Context, job model.Job) (model.Job, error) {
	job, err := c.catalog.PutJob(ctx, job)
	if err != nil {
		return model.Job{}, err
	}
	c.serverEvent(ctx, model.ServerCatalog, job.ID, "job "+job.Name+" saved")
	return job, nil
}

func (c *Commander) SetJobs(ctx context.Context, jobs []model.Job) error {
	if err := c.catalog.SetJobs(ctx, jobs); err != nil {
		return err
	}
	c.serverEvent(ctx, model.ServerCatalog, "", "jobs replaced")
	return nil
}

// DeleteJob removes a Job from the catalog. A running Job completes
// with its snapshot.
func (c *Commander) DeleteJob(ctx context.Context, ref string) error {
	job, err := c.catalog.FindJob(ref)
	if err != nil {
		return err
	}
	if err := c.catalog.DeleteJob(ctx, job.ID); err != nil {
		return err
	}
	c.serverEvent(ctx, model.ServerCatalog, job.ID, "job "+job.Name+" deleted")
	return nil
}

func (c *Commander) Tasks() []model.Task {
	return c.catalog.Tasks()
}

func (c *Commander) Task(id string) (model.Task, error) {
	return c.catalog.Task(id)
}

func (c *Commander) PutTask(ctx context.Context, task model.Task) (model.Task, error) {
	task, err := c.catalog.PutTask(ctx, task)
	if err != nil {
		return model.Task{}, err
	}
	c.serverEvent(ctx, model.ServerCatalog, "", "task "+task.Name+" saved")
	return task, nil
}

func (c *Commander) SetTasks(ctx context.Context, tasks []model.Task) error {
	if err := c.catalog.SetTasks(ctx, tasks); err != nil {
		return err
	}
	c.serverEvent(ctx, model.ServerCatalog, "", "tasks replaced")
	return nil
}

func (c *Commander) DeleteTask(ctx context.Context, id string) error {
	if err := c.catalog.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.serverEvent(ctx, model.ServerCatalog, "", "task "+id+" deleted")
	return nil
}

// StartJob starts a run of the Job in the background.
func (c *Commander) StartJob(ctx context.Context, ref string) (*Run, error) {
	job, err := c.catalog.FindJob(ref)
	if err != nil {
		return nil, err
	}
	tasks, err := c.catalog.JobTasks(job)
	if err != nil {
		return nil, err
	}
	return c.executor.Start(ctx, job, tasks)
}

func (c *Commander) startByID(ctx context.Context, id string) error {
	_, err := c.StartJob(ctx, id)
	return err
}

// StopJob cancels the active run of a Job.
func (c *Commander) StopJob(_ context.Context, ref string) error {
	id, err := c.runningID(ref)
	if err != nil {
		return err
	}
	return c.executor.Stop(id)
}

func (c *Commander) IsRunning(ref string) (bool, error) {
	id, err := c.runningID(ref)
	if err != nil {
		return false, err
	}
	return c.executor.IsRunning(id), nil
}

// runningID resolves ref, an id of a running Job is accepted after the
// Job was deleted.
func (c *Commander) runningID(ref string) (string, error) {
	if c.executor.IsRunning(ref) {
		return ref, nil
	}
	job, err := c.catalog.FindJob(ref)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func (c *Commander) SetCronActive(ctx context.Context, active bool) {
	c.cron.SetActive(active)
	slog.InfoContext(ctx, "cron toggled", "active", active)
	msg := "cron disabled"
	if active {
		msg = "cron enabled"
	}
	c.serverEvent(ctx, model.ServerCron, "", msg)
}

func (c *Commander) IsCronActive() bool {
	return c.cron.Active()
}

// RegisterClient adds an observer of all events.
func (c *Commander) RegisterClient(ctx context.Context, n Notifier, hostname string) {
	if c.events.Register(n, hostname) {
		slog.InfoContext(ctx, "client registered", "handle", n.String(), "hostname", hostname)
		c.serverEvent(ctx, model.ServerClientRegistered, "", n.String()+" on "+hostname)
	}
}

func (c *Commander) RemoveClient(ctx context.Context, n Notifier, hostname string) {
	if c.events.Unregister(n) {
		slog.InfoContext(ctx, "client removed", "handle", n.String(), "hostname", hostname)
		c.serverEvent(ctx, model.ServerClientRemoved, "", n.String()+" on "+hostname)
	}
}

func (c *Commander) Status() model.Status {
	return model.Status{
		Hostname:   c.hostname,
		StartedAt:  c.startedAt,
		CronActive: c.cron.Active(),
		Jobs:       len(c.catalog.Jobs()),
		Tasks:      len(c.catalog.Tasks()),
		Running:    c.executor.Running(),
		Clients:    c.events.Clients(),
	}
}

// History returns the run records of a Job (by id or name) or of a Task.
func (c *Commander) History(ctx context.Context, ref string) ([]model.RunRecord, error) {
	id := ref
	if job, err := c.catalog.FindJob(ref); err == nil {
		id = job.ID
	} else if _, terr := c.catalog.Task(ref); terr != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownJob, ref)
	}
	recs, err := c.history.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return recs, nil
}

// Shutdown cancels all runs, waits for them and stops the scheduler.
// Done is closed afterwards, later calls do nothing.
func (c *Commander) Shutdown(ctx context.Context) error {
	var err error
	c.shutdownOnce.Do(func() {
		slog.InfoContext(ctx, "shutting down")
		err = c.cron.Stop()
		c.executor.Close()
		c.serverEvent(ctx, model.ServerShutdown, "", "server on "+c.hostname+" is shutting down")
		close(c.done)
	})
	return err
}

// Done is closed when the shutdown is complete.
func (c *Commander) Done() <-chan struct{} {
	return c.done
}

func (c *Commander) serverEvent(ctx context.Context, kind model.ServerEventKind, jobID, msg string) {
	c.events.Publish(ctx, model.Notification{Server: &model.ServerEvent{
		Kind:       kind,
		Message:    msg,
		JobID:      jobID,
		CronActive: c.cron.Active(),
		Time:       time.Now(),
	}})
}
