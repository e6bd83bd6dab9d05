// Package catalog owns the in-memory set of Jobs and Tasks and persists
// every change through a Store.
//
// Names of Jobs and Tasks are validated here, at mutation time: they must be
// non-empty and unique within their kind. Ids are assigned on creation and
// never change. All getters return deep copies, a running Job works on its
// own snapshot and is not affected by later catalog edits or removals.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/synctab/synctab/internal/model"
)

// JobValidator is an extra check of a Job, e.g. of its cron expression.
type JobValidator func(model.Job) error

type Catalog struct {
	store    Store
	validate JobValidator

	mx    sync.RWMutex
	jobs  []model.Job
	tasks []model.Task
}

func New(store Store, validate JobValidator) *Catalog {
	return &Catalog{store: store, validate: validate}
}

// Load replaces the in-memory content by the stored one. Entries without
// an id get one and the catalog is saved back in that case.
func (c *Catalog) Load(ctx context.Context) error {
	stored, err := c.store.Load(ctx)
	if err != nil {
		return err
	}

	var assigned bool
	for i := range stored.Jobs {
		if stored.Jobs[i].ID == "" {
			stored.Jobs[i].ID = uuid.NewString()
			assigned = true
		}
	}
	for i := range stored.Tasks {
		if stored.Tasks[i].ID == "" {
			stored.Tasks[i].ID = uuid.NewString()
			assigned = true
		}
	}

	if err := checkIDs(stored); err != nil {
		return err
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	if assigned {
		return c.commitLocked(ctx, stored.Jobs, stored.Tasks)
	}
	c.jobs = stored.Jobs
	c.tasks = stored.Tasks
	return nil
}

// commitLocked saves jobs and tasks and makes them the catalog content.
// The content is unchanged when saving fails.
func (c *Catalog) commitLocked(ctx context.Context, jobs []model.Job, tasks []model.Task) error {
	snapshot := model.Catalog{
		Jobs:  make([]model.Job, 0, len(jobs)),
		Tasks: make([]model.Task, 0, len(tasks)),
	}
	for _, j := range jobs {
		snapshot.Jobs = append(snapshot.Jobs, j.Clone())
	}
	for _, t := range tasks {
		snapshot.Tasks = append(snapshot.Tasks, t.Clone())
	}
	if err := c.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("saving catalog: %w", err)
	}
	c.jobs = jobs
	c.tasks = tasks
	return nil
}

// checkIDs rejects stored entries the history cannot be kept for.
func checkIDs(stored model.Catalog) error {
	for _, j := range stored.Jobs {
		if err := checkID(j.ID); err != nil {
			return fmt.Errorf("%w: job %q: %w", model.ErrInvalidJob, j.Name, err)
		}
	}
	for _, t := range stored.Tasks {
		if err := checkID(t.ID); err != nil {
			return fmt.Errorf("%w: task %q: %w", model.ErrInvalidTask, t.Name, err)
		}
	}
	return nil
}

// checkID accepts non-empty ids without whitespace, history lines are
// keyed by the first word.
func checkID(id string) error {
	if id == "" {
		return errors.New("id is empty")
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return fmt.Errorf("id %q contains whitespace", id)
	}
	return nil
}

// --- Jobs ---

func (c *Catalog) Jobs() []model.Job {
	c.mx.RLock()
	defer c.mx.RUnlock()
	ret := make([]model.Job, 0, len(c.jobs))
	for _, j := range c.jobs {
		ret = append(ret, j.Clone())
	}
	return ret
}

func (c *Catalog) Job(id string) (model.Job, error) {
	c.mx.RLock()
	defer c.mx.RUnlock()
	idx := c.jobIndex(id)
	if idx < 0 {
		return model.Job{}, fmt.Errorf("%w: %s", model.ErrUnknownJob, id)
	}
	return c.jobs[idx].Clone(), nil
}

// FindJob looks a Job up by id first, then by name.
func (c *Catalog) FindJob(ref string) (model.Job, error) {
	c.mx.RLock()
	defer c.mx.RUnlock()
	idx := c.jobIndex(ref)
	if idx < 0 {
		idx = slices.IndexFunc(c.jobs, func(j model.Job) bool { return j.Name == ref })
	}
	if idx < 0 {
		return model.Job{}, fmt.Errorf("%w: %s", model.ErrUnknownJob, ref)
	}
	return c.jobs[idx].Clone(), nil
}

func (c *Catalog) jobIndex(id string) int {
	return slices.IndexFunc(c.jobs, func(j model.Job) bool { return j.ID == id })
}

// PutJob creates a Job when its id is empty or unknown and replaces the
// existing one otherwise. The last-run fields of an existing Job are kept.
func (c *Catalog) PutJob(ctx context.Context, job model.Job) (model.Job, error) {
	job = job.Clone()
	job.Name = strings.TrimSpace(job.Name)
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	idx := c.jobIndex(job.ID)
	if err := c.checkJob(job, c.jobs); err != nil {
		return model.Job{}, err
	}
	jobs := slices.Clone(c.jobs)
	if idx < 0 {
		jobs = append(jobs, job)
	} else {
		old := jobs[idx]
		job.LastRun, job.LastExitCode = old.LastRun, old.LastExitCode
		if job.History == "" {
			job.History = old.History
		}
		jobs[idx] = job
	}
	if err := c.commitLocked(ctx, jobs, c.tasks); err != nil {
		return model.Job{}, err
	}
	return job.Clone(), nil
}

// SetJobs replaces all Jobs at once.
func (c *Catalog) SetJobs(ctx context.Context, jobs []model.Job) error {
	next := make([]model.Job, 0, len(jobs))
	for _, j := range jobs {
		j = j.Clone()
		j.Name = strings.TrimSpace(j.Name)
		if j.ID == "" {
			j.ID = uuid.NewString()
		}
		if slices.ContainsFunc(next, func(o model.Job) bool { return o.ID == j.ID }) {
			return fmt.Errorf("%w: id %q used twice", model.ErrInvalidJob, j.ID)
		}
		if err := c.checkJob(j, next); err != nil {
			return err
		}
		next = append(next, j)
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	return c.commitLocked(ctx, next, c.tasks)
}

func (c *Catalog) DeleteJob(ctx context.Context, id string) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	idx := c.jobIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", model.ErrUnknownJob, id)
	}
	jobs := slices.Delete(slices.Clone(c.jobs), idx, idx+1)
	return c.commitLocked(ctx, jobs, c.tasks)
}

func (c *Catalog) checkJob(job model.Job, others []model.Job) error {
	if err := checkID(job.ID); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidJob, err)
	}
	if job.Name == "" {
		return fmt.Errorf("%w: name is empty", model.ErrInvalidJob)
	}
	for _, o := range others {
		if o.ID != job.ID && o.Name == job.Name {
			return fmt.Errorf("%w: name %q already used", model.ErrInvalidJob, job.Name)
		}
	}
	if !job.LogMode.Valid() {
		return fmt.Errorf("%w: log mode %q", model.ErrInvalidJob, job.LogMode)
	}
	if c.validate != nil {
		if err := c.validate(job); err != nil {
			return fmt.Errorf("%w: %w", model.ErrInvalidJob, err)
		}
	}
	return nil
}

// RecordJobRun stores the outcome of a finished run. A Job deleted
// while it was running reports ErrUnknownJob.
func (c *Catalog) RecordJobRun(ctx context.Context, id string, at time.Time, exitCode int, line string) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	idx := c.jobIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", model.ErrUnknownJob, id)
	}
	jobs := slices.Clone(c.jobs)
	job := jobs[idx].Clone()
	job.LastRun = &at
	job.LastExitCode = &exitCode
	job.History = appendLine(job.History, line)
	jobs[idx] = job
	return c.commitLocked(ctx, jobs, c.tasks)
}

// --- Tasks ---

func (c *Catalog) Tasks() []model.Task {
	c.mx.RLock()
	defer c.mx.RUnlock()
	ret := make([]model.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		ret = append(ret, t.Clone())
	}
	return ret
}

func (c *Catalog) Task(id string) (model.Task, error) {
	c.mx.RLock()
	defer c.mx.RUnlock()
	idx := c.taskIndex(id)
	if idx < 0 {
		return model.Task{}, fmt.Errorf("%w: %s", model.ErrUnknownTask, id)
	}
	return c.tasks[idx].Clone(), nil
}

func (c *Catalog) taskIndex(id string) int {
	return slices.IndexFunc(c.tasks, func(t model.Task) bool { return t.ID == id })
}

// JobTasks resolves the Tasks of a Job in their run order.
func (c *Catalog) JobTasks(job model.Job) ([]model.Task, error) {
	c.mx.RLock()
	defer c.mx.RUnlock()
	ret := make([]model.Task, 0, len(job.TaskIDs))
	for _, id := range job.TaskIDs {
		idx := c.taskIndex(id)
		if idx < 0 {
			return nil, fmt.Errorf("job %s: %w: %s", job.Name, model.ErrUnknownTask, id)
		}
		ret = append(ret, c.tasks[idx].Clone())
	}
	return ret, nil
}

func (c *Catalog) PutTask(ctx context.Context, task model.Task) (model.Task, error) {
	task = task.Clone()
	task.Name = strings.TrimSpace(task.Name)
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	if err := checkTask(task, c.tasks); err != nil {
		return model.Task{}, err
	}
	tasks := slices.Clone(c.tasks)
	if idx := c.taskIndex(task.ID); idx < 0 {
		tasks = append(tasks, task)
	} else {
		if task.History == "" {
			task.History = tasks[idx].History
		}
		tasks[idx] = task
	}
	if err := c.commitLocked(ctx, c.jobs, tasks); err != nil {
		return model.Task{}, err
	}
	return task.Clone(), nil
}

func (c *Catalog) SetTasks(ctx context.Context, tasks []model.Task) error {
	next := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		t = t.Clone()
		t.Name = strings.TrimSpace(t.Name)
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if slices.ContainsFunc(next, func(o model.Task) bool { return o.ID == t.ID }) {
			return fmt.Errorf("%w: id %q used twice", model.ErrInvalidTask, t.ID)
		}
		if err := checkTask(t, next); err != nil {
			return err
		}
		next = append(next, t)
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	return c.commitLocked(ctx, c.jobs, next)
}

// DeleteTask removes a Task and its references from all Jobs.
func (c *Catalog) DeleteTask(ctx context.Context, id string) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	idx := c.taskIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", model.ErrUnknownTask, id)
	}
	tasks := slices.Delete(slices.Clone(c.tasks), idx, idx+1)
	jobs := make([]model.Job, len(c.jobs))
	for i, j := range c.jobs {
		if slices.Contains(j.TaskIDs, id) {
			j = j.Clone()
			j.TaskIDs = slices.DeleteFunc(j.TaskIDs, func(tid string) bool { return tid == id })
		}
		jobs[i] = j
	}
	return c.commitLocked(ctx, jobs, tasks)
}

func checkTask(task model.Task, others []model.Task) error {
	if err := checkID(task.ID); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidTask, err)
	}
	if task.Name == "" {
		return fmt.Errorf("%w: name is empty", model.ErrInvalidTask)
	}
	for _, o := range others {
		if o.ID != task.ID && o.Name == task.Name {
			return fmt.Errorf("%w: name %q already used", model.ErrInvalidTask, task.Name)
		}
	}
	return nil
}

func (c *Catalog) RecordTaskRun(ctx context.Context, id string, line string) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	idx := c.taskIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", model.ErrUnknownTask, id)
	}
	tasks := slices.Clone(c.tasks)
	tasks[idx] = tasks[idx].Clone()
	tasks[idx].History = appendLine(tasks[idx].History, line)
	return c.commitLocked(ctx, c.jobs, tasks)
}

// maxHistoryLines bounds the free-text history kept in the catalog,
// the history store has all of it.
const maxHistoryLines = 100

func appendLine(history, line string) string {
	lines := strings.Split(strings.TrimRight(history, "\n"), "\n")
	if history == "" {
		lines = lines[:0]
	}
	lines = append(lines, line)
	if len(lines) > maxHistoryLines {
		lines = lines[len(lines)-maxHistoryLines:]
	}
	return strings.Join(lines, "\n") + "\n"
}
