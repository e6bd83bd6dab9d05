package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/synctab/synctab/internal/cmdline"
	"github.com/synctab/synctab/internal/history"
	"github.com/synctab/synctab/internal/log"
	"github.com/synctab/synctab/internal/model"
)

// ArgsBuilder turns a Task into the argv of the sync tool.
type ArgsBuilder interface {
	Args(task model.Task) ([]string, error)
}

// Publisher receives the events of all runs. Events of one run are
// published sequentially.
type Publisher interface {
	Publish(ctx context.Context, n model.Notification)
}

// RunRecorder stores the outcome of runs in the catalog.
type RunRecorder interface {
	RecordJobRun(ctx context.Context, id string, at time.Time, exitCode int, line string) error
	RecordTaskRun(ctx context.Context, id string, line string) error
}

type ExecutorConfig struct {
	Runner   ProcessRunner
	Args     ArgsBuilder
	History  history.Store
	Recorder RunRecorder
	Events   Publisher
	Logs     RunLogs
}

// Executor runs Jobs, at most one run per Job id at a time.
type Executor struct {
	cfg ExecutorConfig

	mx      sync.Mutex
	running map[string]*Run
	closed  bool
	wg      sync.WaitGroup
}

var ErrShuttingDown = errors.New("server is shutting down")

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Runner == nil {
		cfg.Runner = NewRunner()
	}
	if cfg.Args == nil {
		cfg.Args = cmdline.Rsync{}
	}
	return &Executor{
		cfg:     cfg,
		running: make(map[string]*Run),
	}
}

// Run is one execution of a Job. It works on a snapshot of the Job and
// its Tasks taken at start.
type Run struct {
	id      string
	job     model.Job
	tasks   []model.Task
	started time.Time
	procCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	emitMx sync.Mutex
	log    io.Writer

	mx       sync.Mutex
	state    model.RunState
	taskID   string
	exitCode int
}

func (r *Run) ID() string {
	return r.id
}

func (r *Run) Job() model.Job {
	return r.job.Clone()
}

// Done is closed after the final event of the run was published.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends and returns its terminal state and exit code.
func (r *Run) Wait() (model.RunState, int) {
	<-r.done
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.state, r.exitCode
}

func (r *Run) Status() model.RunStatus {
	r.mx.Lock()
	defer r.mx.Unlock()
	return model.RunStatus{
		RunID:   r.id,
		JobID:   r.job.ID,
		JobName: r.job.Name,
		State:   r.state,
		TaskID:  r.taskID,
		Started: r.started,
	}
}

func (r *Run) setState(state model.RunState, taskID string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.state = state
	r.taskID = taskID
}

// Start begins a run of job in the background. It fails with
// model.ErrAlreadyRunning if the Job is running. The run outlives ctx,
// it ends by itself or by Stop.
func (e *Executor) Start(ctx context.Context, job model.Job, tasks []model.Task) (*Run, error) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.closed {
		return nil, ErrShuttingDown
	}
	if _, ok := e.running[job.ID]; ok {
		return nil, fmt.Errorf("%w: %s", model.ErrAlreadyRunning, job.Name)
	}

	id := xid.New().String()
	ctx = log.ContextAttrs(context.WithoutCancel(ctx),
		slog.String("run_id", id),
		slog.String("job_id", job.ID),
	)
	procCtx, cancel := context.WithCancel(ctx)

	r := &Run{
		id:      id,
		job:     job.Clone(),
		tasks:   make([]model.Task, 0, len(tasks)),
		started: time.Now(),
		procCtx: procCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, t := range tasks {
		r.tasks = append(r.tasks, t.Clone())
	}
	// the first stage is reported before the run goroutine enters it
	r.state = model.StateRunningTasks
	if job.Pre.Active() {
		r.state = model.StateRunningPre
	} else if len(r.tasks) > 0 {
		r.taskID = r.tasks[0].ID
	}
	e.running[job.ID] = r
	e.wg.Go(func() {
		e.run(ctx, r)
	})
	return r, nil
}

// Stop cancels the run of a Job. The active process is terminated and
// no further stage runs.
func (e *Executor) Stop(jobID string) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	r, ok := e.running[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrNotRunning, jobID)
	}
	r.cancel()
	return nil
}

func (e *Executor) IsRunning(jobID string) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	_, ok := e.running[jobID]
	return ok
}

// Running returns the status of all active runs, oldest first.
func (e *Executor) Running() []model.RunStatus {
	e.mx.Lock()
	runs := make([]*Run, 0, len(e.running))
	for _, r := range e.running {
		runs = append(runs, r)
	}
	e.mx.Unlock()

	ret := make([]model.RunStatus, 0, len(runs))
	for _, r := range runs {
		ret = append(ret, r.Status())
	}
	slices.SortFunc(ret, func(a, b model.RunStatus) int {
		return cmp.Or(a.Started.Compare(b.Started), cmp.Compare(a.JobName, b.JobName))
	})
	return ret
}

// StopAll cancels every active run.
func (e *Executor) StopAll() {
	e.mx.Lock()
	defer e.mx.Unlock()
	for _, r := range e.running {
		r.cancel()
	}
}

// Wait blocks until all started runs are done.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Close rejects new runs, cancels the active ones and waits for them.
func (e *Executor) Close() {
	e.mx.Lock()
	e.closed = true
	for _, r := range e.running {
		r.cancel()
	}
	e.mx.Unlock()
	e.wg.Wait()
}

type stageResult struct {
	code      int
	cancelled bool
	// launch is the message of a failure to start the command
	launch string
}

func (e *Executor) run(ctx context.Context, r *Run) {
	defer r.cancel()

	logw, logName, err := e.cfg.Logs.Open(r.job, r.id, r.started)
	if err != nil {
		slog.WarnContext(ctx, "run log not available", "error", err)
		logw = nopWriteCloser{io.Discard}
	}
	defer func() {
		if err := logw.Close(); err != nil {
			slog.WarnContext(ctx, "closing run log", "error", err)
		}
	}()
	r.log = logw

	slog.InfoContext(ctx, "job started", "job_name", r.job.Name, "tasks", len(r.tasks), "run_log", logName)
	e.emit(ctx, r, model.ProcessEvent{
		Kind:    model.EventStarted,
		Stage:   model.StageJob,
		Message: r.job.Name,
		Time:    r.started,
	})

	state, code, text := e.stages(ctx, r)

	r.mx.Lock()
	r.state, r.taskID, r.exitCode = state, "", code
	r.mx.Unlock()

	rec := model.RunRecord{
		EntityID: r.job.ID,
		Kind:     model.EntityJob,
		Time:     r.started,
		ExitCode: code,
		Outcome:  text,
		DryRun:   allDryRun(r.tasks),
	}
	e.record(ctx, rec)
	if e.cfg.Recorder != nil {
		err := e.cfg.Recorder.RecordJobRun(ctx, r.job.ID, r.started, code, rec.Text())
		switch {
		case errors.Is(err, model.ErrUnknownJob):
			slog.DebugContext(ctx, "job removed while running")
		case err != nil:
			slog.ErrorContext(ctx, "recording job run", "error", err)
		}
	}

	final := model.ProcessEvent{
		Kind:     model.EventFinished,
		Stage:    model.StageJob,
		ExitCode: code,
		State:    state,
		Message:  text,
	}
	if state == model.StateCancelled {
		final.Kind = model.EventCancelled
		slog.InfoContext(ctx, "job cancelled", "job_name", r.job.Name)
	} else {
		slog.InfoContext(ctx, "job finished", "job_name", r.job.Name, "state", state, "exit_code", code)
	}
	e.emit(ctx, r, final)

	// the Job is running until its final event is out, a new run cannot
	// interleave its events with this one
	e.mx.Lock()
	delete(e.running, r.job.ID)
	e.mx.Unlock()
	close(r.done)
}

// stages runs the pre command, the tasks and the post commands. The
// exit code is the first non-zero one of any stage.
func (e *Executor) stages(ctx context.Context, r *Run) (model.RunState, int, string) {
	var code int
	var launch string
	fail := func(res stageResult) {
		if code == 0 && res.code != 0 {
			code = res.code
		}
		if launch == "" {
			launch = res.launch
		}
	}
	cancelled := func() (model.RunState, int, string) {
		return model.StateCancelled, model.ExitCancelled, "cancelled"
	}

	if pre := r.job.Pre; pre.Active() {
		r.setState(model.StateRunningPre, "")
		res := e.command(ctx, r, model.StagePre, "", pre.Command, nil)
		if res.cancelled {
			return cancelled()
		}
		fail(res)
		if res.code != 0 && pre.HaltOnError {
			return model.StateAbortedPre, code, outcome("aborted: pre command failed", launch)
		}
	}

	tasksOK := true
	for i, task := range r.tasks {
		if r.procCtx.Err() != nil {
			return cancelled()
		}
		r.setState(model.StateRunningTasks, task.ID)
		res := e.task(ctx, r, task)
		if res.cancelled {
			return cancelled()
		}
		if res.code != 0 {
			tasksOK = false
			fail(res)
			if r.job.HaltOnTaskFailure {
				slog.InfoContext(ctx, "task failed: skipping remaining tasks", "task_id", task.ID, "skipped", len(r.tasks)-i-1)
				break
			}
		}
	}

	r.setState(model.StateRunningPost, "")
	post := r.job.PostFailure
	if tasksOK {
		post = r.job.PostSuccess
	}
	for _, spec := range []model.CommandSpec{post, r.job.PostAlways} {
		if !spec.Active() {
			continue
		}
		if r.procCtx.Err() != nil {
			return cancelled()
		}
		res := e.command(ctx, r, model.StagePost, "", spec.Command, nil)
		if res.cancelled {
			return cancelled()
		}
		fail(res)
	}
	if r.procCtx.Err() != nil {
		return cancelled()
	}

	if code != 0 {
		return model.StateFinished, code, outcome("failed", launch)
	}
	return model.StateFinished, 0, "finished"
}

// task runs the before hook, the sync command and the after hooks of a
// Task. Only the sync command and a halting before hook decide its result.
func (e *Executor) task(ctx context.Context, r *Run, task model.Task) stageResult {
	ctx = log.ContextAttrs(ctx, slog.String("task_id", task.ID))
	started := time.Now()

	var res stageResult
	var text string
	env, err := cmdline.Env(task.Env)
	if err != nil {
		res = e.launchFailed(ctx, r, model.StageTask, task.ID, err)
		text = outcome("failed", res.launch)
	}

	skip := err != nil
	if !skip && task.Before.Active() {
		before := e.command(ctx, r, model.StageTask, task.ID, task.Before.Command, env)
		switch {
		case before.cancelled:
			res = before
		case before.code != 0 && task.Before.HaltOnError:
			res = before
			text = outcome("skipped: before command failed", before.launch)
		}
		skip = res.cancelled || res.code != 0
	}

	if !skip {
		argv, err := e.cfg.Args.Args(task)
		if err == nil && len(argv) == 0 {
			err = cmdline.ErrEmptyCommand
		}
		if err != nil {
			res = e.launchFailed(ctx, r, model.StageTask, task.ID, err)
		} else {
			res = e.exec(ctx, r, model.StageTask, task.ID, Command{Path: argv[0], Args: argv[1:], Env: env})
		}
		text = outcome("failed", res.launch)
		if res.code == 0 {
			text = "finished"
		}
	}

	if !res.cancelled {
		after := task.AfterFailure
		if res.code == 0 {
			after = task.AfterSuccess
		}
		for _, spec := range []model.CommandSpec{after, task.AfterAlways} {
			if !spec.Active() || r.procCtx.Err() != nil {
				continue
			}
			hook := e.command(ctx, r, model.StageTask, task.ID, spec.Command, env)
			if hook.cancelled {
				res.cancelled = true
				break
			}
		}
	}
	if res.cancelled || r.procCtx.Err() != nil {
		res.cancelled = true
		res.code = model.ExitCancelled
		text = "cancelled"
	}

	rec := model.RunRecord{
		EntityID: task.ID,
		Kind:     model.EntityTask,
		Time:     started,
		ExitCode: res.code,
		Outcome:  text,
		DryRun:   task.DryRun,
	}
	e.record(ctx, rec)
	if e.cfg.Recorder != nil {
		err := e.cfg.Recorder.RecordTaskRun(ctx, task.ID, rec.Text())
		if err != nil && !errors.Is(err, model.ErrUnknownTask) {
			slog.ErrorContext(ctx, "recording task run", "error", err)
		}
	}

	if !res.cancelled {
		e.emit(ctx, r, model.ProcessEvent{
			Kind:     model.EventFinished,
			Stage:    model.StageTask,
			TaskID:   task.ID,
			ExitCode: res.code,
			Message:  task.Name,
		})
	}
	return res
}

// command runs a hook command line.
func (e *Executor) command(ctx context.Context, r *Run, stage model.Stage, taskID, line string, env []string) stageResult {
	argv, err := cmdline.Split(line)
	if err != nil {
		return e.launchFailed(ctx, r, stage, taskID, err)
	}
	return e.exec(ctx, r, stage, taskID, Command{Path: argv[0], Args: argv[1:], Env: env})
}

func (e *Executor) exec(ctx context.Context, r *Run, stage model.Stage, taskID string, cmd Command) stageResult {
	if r.procCtx.Err() != nil {
		return stageResult{code: model.ExitCancelled, cancelled: true}
	}
	slog.DebugContext(ctx, "starting", "stage", stage, "path", cmd.Path, "args", cmd.Args)
	p, err := e.cfg.Runner.Start(r.procCtx, cmd)
	if err != nil {
		if r.procCtx.Err() != nil {
			return stageResult{code: model.ExitCancelled, cancelled: true}
		}
		return e.launchFailed(ctx, r, stage, taskID, err)
	}

	output := func(stream model.Stream, lines iter.Seq[string]) {
		for line := range lines {
			e.emit(ctx, r, model.ProcessEvent{
				Kind:   model.EventOutput,
				Stage:  stage,
				TaskID: taskID,
				Stream: stream,
				Text:   line,
			})
		}
	}
	var wg sync.WaitGroup
	wg.Go(func() { output(model.Stdout, p.Stdout()) })
	wg.Go(func() { output(model.Stderr, p.Stderr()) })
	wg.Wait()

	code, err := p.Wait()
	switch {
	case errors.Is(err, model.ErrCancelled):
		return stageResult{code: model.ExitCancelled, cancelled: true}
	case err != nil:
		return e.launchFailed(ctx, r, stage, taskID, err)
	}
	slog.DebugContext(ctx, "process exited", "stage", stage, "path", cmd.Path, "exit_code", code)
	return stageResult{code: code}
}

// launchFailed reports a command which could not be run as a failure of
// its stage.
func (e *Executor) launchFailed(ctx context.Context, r *Run, stage model.Stage, taskID string, err error) stageResult {
	slog.WarnContext(ctx, "command failed to launch", "stage", stage, "error", err)
	e.emit(ctx, r, model.ProcessEvent{
		Kind:     model.EventError,
		Stage:    stage,
		TaskID:   taskID,
		ExitCode: model.ExitLaunchFailed,
		Message:  err.Error(),
	})
	return stageResult{code: model.ExitLaunchFailed, launch: err.Error()}
}

func (e *Executor) emit(ctx context.Context, r *Run, ev model.ProcessEvent) {
	ev.RunID = r.id
	ev.JobID = r.job.ID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	r.emitMx.Lock()
	defer r.emitMx.Unlock()
	if line, ok := logLine(ev); ok && r.log != nil {
		_, _ = fmt.Fprintln(r.log, line)
	}
	if e.cfg.Events != nil {
		e.cfg.Events.Publish(ctx, model.Notification{Process: &ev})
	}
}

func (e *Executor) record(ctx context.Context, rec model.RunRecord) {
	if e.cfg.History == nil {
		return
	}
	if err := e.cfg.History.Append(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "appending history", "entity_id", rec.EntityID, "error", err)
	}
}

func outcome(text, launch string) string {
	if launch == "" {
		return text
	}
	return text + ": " + launch
}

func allDryRun(tasks []model.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if !t.DryRun {
			return false
		}
	}
	return true
}
