package service_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synctab/synctab/internal/catalog"
	"github.com/synctab/synctab/internal/history"
	"github.com/synctab/synctab/internal/model"
	"github.com/synctab/synctab/internal/service"
)

func newCommander(t *testing.T) (*service.Commander, observer) {
	t.Helper()
	sh := lookSh(t)
	cat := catalog.New(catalog.NewMemoryStore(model.Catalog{}), service.ValidateCron)
	require.NoError(t, cat.Load(t.Context()))
	hist := history.NewFileStore(filepath.Join(t.TempDir(), "history.log"))
	events := service.NewBroadcaster(time.Second)
	exec := service.NewExecutor(service.ExecutorConfig{
		Args:     scriptArgs{sh: sh},
		History:  hist,
		Recorder: cat,
		Events:   events,
	})
	cmd := service.NewCommander(service.CommanderConfig{
		Catalog:  cat,
		Executor: exec,
		Events:   events,
		History:  hist,
	})
	t.Cleanup(func() {
		require.NoError(t, cmd.Shutdown(t.Context()))
	})

	obs := newObserver("front-end", false)
	cmd.RegisterClient(t.Context(), obs, "laptop")
	return cmd, obs
}

func serverEvents(o observer) []model.ServerEventKind {
	o.mx.Lock()
	defer o.mx.Unlock()
	var ret []model.ServerEventKind
	for _, n := range *o.got {
		if n.Server != nil {
			ret = append(ret, n.Server.Kind)
		}
	}
	return ret
}

func processEvents(o observer) []model.ProcessEvent {
	o.mx.Lock()
	defer o.mx.Unlock()
	var ret []model.ProcessEvent
	for _, n := range *o.got {
		if n.Process != nil {
			ret = append(ret, *n.Process)
		}
	}
	return ret
}

func TestCommander(t *testing.T) {
	t.Parallel()
	cmd, obs := newCommander(t)
	ctx := t.Context()

	task, err := cmd.PutTask(ctx, model.Task{Name: "home", Source: "echo synced"})
	require.NoError(t, err)
	_, err = cmd.PutJob(ctx, model.Job{Name: "bad cron", Cron: "every night"})
	require.ErrorIs(t, err, model.ErrInvalidJob)
	job, err := cmd.PutJob(ctx, model.Job{Name: "Backup", TaskIDs: []string{task.ID}, Cron: "0 3 * * *", CronActive: true})
	require.NoError(t, err)

	t.Run("unknown job", func(t *testing.T) {
		_, err := cmd.StartJob(ctx, "nope")
		require.ErrorIs(t, err, model.ErrUnknownJob)
		require.ErrorIs(t, cmd.StopJob(ctx, "nope"), model.ErrUnknownJob)
		_, err = cmd.IsRunning("nope")
		require.ErrorIs(t, err, model.ErrUnknownJob)
		_, err = cmd.History(ctx, "nope")
		require.ErrorIs(t, err, model.ErrUnknownJob)
	})

	t.Run("not running", func(t *testing.T) {
		require.ErrorIs(t, cmd.StopJob(ctx, "Backup"), model.ErrNotRunning)
		running, err := cmd.IsRunning("Backup")
		require.NoError(t, err)
		require.False(t, running)
	})

	t.Run("start by name", func(t *testing.T) {
		run, err := cmd.StartJob(ctx, "Backup")
		require.NoError(t, err)
		state, code := run.Wait()
		require.Equal(t, model.StateFinished, state)
		require.Zero(t, code)

		recs, err := cmd.History(ctx, "Backup")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, job.ID, recs[0].EntityID)
		recs, err = cmd.History(ctx, task.ID)
		require.NoError(t, err)
		require.Len(t, recs, 1)

		evs := processEvents(obs)
		require.Equal(t, model.EventStarted, evs[0].Kind)
		require.Equal(t, model.EventFinished, evs[len(evs)-1].Kind)
		require.Equal(t, model.StateFinished, evs[len(evs)-1].State)
	})

	t.Run("cron", func(t *testing.T) {
		require.False(t, cmd.IsCronActive())
		started := cmd.Cron().Tick(ctx, time.Date(2026, 10, 15, 3, 0, 0, 0, time.Local))
		require.Empty(t, started)

		cmd.SetCronActive(ctx, true)
		require.True(t, cmd.IsCronActive())
		require.True(t, cmd.Status().CronActive)
		started = cmd.Cron().Tick(ctx, time.Date(2026, 10, 15, 3, 0, 0, 0, time.Local))
		require.Equal(t, []string{job.ID}, started)
		require.Eventually(t, func() bool {
			running, err := cmd.IsRunning(job.ID)
			return err == nil && !running
		}, 10*time.Second, 10*time.Millisecond)
	})

	t.Run("status", func(t *testing.T) {
		st := cmd.Status()
		require.NotEmpty(t, st.Hostname)
		require.Equal(t, 1, st.Jobs)
		require.Equal(t, 1, st.Tasks)
		require.Equal(t, []model.ClientInfo{{Handle: "front-end", Hostname: "laptop"}}, st.Clients)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, cmd.DeleteTask(ctx, task.ID))
		got, err := cmd.Job("Backup")
		require.NoError(t, err)
		require.Empty(t, got.TaskIDs)
		require.NoError(t, cmd.DeleteJob(ctx, "Backup"))
		require.Empty(t, cmd.Jobs())
		require.Empty(t, cmd.Tasks())
	})

	require.Equal(t, []model.ServerEventKind{
		model.ServerClientRegistered,
		model.ServerCatalog, // task
		model.ServerCatalog, // job
		model.ServerCron,
		model.ServerCatalog, // delete task
		model.ServerCatalog, // delete job
	}, serverEvents(obs))
}

func TestCommanderShutdown(t *testing.T) {
	t.Parallel()
	cmd, obs := newCommander(t)
	ctx := t.Context()
	task, err := cmd.PutTask(ctx, model.Task{Name: "sleep", Source: "sleep 30"})
	require.NoError(t, err)
	_, err = cmd.PutJob(ctx, model.Job{Name: "slow", TaskIDs: []string{task.ID}})
	require.NoError(t, err)

	run, err := cmd.StartJob(ctx, "slow")
	require.NoError(t, err)
	require.NoError(t, cmd.Shutdown(ctx))
	select {
	case <-cmd.Done():
	default:
		t.Fatal("done is not closed after shutdown")
	}
	state, _ := run.Wait()
	require.Equal(t, model.StateCancelled, state)

	_, err = cmd.StartJob(ctx, "slow")
	require.ErrorIs(t, err, service.ErrShuttingDown)
	kinds := serverEvents(obs)
	require.Equal(t, model.ServerShutdown, kinds[len(kinds)-1])

	cmd.RemoveClient(ctx, obs, "laptop")
	require.Empty(t, cmd.Status().Clients)
}

func TestCommanderCallerIDs(t *testing.T) {
	t.Parallel()
	cmd, _ := newCommander(t)
	ctx := t.Context()
	task, err := cmd.PutTask(ctx, model.Task{ID: "home", Name: "home", Source: "echo synced"})
	require.NoError(t, err)

	_, err = cmd.PutJob(ctx, model.Job{ID: "nightly backup", Name: "Nightly", TaskIDs: []string{task.ID}})
	require.ErrorIs(t, err, model.ErrInvalidJob)
	require.Empty(t, cmd.Jobs())

	job, err := cmd.PutJob(ctx, model.Job{ID: "nightly-backup", Name: "Nightly", TaskIDs: []string{task.ID}})
	require.NoError(t, err)
	for range 2 {
		run, err := cmd.StartJob(ctx, job.ID)
		require.NoError(t, err)
		state, code := run.Wait()
		require.Equal(t, model.StateFinished, state)
		require.Zero(t, code)
	}

	recs, err := cmd.History(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	recs, err = cmd.History(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}
