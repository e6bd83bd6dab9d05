package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synctab/synctab/internal/api"
	"github.com/synctab/synctab/internal/catalog"
	"github.com/synctab/synctab/internal/history"
	"github.com/synctab/synctab/internal/model"
	"github.com/synctab/synctab/internal/service"
)

type scriptArgs struct {
	sh string
}

func (a scriptArgs) Args(task model.Task) ([]string, error) {
	return []string{a.sh, "-c", task.Source}, nil
}

func newDaemon(t *testing.T) *api.Client {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	cat := catalog.New(catalog.NewMemoryStore(model.Catalog{}), service.ValidateCron)
	require.NoError(t, cat.Load(t.Context()))
	hist := history.NewFileStore(filepath.Join(t.TempDir(), "history.log"))
	events := service.NewBroadcaster(time.Second)
	executor := service.NewExecutor(service.ExecutorConfig{
		Args:     scriptArgs{sh: sh},
		History:  hist,
		Recorder: cat,
		Events:   events,
	})
	cmd := service.NewCommander(service.CommanderConfig{
		Catalog:  cat,
		Executor: executor,
		Events:   events,
		History:  hist,
	})

	srv := httptest.NewServer(api.NewServer(cmd).Handler())
	t.Cleanup(func() {
		require.NoError(t, cmd.Shutdown(context.Background()))
		srv.Close()
	})

	client, err := api.NewClient(srv.URL)
	require.NoError(t, err)
	return client
}

type inbox struct {
	mx sync.Mutex
	ns []model.Notification
}

func (i *inbox) add(_ context.Context, n model.Notification) {
	i.mx.Lock()
	defer i.mx.Unlock()
	i.ns = append(i.ns, n)
}

func (i *inbox) finished(jobID string) bool {
	i.mx.Lock()
	defer i.mx.Unlock()
	for _, n := range i.ns {
		if p := n.Process; p != nil && p.JobID == jobID && p.Stage == model.StageJob && p.Kind == model.EventFinished {
			return true
		}
	}
	return false
}

func TestAPI(t *testing.T) {
	t.Parallel()
	client := newDaemon(t)
	ctx := t.Context()

	task, err := client.PutTask(ctx, model.Task{Name: "home", Source: "echo synced"})
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)
	job, err := client.PutJob(ctx, model.Job{Name: "Nightly backup", TaskIDs: []string{task.ID}})
	require.NoError(t, err)

	t.Run("catalog", func(t *testing.T) {
		got, err := client.Job(ctx, "Nightly backup")
		require.NoError(t, err)
		require.Equal(t, job.ID, got.ID)

		got.Description = "every night"
		updated, err := client.PutJob(ctx, got)
		require.NoError(t, err)
		require.Equal(t, job.ID, updated.ID)
		require.Equal(t, "every night", updated.Description)

		jobs, err := client.Jobs(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		tasks, err := client.Tasks(ctx)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		gotTask, err := client.Task(ctx, task.ID)
		require.NoError(t, err)
		require.Equal(t, "echo synced", gotTask.Source)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := client.Job(ctx, "nope")
		require.ErrorIs(t, err, model.ErrUnknownJob)
		_, err = client.Task(ctx, "nope")
		require.ErrorIs(t, err, model.ErrUnknownTask)
		_, err = client.PutJob(ctx, model.Job{Name: "Nightly backup"})
		require.ErrorIs(t, err, model.ErrInvalidJob)
		_, err = client.PutJob(ctx, model.Job{Name: "cron", Cron: "@every 1m"})
		require.ErrorIs(t, err, model.ErrInvalidJob)
		_, err = client.PutTask(ctx, model.Task{})
		require.ErrorIs(t, err, model.ErrInvalidTask)
		_, err = client.PutJob(ctx, model.Job{ID: "nightly backup", Name: "spaced"})
		require.ErrorIs(t, err, model.ErrInvalidJob)
		require.ErrorIs(t, client.StopJob(ctx, job.ID), model.ErrNotRunning)
		require.ErrorIs(t, client.DeleteTask(ctx, "nope"), model.ErrUnknownTask)
	})

	t.Run("run with callbacks", func(t *testing.T) {
		box := &inbox{}
		receiver := httptest.NewServer(api.NewReceiver(box.add))
		t.Cleanup(receiver.Close)
		require.NoError(t, client.RegisterClient(ctx, receiver.URL, "laptop"))

		st, err := client.StartJob(ctx, "Nightly backup")
		require.NoError(t, err)
		require.Equal(t, job.ID, st.JobID)
		require.NotEmpty(t, st.RunID)
		require.Eventually(t, func() bool { return box.finished(job.ID) }, 10*time.Second, 10*time.Millisecond)
		require.Eventually(t, func() bool {
			running, err := client.IsRunning(ctx, job.ID)
			return err == nil && !running
		}, 10*time.Second, 10*time.Millisecond)

		recs, err := client.History(ctx, "Nightly backup")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Zero(t, recs[0].ExitCode)

		status, err := client.Status(ctx)
		require.NoError(t, err)
		require.Equal(t, []model.ClientInfo{{Handle: receiver.URL, Hostname: "laptop"}}, status.Clients)
		require.NoError(t, client.RemoveClient(ctx, receiver.URL, "laptop"))
		status, err = client.Status(ctx)
		require.NoError(t, err)
		require.Empty(t, status.Clients)
	})

	t.Run("cron", func(t *testing.T) {
		active, err := client.IsCronActive(ctx)
		require.NoError(t, err)
		require.False(t, active)
		require.NoError(t, client.SetCronActive(ctx, true))
		active, err = client.IsCronActive(ctx)
		require.NoError(t, err)
		require.True(t, active)
	})

	t.Run("already running", func(t *testing.T) {
		slow, err := client.PutTask(ctx, model.Task{Name: "slow", Source: "sleep 30"})
		require.NoError(t, err)
		_, err = client.PutJob(ctx, model.Job{Name: "slow", TaskIDs: []string{slow.ID}})
		require.NoError(t, err)
		st, err := client.StartJob(ctx, "slow")
		require.NoError(t, err)
		require.Equal(t, model.StateRunningTasks, st.State)
		require.Equal(t, slow.ID, st.TaskID)
		_, err = client.StartJob(ctx, "slow")
		require.ErrorIs(t, err, model.ErrAlreadyRunning)
		require.NoError(t, client.StopJob(ctx, "slow"))
	})

	t.Run("shutdown", func(t *testing.T) {
		require.NoError(t, client.Shutdown(ctx))
		_, err := client.StartJob(ctx, "Nightly backup")
		require.ErrorIs(t, err, service.ErrShuttingDown)
	})
}

func TestReceiver(t *testing.T) {
	t.Parallel()
	box := &inbox{}
	receiver := httptest.NewServer(api.NewReceiver(box.add))
	t.Cleanup(receiver.Close)

	resp, err := http.Post(receiver.URL, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(receiver.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	n, err := api.NewCallbackNotifier(receiver.URL)
	require.NoError(t, err)
	require.NoError(t, n.Notify(t.Context(), model.Notification{Server: &model.ServerEvent{Kind: model.ServerCron, CronActive: true}}))
	require.Len(t, box.ns, 1)
	require.True(t, box.ns[0].Server.CronActive)

	receiver.Close()
	require.Error(t, n.Notify(t.Context(), model.Notification{Server: &model.ServerEvent{Kind: model.ServerCron}}))
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		then     bool
	}{
		{"host_port", "localhost:8390", true},
		{"url", "http://backup.lan:8390", true},
		{"url_slash", "http://backup.lan:8390/", true},
		{"path", "http://backup.lan:8390/api", false},
		{"no_host", "http://", false},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := api.NewClient(tc.given)
			if tc.then {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestNewCallbackNotifier(t *testing.T) {
	t.Parallel()
	_, err := api.NewCallbackNotifier("ftp://example.com/x")
	require.Error(t, err)
	_, err = api.NewCallbackNotifier("localhost:9000")
	require.Error(t, err)
	n, err := api.NewCallbackNotifier("http://127.0.0.1:9000/events")
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9000/events", n.String())
}
