package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synctab/synctab/internal/model"
	"github.com/synctab/synctab/internal/service"
)

func TestValidateCron(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		then     bool
	}{
		{"empty", "", true},
		{"valid_5_fields", "*/15 * * * *", true},
		{"macro_daily", "@daily", true},
		{"macro_every", "@every 5m", false},
		{"six_fields", "0 */2 * * * *", false},
		{"invalid_token", "* * 32 * *", false},
		{"garbage", "every night", false},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			err := service.ValidateCron(model.Job{Name: "j", Cron: tc.given})
			if tc.then {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

type starts struct {
	mx  sync.Mutex
	ids []string
	err error
}

func (s *starts) start(_ context.Context, id string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.ids = append(s.ids, id)
	return s.err
}

func TestCronTick(t *testing.T) {
	t.Parallel()
	jobs := []model.Job{
		{ID: "nightly", Cron: "30 3 * * *", CronActive: true},
		{ID: "quarter", Cron: "*/15 * * * *", CronActive: true},
		{ID: "paused", Cron: "30 3 * * *", CronActive: false},
		{ID: "manual", CronActive: true},
		{ID: "broken", Cron: "61 * * * *", CronActive: true},
	}
	s := &starts{}
	c := service.NewCron(func() []model.Job { return jobs }, s.start, true)
	ctx := t.Context()
	at := func(h, m, sec int) time.Time {
		return time.Date(2026, 10, 15, h, m, sec, 0, time.Local)
	}

	require.ElementsMatch(t, []string{"nightly", "quarter"}, c.Tick(ctx, at(3, 30, 5)))
	// same minute again
	require.Empty(t, c.Tick(ctx, at(3, 30, 55)))
	require.Empty(t, c.Tick(ctx, at(3, 31, 0)))
	require.Equal(t, []string{"quarter"}, c.Tick(ctx, at(3, 45, 0)))

	c.SetActive(false)
	require.False(t, c.Active())
	require.Empty(t, c.Tick(ctx, at(4, 0, 0)))

	// missed minutes are not caught up
	c.SetActive(true)
	require.Empty(t, c.Tick(ctx, at(4, 1, 0)))
	require.Equal(t, []string{"nightly", "quarter", "quarter"}, s.ids)

	// next day
	require.ElementsMatch(t, []string{"nightly", "quarter"}, c.Tick(ctx, at(3, 30, 0).AddDate(0, 0, 1)))
}

func TestCronAlreadyRunning(t *testing.T) {
	t.Parallel()
	s := &starts{err: model.ErrAlreadyRunning}
	jobs := []model.Job{{ID: "j", Cron: "* * * * *", CronActive: true}}
	c := service.NewCron(func() []model.Job { return jobs }, s.start, true)

	require.Empty(t, c.Tick(t.Context(), time.Now()))
	require.Equal(t, []string{"j"}, s.ids)
}

func TestCronStartStop(t *testing.T) {
	t.Parallel()
	s := &starts{}
	c := service.NewCron(func() []model.Job { return nil }, s.start, true)
	require.NoError(t, c.Start(t.Context()))
	require.Error(t, c.Start(t.Context()))
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
}
