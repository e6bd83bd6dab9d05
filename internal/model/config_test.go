package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synctab/synctab/internal/model"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
server:
  listen: 0.0.0.0:9000
  log: stdout
  notify_timeout: 2s
history:
  backend: sqlite
  path: /var/lib/synctab/history.db
runs:
  log_dir: /var/log/synctab
cron:
  active: false
`
	dflt := model.DefaultConfig("/etc/synctab")
	cfg, err := model.LoadConfig(strings.NewReader(yml), dflt)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	require.Equal(t, model.LogStdout, cfg.Server.Log)
	require.Equal(t, 2*time.Second, cfg.Server.NotifyTimeout.AsDuration())
	require.Equal(t, model.HistorySQLite, cfg.History.Backend)
	require.Equal(t, model.Path("/var/lib/synctab/history.db"), cfg.History.Path)
	require.Equal(t, model.Path("/var/log/synctab"), cfg.Runs.LogDir)
	require.False(t, cfg.Cron.Active)

	// defaults
	require.Equal(t, dflt.Catalog.Path, cfg.Catalog.Path)
	require.Equal(t, "rsync", cfg.Runs.Rsync)
}

func TestLoadConfig_Defaults(t *testing.T) {
	dflt := model.DefaultConfig("/etc/synctab")
	cfg, err := model.LoadConfig(strings.NewReader("version: 0\n"), dflt)
	require.NoError(t, err)
	require.Equal(t, dflt, cfg)
	require.True(t, cfg.Cron.Active)
}

func TestLoadConfig_Fail(t *testing.T) {
	cases := []struct {
		scenario string
		given    string
		path     string
	}{
		{"unknown_field", "version: 0\nserver:\n  port: 22\n", "server.port"},
		{"bad_backend", "version: 0\nhistory:\n  backend: mysql\n", "history.backend"},
		{"bad_version", "version: 1\n", "version"},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := model.LoadConfig(strings.NewReader(tc.given), model.DefaultConfig(t.TempDir()))
			require.Error(t, err)
			details := model.CueErrDetails(err)
			require.NotEmpty(t, details)
			var paths []string
			for _, d := range details {
				paths = append(paths, d.Path)
			}
			require.Contains(t, paths, tc.path)
		})
	}
}
