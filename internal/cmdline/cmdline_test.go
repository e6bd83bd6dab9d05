package cmdline_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synctab/synctab/internal/cmdline"
	"github.com/synctab/synctab/internal/model"
)

func TestSplit(t *testing.T) {
	argv, err := cmdline.Split(`tar czf "/tmp/my backup.tgz" /etc`)
	require.NoError(t, err)
	require.Equal(t, []string{"tar", "czf", "/tmp/my backup.tgz", "/etc"}, argv)

	_, err = cmdline.Split("   ")
	require.ErrorIs(t, err, cmdline.ErrEmptyCommand)

	_, err = cmdline.Split(`echo "unterminated`)
	require.Error(t, err)
}

func TestEnv(t *testing.T) {
	env, err := cmdline.Env(`LANG=C RSYNC_PASSWORD="a b"`)
	require.NoError(t, err)
	require.Equal(t, []string{"LANG=C", "RSYNC_PASSWORD=a b"}, env)

	env, err = cmdline.Env("")
	require.NoError(t, err)
	require.Empty(t, env)

	_, err = cmdline.Env("LANG")
	require.Error(t, err)
}

func TestRsyncArgs(t *testing.T) {
	task := model.Task{
		Name:        "home",
		Source:      "/home/",
		Destination: "/backup/home",
		DryRun:      true,
		Options:     []string{"-a", " --delete ", ""},
		Excludes:    []string{"*.tmp", ".cache/"},
	}
	argv, err := cmdline.Rsync{}.Args(task)
	require.NoError(t, err)
	require.Equal(t, []string{
		"rsync", "-a", "--delete", "--dry-run",
		"--exclude=*.tmp", "--exclude=.cache/",
		"/home/", "/backup/home",
	}, argv)

	argv, err = cmdline.Rsync{Path: "/usr/local/bin/rsync"}.Args(model.Task{Source: "a", Destination: "b"})
	require.NoError(t, err)
	require.Equal(t, []string{"/usr/local/bin/rsync", "a", "b"}, argv)

	_, err = cmdline.Rsync{}.Args(model.Task{Name: "broken", Source: "/home"})
	require.ErrorIs(t, err, model.ErrInvalidTask)
}
