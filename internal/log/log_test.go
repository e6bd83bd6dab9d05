package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synctab/synctab/internal/log"
)

func TestContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(t.Context(), slog.String("job_id", "j1"))
	child := log.ContextAttrs(ctx, slog.String("run_id", "r1"))
	logger.InfoContext(child, "run started")
	logger.DebugContext(child, "hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "run started", rec["msg"])
	require.Equal(t, "j1", rec["job_id"])
	require.Equal(t, "r1", rec["run_id"])

	buf.Reset()
	logger.InfoContext(ctx, "parent")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.NotContains(t, buf.String(), "run_id")
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synctab.log")
	logger, closer, err := log.Open(path, true)
	require.NoError(t, err)
	logger.Debug("debug line")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "debug line")

	_, closer, err = log.Open("discard", false)
	require.NoError(t, err)
	require.NoError(t, closer.Close())
}
