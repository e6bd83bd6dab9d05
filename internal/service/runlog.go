package service

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/synctab/synctab/internal/model"
)

// RunLogs writes the output of Job runs into a directory, one file per
// Job or per run depending on Job.LogMode. The zero value discards logs.
type RunLogs struct {
	dir string
}

func NewRunLogs(dir string) RunLogs {
	return RunLogs{dir: dir}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Open returns the log writer of a run and the name of the log file.
func (l RunLogs) Open(job model.Job, runID string, started time.Time) (io.WriteCloser, string, error) {
	if l.dir == "" {
		return nopWriteCloser{io.Discard}, "", nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating run log dir: %w", err)
	}
	root, err := os.OpenRoot(l.dir)
	if err != nil {
		return nil, "", fmt.Errorf("opening run log dir: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	name := sanitize(job.Name)
	flag := os.O_CREATE | os.O_WRONLY
	switch job.LogMode {
	case model.LogReplace:
		flag |= os.O_TRUNC
		name += ".log"
	case model.LogUniqueFile:
		flag |= os.O_EXCL
		name += "_" + started.Format("20060102_150405") + "_" + runID + ".log"
	default:
		flag |= os.O_APPEND
		name += ".log"
	}

	f, err := root.OpenFile(name, flag, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("creating run log: %w", err)
	}
	return f, name, nil
}

// sanitize keeps the characters safe for a file name
func sanitize(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ' || r == '.':
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "job"
	}
	return sb.String()
}

// logLine renders an event for the run log, ok is false for events
// which are not logged.
func logLine(ev model.ProcessEvent) (string, bool) {
	ts := ev.Time.Format(time.DateTime)
	switch ev.Kind {
	case model.EventOutput:
		prefix := ""
		if ev.Stream == model.Stderr {
			prefix = "! "
		}
		return prefix + ev.Text, true
	case model.EventStarted:
		return fmt.Sprintf("=== %s started %s", ev.Message, ts), true
	case model.EventFinished:
		if ev.Stage == model.StageJob {
			return fmt.Sprintf("=== finished %s exit=%d state=%s", ts, ev.ExitCode, ev.State), true
		}
		return fmt.Sprintf("--- %s %s exit=%d", ev.Stage, ev.Message, ev.ExitCode), true
	case model.EventCancelled:
		return fmt.Sprintf("=== cancelled %s", ts), true
	case model.EventError:
		return fmt.Sprintf("!!! %s %s", ev.Stage, ev.Message), true
	}
	return "", false
}
