package service

import (
	"bufio"
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/synctab/synctab/internal/model"
)

// KillDelay is how long a cancelled process may take to exit after
// the termination signal before it gets killed.
const KillDelay = 10 * time.Second

// MaxLineLength bounds a line of process output, longer lines are cut.
const MaxLineLength = 1024 * 1024

type Command struct {
	Path string
	Args []string
	Env  []string // appended to the environment of the daemon
	Dir  string
}

// Process is a started external command.
type Process interface {
	// Stdout and Stderr return lazy line sequences which end with the stream.
	// Each can be iterated once and both must be consumed.
	Stdout() iter.Seq[string]
	Stderr() iter.Seq[string]
	// Wait returns the exit code or model.ErrCancelled.
	Wait() (int, error)
	// Cancel terminates the process.
	Cancel()
}

// ProcessRunner starts processes. It fails with *model.LaunchError if
// the executable can't be started.
type ProcessRunner interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}

// Runner is a thin, opinionated wrapper around os/exec
type Runner struct{}

func NewRunner() Runner {
	return Runner{}
}

type process struct {
	cmd        *exec.Cmd
	cancelFunc context.CancelFunc
	ctx        context.Context
	stdout     chan string
	stderr     chan string
	done       chan struct{}
	code       int
	err        error
}

// Start runs the process, cancellation of ctx terminates it as Cancel does.
// Note it spawns internal goroutines which read the output streams and
// monitor the started command.
func (Runner) Start(ctx context.Context, proto Command) (Process, error) {
	if proto.Path == "" {
		return nil, &model.LaunchError{Path: proto.Path, Err: exec.ErrNotFound}
	}
	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Dir = proto.Dir
	cmd.Env = append(os.Environ(), proto.Env...)
	configureProc(cmd)
	cmd.Cancel = func() error {
		return terminate(cmd)
	}
	cmd.WaitDelay = KillDelay

	// io.Pipe instead of StdoutPipe: Wait then waits for the copying
	// goroutines, so the readers see every line before EOF
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &model.LaunchError{Path: proto.Path, Err: err}
	}
	slog.DebugContext(ctx, "process started", "path", proto.Path, "pid", cmd.Process.Pid)

	p := &process{
		cmd:        cmd,
		cancelFunc: cancel,
		ctx:        ctx,
		stdout:     make(chan string),
		stderr:     make(chan string),
		done:       make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Go(func() { readLines(ctx, outR, p.stdout) })
	readers.Go(func() { readLines(ctx, errR, p.stderr) })
	go func() {
		err := cmd.Wait()
		_ = outW.Close()
		_ = errW.Close()
		readers.Wait()
		p.finish(err)
	}()
	return p, nil
}

func readLines(ctx context.Context, r *io.PipeReader, lines chan<- string) {
	defer close(lines)
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	truncated := false
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.ErrorContext(ctx, "reading process output", "error", err)
				// unblock the writer, the rest of the stream is dropped
				_ = r.CloseWithError(err)
			}
			return
		}
		// the tail of an over-long line is read and dropped, the process
		// keeps writing and its exit code stays intact
		room := MaxLineLength - len(line)
		if len(chunk) > room {
			chunk, truncated = chunk[:room], true
		}
		line = append(line, chunk...)
		if more {
			continue
		}
		if truncated {
			slog.WarnContext(ctx, "process output line truncated", "limit", MaxLineLength)
		}
		lines <- string(line)
		line, truncated = line[:0], false
	}
}

func (p *process) finish(err error) {
	switch {
	case p.ctx.Err() != nil:
		p.code, p.err = model.ExitCancelled, model.ErrCancelled
	case err == nil:
		p.code = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.code = exitErr.ExitCode()
		} else {
			p.code, p.err = -1, err
		}
	}
	p.cancelFunc()
	close(p.done)
}

func (p *process) Stdout() iter.Seq[string] {
	return seq(p.stdout)
}

func (p *process) Stderr() iter.Seq[string] {
	return seq(p.stderr)
}

func seq(ch <-chan string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for line := range ch {
			if !yield(line) {
				// drain, the process must not block on a full pipe
				for range ch {
				}
				return
			}
		}
	}
}

func (p *process) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

func (p *process) Cancel() {
	p.cancelFunc()
}
