// Package cmdline turns Tasks and command strings into argv lists.
package cmdline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/synctab/synctab/internal/model"
)

var ErrEmptyCommand = errors.New("empty command")

// Split splits a command line using shell quoting rules.
func Split(line string) ([]string, error) {
	argv, err := shellquote.Split(line)
	if err != nil {
		return nil, fmt.Errorf("splitting %q: %w", line, err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return argv, nil
}

// Env parses a Task environment string like `LANG=C RSYNC_PASSWORD="a b"`
// into KEY=VALUE entries.
func Env(env string) ([]string, error) {
	words, err := shellquote.Split(env)
	if err != nil {
		return nil, fmt.Errorf("splitting environment: %w", err)
	}
	for _, w := range words {
		if k, _, ok := strings.Cut(w, "="); !ok || k == "" {
			return nil, fmt.Errorf("environment entry %q: want KEY=VALUE", w)
		}
	}
	return words, nil
}

// Rsync builds the argv of the sync tool for a Task.
type Rsync struct {
	Path string
}

// Args returns <path> <options...> [--dry-run] [--exclude=<rule>...] <source> <destination>.
func (r Rsync) Args(task model.Task) ([]string, error) {
	if task.Source == "" || task.Destination == "" {
		return nil, fmt.Errorf("%w: task %s: source and destination are required", model.ErrInvalidTask, task.Name)
	}
	path := r.Path
	if path == "" {
		path = "rsync"
	}

	argv := make([]string, 0, len(task.Options)+len(task.Excludes)+4)
	argv = append(argv, path)
	for _, opt := range task.Options {
		if opt = strings.TrimSpace(opt); opt != "" {
			argv = append(argv, opt)
		}
	}
	if task.DryRun {
		argv = append(argv, "--dry-run")
	}
	for _, rule := range task.Excludes {
		if rule != "" {
			argv = append(argv, "--exclude="+rule)
		}
	}
	return append(argv, task.Source, task.Destination), nil
}
