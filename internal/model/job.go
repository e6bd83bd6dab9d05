package model

import (
	"slices"
	"time"
)

// LogMode tells how the output of consecutive runs of a Job is kept
// in the run log directory.
type LogMode string

const (
	LogAppend     LogMode = "append"
	LogReplace    LogMode = "replace"
	LogUniqueFile LogMode = "unique-file"
)

func (m LogMode) Valid() bool {
	switch m {
	case "", LogAppend, LogReplace, LogUniqueFile:
		return true
	}
	return false
}

// CommandSpec is an external command attached to a Job or a Task stage.
// Command is split into argv using shell quoting rules, no shell is spawned.
type CommandSpec struct {
	Command     string `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Enabled     bool   `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	HaltOnError bool   `json:"halt_on_error,omitempty" yaml:"halt_on_error,omitempty" toml:"halt_on_error,omitempty"`
}

// Active reports whether the command should be executed.
func (c CommandSpec) Active() bool {
	return c.Enabled && c.Command != ""
}

// Job is a named, schedulable sequence of Tasks with pre and post commands.
type Job struct {
	ID                string      `json:"id" yaml:"id" toml:"id"`
	Name              string      `json:"name" yaml:"name" toml:"name"`
	Description       string      `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	TaskIDs           []string    `json:"task_ids,omitempty" yaml:"task_ids,omitempty" toml:"task_ids,omitempty"`
	Cron              string      `json:"cron,omitempty" yaml:"cron,omitempty" toml:"cron,omitempty"`
	CronActive        bool        `json:"cron_active,omitempty" yaml:"cron_active,omitempty" toml:"cron_active,omitempty"`
	Pre               CommandSpec `json:"pre" yaml:"pre,omitempty" toml:"pre,omitempty"`
	PostSuccess       CommandSpec `json:"post_success" yaml:"post_success,omitempty" toml:"post_success,omitempty"`
	PostFailure       CommandSpec `json:"post_failure" yaml:"post_failure,omitempty" toml:"post_failure,omitempty"`
	PostAlways        CommandSpec `json:"post_always" yaml:"post_always,omitempty" toml:"post_always,omitempty"`
	HaltOnTaskFailure bool        `json:"halt_on_task_failure,omitempty" yaml:"halt_on_task_failure,omitempty" toml:"halt_on_task_failure,omitempty"`
	LogMode           LogMode     `json:"log_mode,omitempty" yaml:"log_mode,omitempty" toml:"log_mode,omitempty"`
	LastRun           *time.Time  `json:"last_run,omitempty" yaml:"last_run,omitempty" toml:"last_run,omitempty"`
	LastExitCode      *int        `json:"last_exit_code,omitempty" yaml:"last_exit_code,omitempty" toml:"last_exit_code,omitempty"`
	History           string      `json:"history,omitempty" yaml:"history,omitempty" toml:"history,omitempty"`
}

// Clone returns a deep copy, so a running Job never shares memory with the catalog.
func (j Job) Clone() Job {
	j.TaskIDs = slices.Clone(j.TaskIDs)
	if j.LastRun != nil {
		t := *j.LastRun
		j.LastRun = &t
	}
	if j.LastExitCode != nil {
		c := *j.LastExitCode
		j.LastExitCode = &c
	}
	return j
}

// Task is a single invocation of the sync tool plus its hooks.
type Task struct {
	ID           string      `json:"id" yaml:"id" toml:"id"`
	Name         string      `json:"name" yaml:"name" toml:"name"`
	Source       string      `json:"source" yaml:"source" toml:"source"`
	Destination  string      `json:"destination" yaml:"destination" toml:"destination"`
	DryRun       bool        `json:"dry_run,omitempty" yaml:"dry_run,omitempty" toml:"dry_run,omitempty"`
	Options      []string    `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
	Excludes     []string    `json:"excludes,omitempty" yaml:"excludes,omitempty" toml:"excludes,omitempty"`
	Env          string      `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	Before       CommandSpec `json:"before" yaml:"before,omitempty" toml:"before,omitempty"`
	AfterSuccess CommandSpec `json:"after_success" yaml:"after_success,omitempty" toml:"after_success,omitempty"`
	AfterFailure CommandSpec `json:"after_failure" yaml:"after_failure,omitempty" toml:"after_failure,omitempty"`
	AfterAlways  CommandSpec `json:"after_always" yaml:"after_always,omitempty" toml:"after_always,omitempty"`
	History      string      `json:"history,omitempty" yaml:"history,omitempty" toml:"history,omitempty"`
}

func (t Task) Clone() Task {
	t.Options = slices.Clone(t.Options)
	t.Excludes = slices.Clone(t.Excludes)
	return t
}

// Catalog is the persisted set of Jobs and Tasks.
type Catalog struct {
	Jobs  []Job  `json:"jobs" yaml:"jobs" toml:"jobs"`
	Tasks []Task `json:"tasks" yaml:"tasks" toml:"tasks"`
}
