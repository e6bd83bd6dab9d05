package model

import "time"

type EventKind string

const (
	EventStarted   EventKind = "started"
	EventOutput    EventKind = "output"
	EventFinished  EventKind = "finished"
	EventCancelled EventKind = "cancelled"
	EventError     EventKind = "error"
)

type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Stage identifies which part of a Job run produced an event.
type Stage string

const (
	StageJob  Stage = "job"
	StagePre  Stage = "pre"
	StageTask Stage = "task"
	StagePost Stage = "post"
)

// RunState is the state of one Job run.
type RunState string

const (
	StateIdle         RunState = "idle"
	StateRunningPre   RunState = "running-pre"
	StateRunningTasks RunState = "running-tasks"
	StateRunningPost  RunState = "running-post"
	StateFinished     RunState = "finished"
	StateCancelled    RunState = "cancelled"
	StateAbortedPre   RunState = "aborted-pre"
)

// Terminal reports whether no transition leaves the state.
func (s RunState) Terminal() bool {
	switch s {
	case StateFinished, StateCancelled, StateAbortedPre:
		return true
	}
	return false
}

// ProcessEvent is emitted while a Job runs. TaskID is empty for events
// of the job itself and of its pre and post commands.
type ProcessEvent struct {
	Kind     EventKind `json:"kind"`
	RunID    string    `json:"run_id"`
	JobID    string    `json:"job_id"`
	TaskID   string    `json:"task_id,omitempty"`
	Stage    Stage     `json:"stage"`
	Stream   Stream    `json:"stream,omitempty"`
	Text     string    `json:"text,omitempty"`
	ExitCode int       `json:"exit_code"`
	State    RunState  `json:"state,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// Success is meaningful for finished events only.
func (e ProcessEvent) Success() bool {
	return e.Kind == EventFinished && e.ExitCode == 0
}

type ServerEventKind string

const (
	ServerCron             ServerEventKind = "cron"
	ServerCatalog          ServerEventKind = "catalog"
	ServerClientRegistered ServerEventKind = "client-registered"
	ServerClientRemoved    ServerEventKind = "client-removed"
	ServerShutdown         ServerEventKind = "shutdown"
)

// ServerEvent reports a change of the daemon state not bound to a run.
type ServerEvent struct {
	Kind       ServerEventKind `json:"kind"`
	Message    string          `json:"message,omitempty"`
	JobID      string          `json:"job_id,omitempty"`
	CronActive bool            `json:"cron_active"`
	Time       time.Time       `json:"time"`
}

// Notification is the envelope pushed to every observer, exactly one
// of the fields is set.
type Notification struct {
	Process *ProcessEvent `json:"process,omitempty"`
	Server  *ServerEvent  `json:"server,omitempty"`
}
