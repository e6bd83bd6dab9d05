package model

import "time"

// RunStatus describes an in-flight Job run.
type RunStatus struct {
	RunID   string    `json:"run_id" yaml:"run_id"`
	JobID   string    `json:"job_id" yaml:"job_id"`
	JobName string    `json:"job_name" yaml:"job_name"`
	State   RunState  `json:"state" yaml:"state"`
	TaskID  string    `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Started time.Time `json:"started" yaml:"started"`
}

// ClientInfo describes a registered observer.
type ClientInfo struct {
	Handle   string `json:"handle" yaml:"handle"`
	Hostname string `json:"hostname" yaml:"hostname"`
}

type Status struct {
	Hostname   string       `json:"hostname" yaml:"hostname"`
	StartedAt  time.Time    `json:"started_at" yaml:"started_at"`
	CronActive bool         `json:"cron_active" yaml:"cron_active"`
	Jobs       int          `json:"jobs" yaml:"jobs"`
	Tasks      int          `json:"tasks" yaml:"tasks"`
	Running    []RunStatus  `json:"running" yaml:"running"`
	Clients    []ClientInfo `json:"clients" yaml:"clients"`
}
