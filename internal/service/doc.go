package service

// Package service implements the run engine of the daemon.
//
// Overview
// The Commander is the boundary used by the control API. It owns the
// Catalog of Jobs and Tasks, an Executor, a Broadcaster of events and the
// Cron scheduler. All of them are constructed once at startup and passed
// in, there is no global state.
//
// Executor runs a Job in its own goroutine. At most one run per Job id is
// active, a second start is rejected with model.ErrAlreadyRunning. Each run
// walks the state machine
//
//   idle -> running-pre -> running-tasks -> running-post -> finished
//                 |              |               |
//                 |              +---------------+--> cancelled
//                 +--> aborted-pre (pre command failed, halt on error)
//
// Tasks run sequentially in the order of the Job. A failed Task does not
// stop the following ones unless Job.HaltOnTaskFailure is set.
//
// Runner is a thin, opinionated wrapper around os/exec:
//   - starts the process with the daemon environment plus the Task one
//   - reads stdout and stderr line by line in two goroutines
//   - cancellation sends SIGTERM, the process is killed after KillDelay
//
// Data flow:
//
//   Commander          Executor{run}             Runner{cmd}          Broadcaster
//       |                    |                       |                     |
//   StartJob ----------->| Start ------------------>| Start()             |
//       |                    |<------ lines ---------|                     |
//       |                    |-------- output event ---------------------->| Notify x N
//       |                    |<------ exit code -----|                     |
//       |                    | history + catalog     |                     |
//       |                    |-------- finished event -------------------->|
//
// Invariants:
//   - At most one run per Job at a time.
//   - Events of one run are published in order, lines of one stream in
//     the order they were produced.
//   - Every stage outcome is recorded in history and broadcast.
//   - An observer whose delivery fails is removed.
//   - There is no timeout on external processes, a hung sync blocks its
//     Job until it is stopped.
