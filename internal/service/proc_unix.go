//go:build unix

package service

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProc starts the command in its own process group, so that
// children of hooks are terminated with them.
func configureProc(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(cmd *exec.Cmd) error {
	return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
}
