//go:build !unix

package service

import (
	"os/exec"
)

func configureProc(_ *exec.Cmd) {}

// there is no SIGTERM on windows
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
