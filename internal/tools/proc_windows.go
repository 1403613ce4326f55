//go:build windows

package tools

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

// signalGroup kills the process; Windows has no SIGTERM.
func signalGroup(cmd *exec.Cmd, kill bool) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
