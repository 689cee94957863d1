//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the child in its own process group so the whole tree
// can be signalled together.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// interruptProcessGroup sends SIGTERM to the entire process group.
// On Unix the group ID equals the PID of the group leader; a negative
// PID signals the whole group.
func interruptProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessGroup sends SIGKILL to the entire process group.
// Safe to call multiple times; ESRCH means the group already exited.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}
