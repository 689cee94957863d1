//go:build windows

package proc

import (
	"os"
	"os/exec"
)

// setProcAttr is a no-op on Windows. Windows uses job objects instead of
// POSIX process groups; killing the direct child is the best we do here.
func setProcAttr(cmd *exec.Cmd) {
}

// interruptProcessGroup kills the direct child process on Windows.
func interruptProcessGroup(pid int) error {
	return killProcessGroup(pid)
}

// killProcessGroup kills the direct child process on Windows.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}
