//go:build windows

package cli

import (
	"os"
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

// setSysProcAttr detaches the child into a new process group.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// isProcessRunning reports whether pid refers to a live process. Windows
// FindProcess opens a handle and fails for processes that have exited.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}

// stopProcess terminates the process. Windows has no SIGTERM, so in-flight
// requests are not drained.
func stopProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// killProcess is the 'smartclin stop --force' path; on Windows stopProcess
// already kills.
func killProcess(pid int) error {
	return stopProcess(pid)
}
