//go:build !windows

package cli

import (
	"os"
	"os/exec"
	"syscall"
)

// setSysProcAttr puts the background server in its own session, so closing
// the terminal that ran 'smartclin serve --background' does not stop it.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// isProcessRunning reports whether the PID recorded in smartclin.pid is
// still alive. Signal 0 checks existence without delivering anything.
func isProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// stopProcess asks the server to shut down. SIGTERM cancels the serve
// context: requests drain and the session purge loop exits.
func stopProcess(pid int) error {
	return signalPID(pid, syscall.SIGTERM)
}

// killProcess is the 'smartclin stop --force' path.
func killProcess(pid int) error {
	return signalPID(pid, syscall.SIGKILL)
}

func signalPID(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}
