package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// stopWait is the default bound on how long stop waits for the server to
// drain and exit. It sits above the server's 30s shutdown timeout.
const stopWait = 35 * time.Second

func newStopCmd() *cobra.Command {
	var (
		timeout time.Duration
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background SmartClin server",
		Long: `Stop a SmartClin server started with 'smartclin serve --background'.

The server is found through smartclin.pid in the data directory. It drains
in-flight requests and stops the session purge before exiting; --force kills
it once --timeout has passed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(timeout, force)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", stopWait, "How long to wait for a graceful shutdown")
	cmd.Flags().BoolVar(&force, "force", false, "Kill the server if it has not exited within --timeout")

	return cmd
}

func runStop(timeout time.Duration, force bool) error {
	pid, err := readPID()
	if err != nil {
		return fmt.Errorf("no running server found (missing PID file at %s)", pidFilePath())
	}

	if !isProcessRunning(pid) {
		removePID()
		return fmt.Errorf("server (PID %d) is not running (stale %s removed)", pid, pidFilePath())
	}

	fmt.Printf("Stopping SmartClin server (PID %d)...\n", pid)
	if err := stopProcess(pid); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if waitForExit(pid, timeout) {
		removePID()
		fmt.Println("Server stopped.")
		return nil
	}
	if !force {
		return fmt.Errorf("server (PID %d) did not stop within %s (retry with --force)", pid, timeout)
	}

	fmt.Printf("Server still running after %s, killing it.\n", timeout)
	if err := killProcess(pid); err != nil {
		return fmt.Errorf("failed to kill server: %w", err)
	}
	removePID()
	fmt.Println("Server killed; sessions are intact in the credential store.")
	return nil
}

// waitForExit polls pid until it exits or timeout passes.
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if !isProcessRunning(pid) {
			return true
		}
	}
	return !isProcessRunning(pid)
}
