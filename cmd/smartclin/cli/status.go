package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the SmartClin server is running",
		Long:  "Report the server process state and its readiness, including whether the credential store answers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func runStatus() error {
	pid, err := readPID()
	if err != nil {
		fmt.Println("Server is not running (no PID file found).")
		return nil
	}

	if !isProcessRunning(pid) {
		removePID()
		fmt.Println("Server is not running (stale PID file removed).")
		return nil
	}

	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	readyAddr := fmt.Sprintf("http://%s:%d/readyz", host, viper.GetInt("server.port"))

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(readyAddr)
	if err != nil {
		fmt.Printf("Server process is running (PID %d) but not responding to HTTP.\n", pid)
		fmt.Printf("  Logs: %s\n", logFilePath())
		return nil
	}
	defer resp.Body.Close()

	var ready readiness
	_ = json.NewDecoder(resp.Body).Decode(&ready)

	fmt.Printf("Server is running (PID %d)\n", pid)
	fmt.Printf("  Ready:   %s (%d %s)\n", readyAddr, resp.StatusCode, ready.Status)
	if s, ok := ready.Checks["store"]; ok {
		fmt.Printf("  Store:   %s\n", s)
	}
	fmt.Printf("  Logs:    %s\n", logFilePath())
	return nil
}
