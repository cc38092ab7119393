package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartclin/smart-app-clinic-sub000/internal/server"
)

const banner = `
  ___                  _    ___ _ _
 / __|_ __  __ _ _ _| |_ / __| (_)_ _
 \__ \ '  \/ _' | '_|  _| (__| | | ' \
 |___/_|_|_\__,_|_|  \__|\___|_|_|_||_|
`

func newServeCmd() *cobra.Command {
	var (
		port       int
		host       string
		background bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SmartClin server",
		Long: `Start the HTTP server: credential exchange under /api/auth, procedures under
/api/rpc, and the role-gated pages. Use --background to detach; 'smartclin stop'
and 'smartclin status' manage the detached server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if background {
				return runBackground()
			}
			return runServe()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&background, "background", false, "Run the server detached, logging to the data directory")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe() error {
	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(os.Stderr)

	c, err := openCore(logger)
	if err != nil {
		return err
	}
	defer c.store.Close()
	logger.Info("credential store opened", "driver", c.store.Driver())

	if n, err := c.store.CountIdentities(context.Background()); err != nil {
		logger.Warn("failed to count identities", "error", err)
	} else if n == 0 {
		logger.Warn("no identities yet - run: smartclin user create --email you@example.com --role admin")
	}

	shutdown, err := durationSetting("server.shutdown_timeout")
	if err != nil {
		return err
	}
	cfg := server.DefaultConfig()
	cfg.Host = viper.GetString("server.host")
	cfg.Port = viper.GetInt("server.port")
	if shutdown > 0 {
		cfg.ShutdownTimeout = shutdown
	}
	if origins := viper.GetStringSlice("server.cors.origins"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	cfg.SignInRatePerMinute = viper.GetInt("server.sign_in_rate_per_minute")
	cfg.Version = versionString()

	srv, err := server.New(cfg, server.Deps{
		Store:    c.store,
		Auth:     c.auth,
		Resolver: c.resolver,
		Gate:     c.gate,
		Policy:   c.policy,
		Metrics:  c.metrics,
	}, logger)
	if err != nil {
		return err
	}

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write pid file", "path", pidFilePath(), "error", err)
	}
	defer removePID()

	fmt.Printf("→ SmartClin %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Host, cfg.Port)
	fmt.Printf("→ Sign in:    http://%s:%d/sign-in\n", cfg.Host, cfg.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Host, cfg.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Host, cfg.Port)
	fmt.Printf("→ Procedures: %d\n", len(srv.Registry().Procedures()))
	fmt.Println()

	return srv.ListenAndServe()
}

// runBackground re-executes serve without --background as a detached child
// whose output goes to the log file in the data directory.
func runBackground() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	args := make([]string, 0, len(os.Args))
	for _, a := range os.Args[1:] {
		if a == "--background" || a == "--background=true" {
			continue
		}
		args = append(args, a)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = os.Environ()
	setSysProcAttr(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	fmt.Printf("SmartClin server started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop: smartclin stop")
	return child.Process.Release()
}
