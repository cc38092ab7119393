package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	smcp "github.com/smartclin/smart-app-clinic-sub000/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server with read-only authorization tools:
list the roles, check a permission statement against roles, explain the page
gate's decision for a path, and look up the roles and ban state of an identity.
No tool changes state or returns names or e-mail addresses.

In stdio mode the server speaks JSON-RPC over stdin/stdout, for clients that
launch the binary. In HTTP mode it serves Streamable HTTP on the given port.`,
		Example: `  smartclin mcp                             # stdio mode
  smartclin mcp --transport http --port 3001  # Streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("transport") {
				transport = viper.GetString("mcp.transport")
			}
			if !cmd.Flags().Changed("port") {
				port = viper.GetInt("mcp.port")
			}
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	// stdout carries the protocol in stdio mode, so logs go to stderr.
	logger := newLogger(os.Stderr)

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	mcpSrv := smcp.NewMCPServer(store, nil, versionString(), logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
