package cli

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartclin/smart-app-clinic-sub000/internal/config"
)

var (
	cfgFile    string
	devMode    bool
	appVersion string // set in Execute, reported by serve, openapi and mcp
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smartclin",
		Short: "Authorization core of the SmartClin pediatric clinic",
		Long: `SmartClin: sessions, roles and route protection for the pediatric clinic app.

The server resolves sessions from cookies or bearer tokens, enforces the role and
permission model on every procedure and page, and exchanges credentials for
sessions. The same binary manages identities, inspects the route policy, renders
the procedure catalogue and serves read-only MCP tools for AI agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./smartclin.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite credential store (default: ~/.smartclin)")
	cmd.PersistentFlags().BoolVar(&devMode, "dev", false, "development mode (debug logging, relaxed secret checks)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newRoleCmd())
	cmd.AddCommand(newPolicyCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func initConfig() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("smartclin")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.smartclin")
	}

	setDefaults(config.DefaultYAMLConfig())

	viper.SetEnvPrefix("SMARTCLIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig() // Ignore error - config file is optional
}

// setDefaults registers every known key so AutomaticEnv can resolve it even
// when no config file mentions it.
func setDefaults(d *config.YAMLConfig) {
	viper.SetDefault("server.host", d.Server.Host)
	viper.SetDefault("server.port", d.Server.Port)
	viper.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	viper.SetDefault("server.sign_in_rate_per_minute", d.Server.SignInRatePerMinute)
	viper.SetDefault("server.cors.origins", d.Server.CORS.Origins)

	viper.SetDefault("auth.secret", d.Auth.Secret)
	viper.SetDefault("auth.cookie_name", d.Auth.CookieName)
	viper.SetDefault("auth.cookie_secure", d.Auth.CookieSecure)
	viper.SetDefault("auth.session_ttl", d.Auth.SessionTTL)
	viper.SetDefault("auth.update_age", d.Auth.UpdateAge)
	viper.SetDefault("auth.fresh_age", d.Auth.FreshAge)

	viper.SetDefault("store.driver", d.Store.Driver)
	viper.SetDefault("store.dsn", d.Store.DSN)
	viper.SetDefault("store.data_dir", d.Store.DataDir)

	viper.SetDefault("mcp.transport", d.MCP.Transport)
	viper.SetDefault("mcp.port", d.MCP.Port)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)
}
