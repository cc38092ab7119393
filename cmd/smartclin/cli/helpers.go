package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/smartclin/smart-app-clinic-sub000/internal/config"
	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
	"github.com/smartclin/smart-app-clinic-sub000/internal/service"
	"github.com/smartclin/smart-app-clinic-sub000/internal/session"
	"github.com/smartclin/smart-app-clinic-sub000/internal/telemetry"
)

// cliActor is recorded as the actor of administrative changes made from the
// command line.
const cliActor = "cli"

// devSecret signs sessions in --dev mode when no secret is configured.
const devSecret = "smartclin-dev-secret-do-not-use-in-production"

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir, store.data_dir
// (SMARTCLIN_STORE_DATA_DIR), or ~/.smartclin as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if dir := viper.GetString("store.data_dir"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".smartclin")
}

// openStore opens the credential store selected by store.driver.
func openStore() (*config.Store, error) {
	store, err := config.NewStore(config.StoreOptions{
		Driver:  viper.GetString("store.driver"),
		DSN:     viper.GetString("store.dsn"),
		DataDir: resolveDataDir(),
	})
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return store, nil
}

// openAuthService opens the store and an AuthService for operator commands.
// Operator commands never issue tokens, so no signer is configured. The
// caller closes the returned store.
func openAuthService(logger *slog.Logger) (*service.AuthService, *config.Store, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	return service.NewAuthService(store, nil, service.AuthOptions{Logger: logger}), store, nil
}

// newLogger builds the process logger from logging.level and logging.format.
// --dev forces debug.
func newLogger(w io.Writer) *slog.Logger {
	level := parseLevel(viper.GetString("logging.level"))
	if devMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(viper.GetString("logging.format"), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveSecret returns the session signing secret. Outside --dev it must be
// at least 32 bytes.
func resolveSecret(secret string, dev bool) (string, error) {
	if secret == "" && dev {
		return devSecret, nil
	}
	if secret == "" {
		return "", errors.New("auth.secret is required (set SMARTCLIN_AUTH_SECRET)")
	}
	if len(secret) < session.MinSecretLength && !dev {
		return "", fmt.Errorf("auth.secret must be at least %d bytes", session.MinSecretLength)
	}
	return secret, nil
}

// durationSetting reads a duration key. A value without a unit is read as
// seconds; a "d" suffix means days.
func durationSetting(key string) (time.Duration, error) {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

// core is the wired authorization core the server runs on.
type core struct {
	store    *config.Store
	metrics  *telemetry.Metrics
	resolver *session.Resolver
	gate     *gate.Gate
	auth     *service.AuthService
	policy   *gate.Policy
}

// openCore reads the startup configuration once and wires the store,
// resolver, gate and credential exchange service together.
func openCore(logger *slog.Logger) (*core, error) {
	secret, err := resolveSecret(viper.GetString("auth.secret"), devMode)
	if err != nil {
		return nil, err
	}
	if secret == devSecret {
		logger.Warn("using the built-in development secret; sessions are forgeable")
	}
	signer, err := session.NewSigner(secret)
	if err != nil {
		return nil, err
	}

	ttl, err := durationSetting("auth.session_ttl")
	if err != nil {
		return nil, err
	}
	updateAge, err := durationSetting("auth.update_age")
	if err != nil {
		return nil, err
	}
	freshAge, err := durationSetting("auth.fresh_age")
	if err != nil {
		return nil, err
	}

	store, err := openStore()
	if err != nil {
		return nil, err
	}

	metrics := telemetry.New()
	return &core{
		store:   store,
		metrics: metrics,
		resolver: session.NewResolver(store, signer, logger, session.Options{
			CookieName:   viper.GetString("auth.cookie_name"),
			CookieSecure: viper.GetBool("auth.cookie_secure"),
			TTL:          ttl,
			UpdateAge:    updateAge,
			Observer:     metrics,
		}),
		gate: gate.New(gate.Options{
			Logger:   logger,
			FreshAge: freshAge,
			Observer: metrics,
		}),
		auth: service.NewAuthService(store, signer, service.AuthOptions{
			SessionTTL: ttl,
			Logger:     logger,
		}),
		policy: gate.DefaultPolicy(),
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "smartclin.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "smartclin.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
