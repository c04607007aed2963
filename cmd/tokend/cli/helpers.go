package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/paycore/tokend/internal/config"
	"github.com/paycore/tokend/internal/model"
	"github.com/paycore/tokend/internal/service"
	"github.com/paycore/tokend/internal/store"
	"github.com/paycore/tokend/internal/token"
)

// resolveConfigFile returns --config, or the first tokend.yaml found in the
// working directory or ~/.tokend. Empty means run on defaults.
func resolveConfigFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	candidates := []string{"tokend.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".tokend", "tokend.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then TOKEND_* variables and flags.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := resolveConfigFile(); path != "" {
		loaded, err := config.LoadYAMLConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyViper(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore opens the configured token store.
func openStore(cfg *config.YAMLConfig, logger *slog.Logger) (*store.Store, error) {
	d, err := store.LookupDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	if d.Name == "sqlite" && cfg.Database.DSN == "" {
		return store.NewStore(cfg.Database.DataDir, store.WithLogger(logger))
	}
	return store.Open(cfg.StoreConfig(), store.WithLogger(logger))
}

// openService loads the configuration and wires the token service. The
// returned store must be closed by the caller.
func openService(logOut io.Writer) (*service.TokenService, *store.Store, *config.YAMLConfig, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger := newLogger(cfg.Logging, logOut)

	codec, err := token.NewCodec(cfg.TokenConfig())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("init token codec: %w", err)
	}
	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open token store: %w", err)
	}
	return service.NewTokenService(st, codec, logger), st, cfg, logger, nil
}

// --- Tenant flags ---

type tenantFlags struct {
	accountID string
	serviceID string
	mode      string
}

func (f *tenantFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.accountID, "account", "", "Account id of the tenant")
	cmd.Flags().StringVar(&f.serviceID, "service", "", "Service external id of the tenant (takes precedence over --account)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Service mode: LIVE or TEST (with --service)")
}

func (f *tenantFlags) isSet() bool {
	return f.accountID != "" || f.serviceID != ""
}

// tenant builds the tenant the flags describe.
func (f *tenantFlags) tenant() (model.Tenant, error) {
	if f.serviceID != "" {
		mode, err := model.ParseServiceMode(f.mode)
		if err != nil {
			return model.Tenant{}, err
		}
		t := model.ServiceTenant(f.serviceID, mode)
		t.AccountID = f.accountID
		return t, nil
	}
	if f.accountID == "" {
		return model.Tenant{}, errors.New("--account or --service is required")
	}
	return model.AccountTenant(f.accountID), nil
}

// readSecret reads a value without echoing it when stdin is a terminal, and
// a single line otherwise so keys can be piped in.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
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

// cmdContext returns a background context for CLI operations.
func cmdContext() context.Context {
	return context.Background()
}
