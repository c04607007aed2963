package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/paycore/tokend/internal/server/middleware"
	"github.com/paycore/tokend/internal/store"
	"github.com/paycore/tokend/internal/token"
)

// YAMLConfig represents the top-level tokend configuration file.
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	MCP      MCPConfig      `yaml:"mcp"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	BaseURL         string     `yaml:"base_url"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	AuthRateLimit   int        `yaml:"auth_rate_limit"`
	// TrustedProxies lists the IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies  []string   `yaml:"trusted_proxies"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// AuthConfig holds the token secrets. Both values must stay stable for the
// lifetime of the token database: changing either invalidates every issued
// API key.
type AuthConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
	BcryptSalt string `yaml:"bcrypt_salt"`
}

// DatabaseConfig selects the token store. An empty DSN with the sqlite
// driver means tokend.db inside DataDir.
type DatabaseConfig struct {
	Driver  string         `yaml:"driver"`
	DSN     string         `yaml:"dsn"`
	DataDir string         `yaml:"data_dir"`
	Pool    PoolYAMLConfig `yaml:"pool"`
}

// PoolYAMLConfig controls the connection pool of the token store.
type PoolYAMLConfig struct {
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime string `yaml:"conn_max_idle_time"`
}

// MCPConfig controls the MCP endpoint mounted on the HTTP server.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envRef matches the ${VAR_NAME} form only. A bare $ is kept as is, since
// bcrypt salts and secrets routinely contain it.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

// LoadYAMLConfig reads and parses a YAML configuration file on top of
// DefaultYAMLConfig. Environment variables referenced as ${VAR_NAME} in the
// file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := expandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
// The auth secrets are left empty and must be supplied.
func DefaultYAMLConfig() *YAMLConfig {
	home, _ := os.UserHomeDir()
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			AuthRateLimit:   600,
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			DataDir: home + "/.tokend",
			Pool: PoolYAMLConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: "5m",
				ConnMaxIdleTime: "1m",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file, with
// the given secrets filled in.
func WriteDefaultConfig(path, hmacSecret, bcryptSalt string) error {
	cfg := DefaultYAMLConfig()
	cfg.Auth.HMACSecret = hmacSecret
	cfg.Auth.BcryptSalt = bcryptSalt
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ApplyViper overlays values that were set through v, either by a bound
// command line flag or a TOKEND_* environment variable.
func (c *YAMLConfig) ApplyViper(v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("server.host", &c.Server.Host)
	str("server.base_url", &c.Server.BaseURL)
	str("server.shutdown_timeout", &c.Server.ShutdownTimeout)
	str("auth.hmac_secret", &c.Auth.HMACSecret)
	str("auth.bcrypt_salt", &c.Auth.BcryptSalt)
	str("database.driver", &c.Database.Driver)
	str("database.dsn", &c.Database.DSN)
	str("database.data_dir", &c.Database.DataDir)
	str("logging.level", &c.Logging.Level)
	str("logging.format", &c.Logging.Format)

	if v.IsSet("server.port") {
		c.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("server.auth_rate_limit") {
		c.Server.AuthRateLimit = v.GetInt("server.auth_rate_limit")
	}
	if v.IsSet("server.trusted_proxies") {
		c.Server.TrustedProxies = v.GetStringSlice("server.trusted_proxies")
	}
	if v.IsSet("server.cors.origins") {
		c.Server.CORS.Origins = v.GetStringSlice("server.cors.origins")
	}
	if v.IsSet("mcp.enabled") {
		c.MCP.Enabled = v.GetBool("mcp.enabled")
	}
}

// Validate reports every problem with the configuration at once, wrapped in
// ErrInvalidConfig.
func (c *YAMLConfig) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.AuthRateLimit < 0 {
		errs = append(errs, errors.New("server.auth_rate_limit must not be negative"))
	}
	if _, err := middleware.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("server.trusted_proxies: %w", err))
	}
	for key, d := range map[string]string{
		"server.shutdown_timeout":          c.Server.ShutdownTimeout,
		"database.pool.conn_max_lifetime":  c.Database.Pool.ConnMaxLifetime,
		"database.pool.conn_max_idle_time": c.Database.Pool.ConnMaxIdleTime,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	if c.Auth.HMACSecret == "" {
		errs = append(errs, errors.New("auth.hmac_secret is required"))
	}
	if c.Auth.BcryptSalt == "" {
		errs = append(errs, errors.New("auth.bcrypt_salt is required"))
	} else if _, err := token.ParseSalt(c.Auth.BcryptSalt); err != nil {
		errs = append(errs, fmt.Errorf("auth.bcrypt_salt: %w", err))
	}

	d, err := store.LookupDialect(c.Database.Driver)
	if err != nil {
		errs = append(errs, fmt.Errorf("database.driver: %w", err))
	} else if d.Name != "sqlite" && c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn is required for driver %q", d.Name))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q: want debug, info, warn or error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: want text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ShutdownDuration returns server.shutdown_timeout, or 30s when unset.
func (c *YAMLConfig) ShutdownDuration() time.Duration {
	return durationOr(c.Server.ShutdownTimeout, 30*time.Second)
}

// StoreConfig converts the database section for store.Open. For sqlite
// without a DSN the caller should use store.NewStore(DataDir) instead.
func (c *YAMLConfig) StoreConfig() store.Config {
	return store.Config{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.Pool.MaxOpenConns,
		MaxIdleConns:    c.Database.Pool.MaxIdleConns,
		ConnMaxLifetime: durationOr(c.Database.Pool.ConnMaxLifetime, 0),
		ConnMaxIdleTime: durationOr(c.Database.Pool.ConnMaxIdleTime, 0),
	}
}

// TrustedProxies returns the parsed server.trusted_proxies. Entries that do
// not parse are dropped; Validate reports them.
func (c *YAMLConfig) TrustedProxies() []netip.Prefix {
	var out []netip.Prefix
	for _, e := range c.Server.TrustedProxies {
		if p, err := middleware.ParseTrustedProxies([]string{e}); err == nil {
			out = append(out, p...)
		}
	}
	return out
}

// TokenConfig returns the codec settings.
func (c *YAMLConfig) TokenConfig() token.Config {
	return token.Config{
		HMACSecret: c.Auth.HMACSecret,
		BcryptSalt: c.Auth.BcryptSalt,
	}
}

// Redacted returns a copy with the auth secrets masked, for display.
func (c *YAMLConfig) Redacted() *YAMLConfig {
	cp := *c
	cp.Server.CORS.Origins = append([]string(nil), c.Server.CORS.Origins...)
	cp.Server.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	if cp.Auth.HMACSecret != "" {
		cp.Auth.HMACSecret = "********"
	}
	if cp.Auth.BcryptSalt != "" {
		cp.Auth.BcryptSalt = "********"
	}
	if cp.Database.DSN != "" {
		cp.Database.DSN = "********"
	}
	return &cp
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
