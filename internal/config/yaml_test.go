package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/paycore/tokend/internal/token"
)

func validConfig(t *testing.T) *YAMLConfig {
	t.Helper()
	salt, err := token.GenerateSalt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	cfg := DefaultYAMLConfig()
	cfg.Auth.HMACSecret = "hmac"
	cfg.Auth.BcryptSalt = salt
	return cfg
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokend.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultYAMLConfig(t *testing.T) {
	cfg := DefaultYAMLConfig()
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.ShutdownDuration() != 30*time.Second {
		t.Errorf("shutdown = %v, want 30s", cfg.ShutdownDuration())
	}
	// Defaults alone are not usable: the secrets are missing.
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadYAMLConfig_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("TEST_TOKEND_SECRET", "from-env")
	path := writeFile(t, `
server:
  port: 9191
auth:
  hmac_secret: ${TEST_TOKEND_SECRET}
database:
  driver: postgres
  dsn: postgres://tokend@localhost/tokend
`)

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Auth.HMACSecret != "from-env" {
		t.Errorf("hmac_secret = %q, want expanded env value", cfg.Auth.HMACSecret)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want default 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("logging.format = %q, want default text", cfg.Logging.Format)
	}
	sc := cfg.StoreConfig()
	if sc.Driver != "postgres" || sc.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("StoreConfig() = %+v", sc)
	}
}

func TestLoadYAMLConfig_Errors(t *testing.T) {
	if _, err := LoadYAMLConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadYAMLConfig(writeFile(t, "server: [unterminated")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*YAMLConfig)
		wantErr string
	}{
		{"valid", func(*YAMLConfig) {}, ""},
		{"missing hmac secret", func(c *YAMLConfig) { c.Auth.HMACSecret = "" }, "auth.hmac_secret"},
		{"malformed salt", func(c *YAMLConfig) { c.Auth.BcryptSalt = "nope" }, "auth.bcrypt_salt"},
		{"unknown driver", func(c *YAMLConfig) { c.Database.Driver = "oracle" }, "database.driver"},
		{"postgres without dsn", func(c *YAMLConfig) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"bad port", func(c *YAMLConfig) { c.Server.Port = 70000 }, "server.port"},
		{"bad duration", func(c *YAMLConfig) { c.Server.ShutdownTimeout = "soon" }, "server.shutdown_timeout"},
		{"bad log level", func(c *YAMLConfig) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *YAMLConfig) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad trusted proxy", func(c *YAMLConfig) { c.Server.TrustedProxies = []string{"lb.internal"} }, "server.trusted_proxies"},
		{"trusted proxies", func(c *YAMLConfig) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "127.0.0.1"} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyViper(t *testing.T) {
	t.Setenv("TOKEND_AUTH_HMAC_SECRET", "env-secret")
	t.Setenv("TOKEND_LOGGING_FORMAT", "json")

	v := viper.New()
	v.SetEnvPrefix("TOKEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.Set("server.port", 9999)
	v.Set("mcp.enabled", true)

	cfg := DefaultYAMLConfig()
	cfg.Auth.HMACSecret = "file-secret"
	cfg.ApplyViper(v)

	if cfg.Auth.HMACSecret != "env-secret" {
		t.Errorf("hmac_secret = %q, want env override", cfg.Auth.HMACSecret)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging.format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if !cfg.MCP.Enabled {
		t.Error("mcp.enabled should be true")
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, unset keys must keep their value", cfg.Server.Host)
	}
}

func TestWriteDefaultConfig_RoundTrip(t *testing.T) {
	salt, err := token.GenerateSalt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	path := filepath.Join(t.TempDir(), "tokend.yaml")
	if err := WriteDefaultConfig(path, "secret", salt); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written default config should validate: %v", err)
	}
	if cfg.Auth.BcryptSalt != salt {
		t.Errorf("bcrypt_salt = %q, want %q", cfg.Auth.BcryptSalt, salt)
	}
}

func TestWriteDefaultConfig_KeepsDollarSigns(t *testing.T) {
	t.Setenv("word", "should-not-expand")
	salt := "$2a$10$abcdefghijklmnopqrstuu"
	path := filepath.Join(t.TempDir(), "tokend.yaml")
	if err := WriteDefaultConfig(path, "pa$$word$1$word", salt); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Auth.HMACSecret != "pa$$word$1$word" {
		t.Errorf("hmac_secret = %q, want it unchanged", cfg.Auth.HMACSecret)
	}
	if cfg.Auth.BcryptSalt != salt {
		t.Errorf("bcrypt_salt = %q, want %q", cfg.Auth.BcryptSalt, salt)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_TOKEND_HOST", "db.internal")
	tests := []struct {
		in, want string
	}{
		{"dsn: postgres://${TEST_TOKEND_HOST}/x", "dsn: postgres://db.internal/x"},
		{"salt: $2a$04$abc", "salt: $2a$04$abc"},
		{"secret: $TEST_TOKEND_HOST", "secret: $TEST_TOKEND_HOST"},
		{"missing: ${TEST_TOKEND_UNSET_VAR}", "missing: "},
		{"open: ${", "open: ${"},
	}
	for _, tt := range tests {
		if got := expandEnv(tt.in); got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTrustedProxies(t *testing.T) {
	cfg := validConfig(t)
	if got := cfg.TrustedProxies(); len(got) != 0 {
		t.Errorf("default TrustedProxies() = %v, want none", got)
	}
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "bogus", "::1"}
	got := cfg.TrustedProxies()
	if len(got) != 2 || got[0].String() != "10.0.0.0/8" || got[1].String() != "::1/128" {
		t.Errorf("TrustedProxies() = %v", got)
	}
}

func TestRedacted(t *testing.T) {
	cfg := validConfig(t)
	cfg.Database.DSN = "postgres://user:pw@db/tokend"

	r := cfg.Redacted()
	if r.Auth.HMACSecret == cfg.Auth.HMACSecret || r.Auth.BcryptSalt == cfg.Auth.BcryptSalt || r.Database.DSN == cfg.Database.DSN {
		t.Error("Redacted() must mask secrets")
	}
	if cfg.Auth.HMACSecret != "hmac" {
		t.Error("Redacted() must not modify the receiver")
	}
}
