package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	appVersion string // set in Execute, advertised by serve and mcp
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokend",
		Short: "Issue, authenticate and revoke tenant API tokens",
		Long: `tokend issues opaque API keys to tenants, authenticates them for resource
servers, and manages their lifecycle. Keys are self-checking and only a salted
hash is ever stored.

Configuration is read from tokend.yaml (./ or ~/.tokend/), overridden by
TOKEND_* environment variables (e.g. TOKEND_AUTH_HMAC_SECRET) and flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./tokend.yaml)")
	cmd.PersistentFlags().String("data-dir", "", "data directory for the SQLite token store (default: ~/.tokend)")
	cmd.PersistentFlags().String("driver", "", "token store driver: sqlite, postgres, mysql or sqlserver")
	cmd.PersistentFlags().String("dsn", "", "token store connection string")
	viper.BindPFlag("database.data_dir", cmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("database.driver", cmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("database.dsn", cmd.PersistentFlags().Lookup("dsn"))

	cobra.OnInitialize(initConfig)

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

// initConfig wires environment overrides. The YAML file itself is parsed by
// loadConfig so that ${VAR} references are expanded first.
func initConfig() {
	viper.SetEnvPrefix("TOKEND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
