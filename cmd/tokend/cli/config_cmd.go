package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/paycore/tokend/internal/config"
	"github.com/paycore/tokend/internal/token"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage tokend configuration",
		Long:  "Initialize a configuration file, display the effective configuration, or generate secrets.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigGenSaltCmd())
	cmd.AddCommand(newConfigGenSecretCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
		cost  int
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a tokend.yaml with freshly generated secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(path, force, cost)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVarP(&path, "output", "o", "tokend.yaml", "Path of the config file to write")
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost of the generated salt")

	return cmd
}

func runConfigInit(path string, force bool, cost int) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}
	salt, err := token.GenerateSalt(cost)
	if err != nil {
		return err
	}

	if err := config.WriteDefaultConfig(path, secret, salt); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("The file holds the HMAC secret and bcrypt salt. Keep it private and never")
	fmt.Println("change either value once tokens are issued. Then run 'tokend serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(showSecrets)
		},
	}

	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print secrets and DSN unmasked")

	return cmd
}

func runConfigShow(showSecrets bool) error {
	if path := resolveConfigFile(); path != "" {
		fmt.Printf("# Config file: %s\n", path)
	} else {
		fmt.Println("# Config file: (none found, using defaults)")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("# Warning: %v\n", err)
		cfg = config.DefaultYAMLConfig()
		if path := resolveConfigFile(); path != "" {
			if loaded, lerr := config.LoadYAMLConfig(path); lerr == nil {
				cfg = loaded
			}
		}
	}
	if !showSecrets {
		cfg = cfg.Redacted()
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// ---------- config gen-salt / gen-secret ----------

func newConfigGenSaltCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "gen-salt",
		Short: "Generate a bcrypt salt for auth.bcrypt_salt",
		RunE: func(cmd *cobra.Command, args []string) error {
			salt, err := token.GenerateSalt(cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), salt)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func newConfigGenSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-secret",
		Short: "Generate a random value for auth.hmac_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := generateSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}

// generateSecret returns 32 random bytes, hex encoded.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
