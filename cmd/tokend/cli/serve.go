package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paycore/tokend/internal/server"
)

const banner = `
 _        _                 _
| |_ ___ | | _____ _ __   __| |
| __/ _ \| |/ / _ \ '_ \ / _' |
| || (_) |   <  __/ | | | (_| |
 \__\___/|_|\_\___|_| |_|\__,_|
`

func newServeCmd() *cobra.Command {
	var (
		port    int
		host    string
		withMCP bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tokend API server",
		Long: `Start the HTTP server that authenticates bearer API keys for resource servers
and exposes the token administration endpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&withMCP, "mcp", false, "Mount the MCP admin endpoint at /mcp")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("mcp.enabled", cmd.Flags().Lookup("mcp"))

	return cmd
}

func runServe() error {
	fmt.Print(banner)
	fmt.Println()

	svc, st, cfg, logger, err := openService(os.Stderr)
	if err != nil {
		return err
	}
	defer st.Close()

	version, err := st.SchemaVersion(cmdContext())
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("token store ready", "driver", st.Driver(), "schema_version", version)

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.ShutdownDuration(),
		CORSOrigins:     cfg.Server.CORS.Origins,
		AuthRateLimit:   cfg.Server.AuthRateLimit,
		BaseURL:         cfg.Server.BaseURL,
		Version:         versionString(),
		EnableMCP:       cfg.MCP.Enabled,
		TrustedProxies:  cfg.TrustedProxies(),
	}
	srv := server.New(srvCfg, svc, logger)

	base := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ tokend %s\n", versionString())
	fmt.Printf("→ Listening on %s\n", base)
	fmt.Printf("→ Authenticate: %s/v1/api/auth\n", base)
	fmt.Printf("→ OpenAPI:      %s/openapi.json\n", base)
	fmt.Printf("→ Health:       %s/healthz\n", base)
	if cfg.MCP.Enabled {
		fmt.Printf("→ MCP:          %s/mcp\n", base)
	}
	fmt.Println()

	return srv.ListenAndServe()
}
