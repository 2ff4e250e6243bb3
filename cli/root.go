package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/idc-core/idc/cli/cmd/client"
	"github.com/idc-core/idc/cli/cmd/run"
	"github.com/idc-core/idc/cli/cmd/serve"
	"github.com/idc-core/idc/pkg/config"
	"github.com/idc-core/idc/pkg/logger"
	"github.com/idc-core/idc/pkg/version"
)

const (
	flagConfig    = "config"
	flagEnvFile   = "env-file"
	flagLogLevel  = "log-level"
	flagLogJSON   = "log-json"
	flagLogSource = "log-source"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "idc",
		Short:         "idc-core action orchestration engine",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")
	addGlobalFlags(root.PersistentFlags())
	root.AddCommand(
		serve.NewServeCommand(),
		run.NewRunCommand(),
		client.NewClientCommand(),
	)
	return root
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.String(flagConfig, "idc.yaml", "Path to the configuration file")
	flags.String(flagEnvFile, ".env", "Path to the environment variables file")
	flags.String(flagLogLevel, "info", "Log level (debug, info, warn, error)")
	flags.Bool(flagLogJSON, false, "Output logs in JSON format")
	flags.Bool(flagLogSource, false, "Include source code location in logs")
	flags.String("host", "", "Host to bind the HTTP server to")
	flags.Int("port", 0, "Port for the HTTP server")
	flags.String("db-driver", "", "Document store driver (postgres, sqlite)")
	flags.String("db-conn-string", "", "Database connection string")
	flags.String("db-path", "", "SQLite database path")
	flags.String("redis-mode", "", "Redis mode (embedded, external)")
	flags.String("redis-url", "", "Redis connection URL")
	flags.String("bus-driver", "", "Message bus driver (redis, nats)")
	flags.String("nats-url", "", "NATS server URL or \"embedded\"")
	flags.Bool("show-timer-logs", false, "Log task timings")
}

// SetupGlobalConfig loads configuration with precedence defaults < YAML <
// CLI flags < environment and attaches it, together with the logger, to the
// command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
	}
	configFile, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return err
	}
	changed := make(map[string]any)
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = f.Value.String()
		}
	})
	sources := []config.Source{config.NewEnvProvider()}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	sources = append(sources, config.NewCLIProvider(changed))
	cfg, err := config.NewService().Load(ctx, sources...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	_, _, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.SetupLogger(cfg.Runtime.LogLevel, cfg.Runtime.LogJSON, logSource)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithConfig(ctx, cfg)
	cmd.SetContext(ctx)
	return nil
}
