package serve

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/idc-core/idc/engine/infra/server"
	"github.com/idc-core/idc/pkg/config"
	"github.com/idc-core/idc/pkg/logger"
)

const productionEnvironment = "production"

// NewServeCommand creates the command that runs the HTTP server.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the idc-core HTTP server",
		Args:    cobra.NoArgs,
		RunE:    executeServe,
	}
}

func executeServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	if cfg.Runtime.Environment == productionEnvironment {
		gin.SetMode(gin.ReleaseMode)
	}
	logger.FromContext(ctx).Info("Starting idc-core server",
		"environment", cfg.Runtime.Environment,
		"db_driver", cfg.Database.Driver,
		"redis_mode", cfg.Redis.Mode,
		"bus_driver", cfg.Bus.Driver,
	)
	srv, err := server.NewServer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Run()
}
