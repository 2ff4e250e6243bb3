package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	actrouter "github.com/idc-core/idc/engine/action/router"
	"github.com/idc-core/idc/engine/infra/server/appstate"
	"github.com/idc-core/idc/pkg/logger"
)

const pingResponse = "idc-core is alive!"

// NewRouter builds the HTTP surface over deps.
func NewRouter(ctx context.Context, deps *Dependencies) (*gin.Engine, error) {
	state, err := appstate.NewState(deps.Store, deps.Executor)
	if err != nil {
		return nil, fmt.Errorf("failed to create app state: %w", err)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger.FromContext(ctx)))
	if deps.Monitoring != nil {
		r.Use(deps.Monitoring.GinMiddleware(ctx))
		if deps.Monitoring.IsInitialized() {
			r.GET(deps.Monitoring.Path(), gin.WrapH(deps.Monitoring.ExporterHandler()))
		}
	}
	r.Use(appstate.StateMiddleware(state))

	// GET /ping
	// Liveness check
	r.GET("/ping", handlePing)

	actrouter.Register(&r.RouterGroup)
	return r, nil
}

func handlePing(c *gin.Context) {
	logger.FromContext(c.Request.Context()).Debug("Ping received")
	c.String(http.StatusOK, pingResponse)
}
