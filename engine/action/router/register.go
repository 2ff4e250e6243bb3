package actrouter

import (
	"github.com/gin-gonic/gin"

	"github.com/idc-core/idc/engine/infra/server/router"
)

func Register(apiBase *gin.RouterGroup) {
	group := apiBase.Group("", router.ClientMiddleware())
	{
		// POST /action
		// Execute an action definition
		group.POST("/action", handleAction)

		// POST /task
		// Execute a single task wrapped into an action
		group.POST("/task", handleTask)
	}
}
