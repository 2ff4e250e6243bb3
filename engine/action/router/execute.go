package actrouter

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/idc-core/idc/engine/action"
	"github.com/idc-core/idc/engine/infra/server/router"
	"github.com/idc-core/idc/engine/task"
)

// SingleTaskKey names the task created by POST /task.
const SingleTaskKey = "task"

type ExecuteActionRequest struct {
	ActionDefinition *action.Definition `json:"action_definition"`
}

type ExecuteTaskRequest struct {
	TaskDefinition *task.Definition `json:"task_definition"`
}

func handleAction(c *gin.Context) {
	body := router.GetRequestBody[ExecuteActionRequest](c)
	if body == nil {
		return
	}
	if body.ActionDefinition == nil {
		router.RespondWithError(c, http.StatusBadRequest, router.NewRequestError(
			http.StatusBadRequest,
			"No action_definition provided in request body",
			nil,
		))
		return
	}
	execute(c, body.ActionDefinition)
}

func handleTask(c *gin.Context) {
	body := router.GetRequestBody[ExecuteTaskRequest](c)
	if body == nil {
		return
	}
	if body.TaskDefinition == nil {
		router.RespondWithError(c, http.StatusBadRequest, router.NewRequestError(
			http.StatusBadRequest,
			"No task_definition provided in request body",
			nil,
		))
		return
	}
	def := action.NewDefinition()
	def.Set(SingleTaskKey, body.TaskDefinition)
	execute(c, def)
}

func execute(c *gin.Context, def *action.Definition) {
	state := router.GetAppState(c)
	if state == nil {
		return
	}
	clientID := router.GetClientID(c)
	if clientID == "" {
		router.RespondWithError(c, http.StatusUnauthorized, router.ErrMissingClientID)
		return
	}
	result, err := state.Executor.Execute(c.Request.Context(), def, &action.ExecContext{
		Client: action.ClientSettings{ClientID: clientID},
		Store:  state.Store.Tenant(clientID),
	})
	if err != nil {
		reqErr := router.NewRequestError(http.StatusInternalServerError, "failed to record action", err)
		router.RespondWithError(c, reqErr.StatusCode, reqErr)
		return
	}
	status := http.StatusBadRequest
	if result.ActionMetrics.IsSuccess {
		status = http.StatusOK
	}
	c.JSON(status, result)
}
