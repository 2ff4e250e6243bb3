package router

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/idc-core/idc/engine/infra/server/appstate"
	"github.com/idc-core/idc/pkg/logger"
)

// Response is the envelope used for error replies.
type Response struct {
	Error *ErrorInfo `json:"error,omitempty"`
}

// RespondWithError aborts the request with a structured error body.
func RespondWithError(c *gin.Context, status int, err error) {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		reqErr = NewRequestError(status, err.Error(), nil)
	}
	log := logger.FromContext(c.Request.Context())
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "path", c.FullPath(), "status", status, "error", err)
	} else {
		log.Debug("Request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, Response{Error: reqErr.GetErrorInfo()})
}

// GetAppState returns the shared state or aborts with 500.
func GetAppState(c *gin.Context) *appstate.State {
	state, err := appstate.GetState(c)
	if err != nil {
		reqErr := NewRequestError(http.StatusInternalServerError, ErrMsgAppStateNotInitialized, err)
		RespondWithError(c, reqErr.StatusCode, reqErr)
		return nil
	}
	return state
}

// GetRequestBody binds the JSON body into T or aborts with 400.
func GetRequestBody[T any](c *gin.Context) *T {
	var body T
	if err := c.ShouldBindJSON(&body); err != nil {
		reqErr := NewRequestError(http.StatusBadRequest, "invalid request body", err)
		RespondWithError(c, reqErr.StatusCode, reqErr)
		return nil
	}
	return &body
}
