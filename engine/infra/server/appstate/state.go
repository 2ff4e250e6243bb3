package appstate

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/idc-core/idc/engine/action"
	"github.com/idc-core/idc/engine/infra/store"
)

type contextKey string

const (
	stateKey contextKey = "app_state"
)

// State is the set of long-lived collaborators shared by request handlers.
type State struct {
	Store    store.Store
	Executor *action.Executor
}

func NewState(st store.Store, executor *action.Executor) (*State, error) {
	if st == nil {
		return nil, fmt.Errorf("app state requires a store")
	}
	if executor == nil {
		return nil, fmt.Errorf("app state requires an action executor")
	}
	return &State{Store: st, Executor: executor}, nil
}

// StateMiddleware exposes state on both the gin and request contexts.
func StateMiddleware(state *State) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(stateKey), state)
		ctx := WithState(c.Request.Context(), state)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func WithState(ctx context.Context, state *State) context.Context {
	return context.WithValue(ctx, stateKey, state)
}

func GetState(ctx context.Context) (*State, error) {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		if value, exists := ginCtx.Get(string(stateKey)); exists {
			if state, ok := value.(*State); ok {
				return state, nil
			}
		}
		ctx = ginCtx.Request.Context()
	}
	state, ok := ctx.Value(stateKey).(*State)
	if !ok || state == nil {
		return nil, fmt.Errorf("app state not found in context")
	}
	return state, nil
}
