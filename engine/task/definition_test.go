package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperEvaluator struct{}

func (upperEvaluator) Evaluate(_ context.Context, template any, _ any) (any, error) {
	m := template.(map[string]any)
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	if params, ok := m["params"].(map[string]any); ok {
		rendered := make(map[string]any, len(params))
		for k, v := range params {
			if s, ok := v.(string); ok && s == "{{ .value }}" {
				rendered[k] = "rendered"
				continue
			}
			rendered[k] = v
		}
		out["params"] = rendered
	}
	return out, nil
}

type failingEvaluator struct{}

func (failingEvaluator) Evaluate(context.Context, any, any) (any, error) {
	return nil, errors.New("bad template")
}

func TestDefinition_SetDefaults(t *testing.T) {
	t.Run("Should backfill name and execution order", func(t *testing.T) {
		def := &Definition{Function: FunctionSuccess}
		def.SetDefaults("first")
		assert.Equal(t, "first", def.Name)
		assert.Equal(t, DefaultExecutionOrder, def.Order())
	})
	t.Run("Should keep explicit values", func(t *testing.T) {
		order := int64(3)
		def := &Definition{Function: FunctionSuccess, Name: "custom", ExecutionOrder: &order}
		def.SetDefaults("key")
		assert.Equal(t, "custom", def.Name)
		assert.Equal(t, int64(3), def.Order())
	})
	t.Run("Should treat a zero order as unspecified", func(t *testing.T) {
		order := int64(0)
		def := &Definition{Function: FunctionSuccess, ExecutionOrder: &order}
		def.SetDefaults("key")
		assert.Equal(t, DefaultExecutionOrder, def.Order())
	})
}

func TestDefinition_Validate(t *testing.T) {
	t.Run("Should require a function", func(t *testing.T) {
		err := (&Definition{Name: "a"}).Validate()
		assert.ErrorIs(t, err, ErrInvalidDefinition)
	})
}

func TestParseFunction(t *testing.T) {
	t.Run("Should accept every builtin", func(t *testing.T) {
		for _, fn := range AllFunctions() {
			parsed, err := ParseFunction(string(fn))
			require.NoError(t, err)
			assert.Equal(t, fn, parsed)
		}
	})
	t.Run("Should reject unknown names", func(t *testing.T) {
		_, err := ParseFunction("launch_rockets")
		assert.ErrorIs(t, err, ErrInvalidDefinition)
	})
}

func TestDefinition_Evaluate(t *testing.T) {
	t.Run("Should render params and preserve the execution order", func(t *testing.T) {
		order := DefaultExecutionOrder
		def := &Definition{
			Function:       FunctionHashString,
			Name:           "hash",
			ExecutionOrder: &order,
			Params:         map[string]any{"unhashed_string": "{{ .value }}", "n": 2},
			Conditions:     []Condition{{Expression: true}},
		}
		evaluated, err := def.Evaluate(context.Background(), upperEvaluator{}, map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, DefaultExecutionOrder, evaluated.Order())
		assert.Equal(t, FunctionHashString, evaluated.Function)
		params := evaluated.Params.(map[string]any)
		assert.Equal(t, "rendered", params["unhashed_string"])
		require.Len(t, evaluated.Conditions, 1)
		assert.Equal(t, true, evaluated.Conditions[0].Expression)
		assert.Equal(t, "{{ .value }}", def.Params.(map[string]any)["unhashed_string"])
	})
	t.Run("Should wrap evaluation errors with the task name", func(t *testing.T) {
		def := &Definition{Function: FunctionSuccess, Name: "x"}
		_, err := def.Evaluate(context.Background(), failingEvaluator{}, map[string]any{})
		assert.ErrorContains(t, err, "task x")
	})
}

func TestFromMap(t *testing.T) {
	t.Run("Should decode rendered strings into typed fields", func(t *testing.T) {
		def, err := FromMap(map[string]any{
			"function":             "success",
			"name":                 "a",
			"is_continue_if_error": "true",
		})
		require.NoError(t, err)
		assert.True(t, def.IsContinueIfError)
		assert.Equal(t, FunctionSuccess, def.Function)
	})
}

func TestMetrics(t *testing.T) {
	t.Run("Should serialize an untouched task as not attempted only", func(t *testing.T) {
		raw, err := json.Marshal(NewMetrics())
		require.NoError(t, err)
		assert.JSONEq(t, `{"is_attempted":false}`, string(raw))
	})
	t.Run("Should treat a missing success flag as failure", func(t *testing.T) {
		m := NewMetrics()
		assert.False(t, m.Succeeded())
		m.SetSuccess(true)
		assert.True(t, m.Succeeded())
	})
	t.Run("Should record errors and reverts", func(t *testing.T) {
		m := NewMetrics()
		m.SetError(errors.New("boom"))
		m.MarkReverted()
		raw, err := json.Marshal(m)
		require.NoError(t, err)
		assert.JSONEq(t, `{"is_attempted":false,"error":"boom","is_reverted":true}`, string(raw))
	})
}
