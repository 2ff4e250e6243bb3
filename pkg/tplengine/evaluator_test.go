package tplengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(Options{})
	require.NoError(t, err)
	return e
}

func testState() map[string]any {
	return map[string]any{
		"id": "idc-actions~1",
		"tasks_results": map[string]any{
			"create": map[string]any{
				"document": map[string]any{"idc_id": "widgets~abc", "color": "red", "size": 3.0},
			},
		},
		"tasks_metrics": map[string]any{
			"create": map[string]any{"is_success": true},
		},
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return nil for nil template", func(t *testing.T) {
		out, err := newTestEvaluator(t).Evaluate(ctx, nil, testState())
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("Should return template unchanged when data is nil", func(t *testing.T) {
		tmpl := map[string]any{"id": "{{ .id }}"}
		out, err := newTestEvaluator(t).Evaluate(ctx, tmpl, nil)
		require.NoError(t, err)
		assert.Equal(t, tmpl, out)
	})

	t.Run("Should render nested maps and arrays preserving keys and order", func(t *testing.T) {
		tmpl := map[string]any{
			"idc_id": "{{ .tasks_results.create.document.idc_id }}",
			"list":   []any{"{{ .id }}", 5, true, "plain"},
			"nested": map[string]any{"color": "{{ .tasks_results.create.document.color | upper }}"},
		}
		out, err := newTestEvaluator(t).Evaluate(ctx, tmpl, testState())
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"idc_id": "widgets~abc",
			"list":   []any{"idc-actions~1", 5, true, "plain"},
			"nested": map[string]any{"color": "RED"},
		}, out)
	})

	t.Run("Should not mutate the template", func(t *testing.T) {
		tmpl := map[string]any{"a": "{{ .id }}"}
		_, err := newTestEvaluator(t).Evaluate(ctx, tmpl, testState())
		require.NoError(t, err)
		assert.Equal(t, "{{ .id }}", tmpl["a"])
	})

	t.Run("Should render missing keys as empty strings", func(t *testing.T) {
		out, err := newTestEvaluator(t).Evaluate(ctx, "x{{ .tasks_results.missing.value }}y", testState())
		require.NoError(t, err)
		assert.Equal(t, "xy", out)
	})

	t.Run("Should render chained lookups through a skipped task as empty", func(t *testing.T) {
		data := map[string]any{"tasks_results": map[string]any{}}
		out, err := newTestEvaluator(t).Evaluate(ctx, map[string]any{
			"idc_id": "{{.tasks_results.b.document.idc_id}}",
			"piped":  "{{.tasks_results.b.document.idc_id | default \"none\"}}",
			"cond":   "{{if .tasks_results.b.document}}yes{{else}}no{{end}}",
		}, data)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"idc_id": "", "piped": "none", "cond": "no"}, out)
	})

	t.Run("Should keep literal placeholder text coming from data", func(t *testing.T) {
		data := map[string]any{"note": "<no value>", "empty": nil}
		out, err := newTestEvaluator(t).Evaluate(ctx, "{{.note}}|{{.empty}}|{{$n := .note}}{{$n}}", data)
		require.NoError(t, err)
		assert.Equal(t, "<no value>||<no value>", out)
	})

	t.Run("Should dispatch jsonata tagged strings", func(t *testing.T) {
		out, err := newTestEvaluator(t).Evaluate(ctx, "[[jsonata]] tasks_results.create.document.size * 2", testState())
		require.NoError(t, err)
		assert.Equal(t, 6.0, out)
	})

	t.Run("Should return structured jsonata results", func(t *testing.T) {
		out, err := newTestEvaluator(t).Evaluate(ctx, "[[jsonata]]tasks_results.create.document", testState())
		require.NoError(t, err)
		doc, ok := out.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "widgets~abc", doc["idc_id"])
	})

	t.Run("Should yield nil for jsonata queries matching nothing", func(t *testing.T) {
		out, err := newTestEvaluator(t).Evaluate(ctx, "[[jsonata]]tasks_results.nope", testState())
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("Should dispatch gjson tagged strings", func(t *testing.T) {
		out, err := newTestEvaluator(t).Evaluate(ctx, "[[gjson]]tasks_metrics.create.is_success", testState())
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("Should dispatch cel tagged strings", func(t *testing.T) {
		out, err := newTestEvaluator(t).Evaluate(ctx, `[[cel]] tasks_results.create.document.color == "red"`, testState())
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("Should fall back to the default engine for unknown tags", func(t *testing.T) {
		out, err := newTestEvaluator(t).Evaluate(ctx, "[[handlebars]]{{ .id }}", testState())
		require.NoError(t, err)
		assert.Equal(t, "[[handlebars]]idc-actions~1", out)
	})

	t.Run("Should use newly registered engines without changes at call sites", func(t *testing.T) {
		e := newTestEvaluator(t)
		e.Register("upper", EngineFunc(func(_ context.Context, expr string, _ any) (any, error) {
			return "UP:" + expr, nil
		}))
		out, err := e.Evaluate(ctx, []any{"[[upper]]abc"}, testState())
		require.NoError(t, err)
		assert.Equal(t, []any{"UP:abc"}, out)
	})

	t.Run("Should report the failing path for template errors", func(t *testing.T) {
		_, err := newTestEvaluator(t).Evaluate(ctx, map[string]any{"bad": "{{ .id "}, testState())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad")
	})

	t.Run("Should normalize typed containers", func(t *testing.T) {
		tmpl := map[string]any{"headers": map[string]string{"X-Id": "{{ .id }}"}}
		out, err := newTestEvaluator(t).Evaluate(ctx, tmpl, testState())
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"headers": map[string]any{"X-Id": "idc-actions~1"}}, out)
	})
}

func TestToMap(t *testing.T) {
	t.Run("Should convert structs into generic maps", func(t *testing.T) {
		type sample struct {
			Name string `json:"name"`
		}
		m, err := ToMap(sample{Name: "x"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "x"}, m)
	})

	t.Run("Should reject non-object values", func(t *testing.T) {
		_, err := ToMap([]int{1})
		assert.Error(t, err)
	})
}
