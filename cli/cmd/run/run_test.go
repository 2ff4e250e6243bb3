package run

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idc-core/idc/engine/task"
	"github.com/idc-core/idc/pkg/config"
	"github.com/idc-core/idc/pkg/logger"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "action.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefinition(t *testing.T) {
	t.Run("Should read a wrapped action definition", func(t *testing.T) {
		path := writeFile(t, `
action_definition:
  tasks_definitions:
    second:
      function: success
      execution_order: 2
    first:
      function: hash_string
      execution_order: 1
      params:
        unhashed_string: hello
`)
		def, err := LoadDefinition(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"second", "first"}, def.Keys())
		first, ok := def.Get("first")
		require.True(t, ok)
		assert.Equal(t, task.Function("hash_string"), first.Function)
	})

	t.Run("Should read a bare tasks_definitions document", func(t *testing.T) {
		path := writeFile(t, `
tasks_definitions:
  only:
    function: success
`)
		def, err := LoadDefinition(path)
		require.NoError(t, err)
		assert.Equal(t, 1, def.Len())
	})

	t.Run("Should fail on a missing file", func(t *testing.T) {
		_, err := LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestExecute(t *testing.T) {
	t.Run("Should run the action against a fresh standalone engine", func(t *testing.T) {
		ctx := logger.ContextWithLogger(t.Context(), logger.NewForTests())
		cfg := config.Default()
		cfg.Database.Path = filepath.Join(t.TempDir(), "idc.db")
		cfg.Monitoring.Enabled = false
		def, err := LoadDefinition(writeFile(t, `
tasks_definitions:
  hello:
    function: success
`))
		require.NoError(t, err)
		state, err := Execute(ctx, cfg, "c1", def)
		require.NoError(t, err)
		assert.True(t, state.ActionMetrics.IsSuccess)
		assert.Equal(t, "world", state.TasksResults["hello"]["hello"])
	})
}
