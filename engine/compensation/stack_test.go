package compensation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/idc-core/idc/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTarget struct {
	calls   []string
	failFor map[string]bool
}

func (r *recordingTarget) record(call string) error {
	r.calls = append(r.calls, call)
	if r.failFor[call] {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingTarget) DeleteDocument(_ context.Context, _ string, id string) error {
	return r.record("delete_document:" + id)
}

func (r *recordingTarget) RestoreDocument(_ context.Context, _ string, snapshot core.Document) error {
	return r.record("restore_document:" + snapshot.ID())
}

func (r *recordingTarget) DeleteVersion(_ context.Context, id string) error {
	return r.record("delete_version:" + id)
}

func (r *recordingTarget) ResetVersionFields(_ context.Context, _ string, id string, _, _ int64) error {
	return r.record("reset_version_fields:" + id)
}

func (r *recordingTarget) MarkTaskReverted(task string) {
	_ = r.record("mark_task_reverted:" + task)
}

func (r *recordingTarget) UnsetTaskResult(task string, _ []string) {
	_ = r.record("unset_task_result:" + task)
}

func TestStack_Unwind(t *testing.T) {
	t.Run("Should run commands in reverse registration order", func(t *testing.T) {
		stack := NewStack()
		stack.Push(MarkTaskReverted("a"))
		stack.Push(DeleteDocument("widgets", "widgets~1"))
		stack.Push(DeleteVersion("idc-versions~1"))
		stack.Push(RestoreDocument("widgets", core.Document{"idc_id": "widgets~1"}))
		target := &recordingTarget{}
		require.NoError(t, stack.Unwind(context.Background(), target))
		assert.Equal(t, []string{
			"restore_document:widgets~1",
			"delete_version:idc-versions~1",
			"delete_document:widgets~1",
			"mark_task_reverted:a",
		}, target.calls)
		assert.Equal(t, 0, stack.Len())
	})

	t.Run("Should continue past failing commands and join their errors", func(t *testing.T) {
		stack := NewStack()
		stack.Push(DeleteDocument("widgets", "widgets~1"))
		stack.Push(DeleteDocument("widgets", "widgets~2"))
		stack.Push(ResetVersionFields("widgets", "widgets~3", 1, 0))
		target := &recordingTarget{failFor: map[string]bool{"delete_document:widgets~2": true}}
		err := stack.Unwind(context.Background(), target)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "widgets~2")
		assert.Len(t, target.calls, 3)
	})

	t.Run("Should reject unknown command kinds without stopping", func(t *testing.T) {
		stack := NewStack()
		stack.Push(UnsetTaskResult("a", "hashed_string"))
		stack.Push(Command{Kind: "explode"})
		target := &recordingTarget{}
		err := stack.Unwind(context.Background(), target)
		assert.ErrorContains(t, err, "unknown compensation kind")
		assert.Equal(t, []string{"unset_task_result:a"}, target.calls)
	})
}

func TestStack_Commands(t *testing.T) {
	t.Run("Should expose serialisable commands in order", func(t *testing.T) {
		stack := NewStack()
		doc := core.Document{"idc_id": "widgets~1", "color": "red"}
		stack.Push(RestoreDocument("widgets", doc))
		doc["color"] = "blue"
		cmds := stack.Commands()
		require.Len(t, cmds, 1)
		assert.Equal(t, "red", cmds[0].Snapshot["color"])
		raw, err := json.Marshal(cmds)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"kind":"restore_document"`)
	})
}
