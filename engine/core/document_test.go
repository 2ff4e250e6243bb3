package core_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/idc-core/idc/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestDocument(t *testing.T) {
	t.Run("Should read version fields from any numeric form", func(t *testing.T) {
		doc := core.Document{"idc_id": "widgets~1", "idc_version": 3.0, "from_idc_version": json.Number("2")}
		assert.Equal(t, int64(3), doc.Version())
		assert.Equal(t, int64(2), doc.FromVersion())
		assert.Equal(t, "widgets", doc.Collection())
	})

	t.Run("Should treat missing versions as zero", func(t *testing.T) {
		assert.Equal(t, int64(0), core.Document{}.Version())
	})

	t.Run("Should clone deeply", func(t *testing.T) {
		doc := core.Document{"nested": map[string]any{"a": 1}}
		clone := doc.Clone()
		clone["nested"].(map[string]any)["a"] = 2
		assert.Equal(t, 1, doc["nested"].(map[string]any)["a"])
	})

	t.Run("Should stamp version bookkeeping fields", func(t *testing.T) {
		doc := core.Document{}
		doc.Stamp(4, 3, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
		assert.Equal(t, int64(4), doc.Version())
		assert.Equal(t, int64(3), doc.FromVersion())
		assert.Equal(t, "2024-01-02T03:04:05Z", doc["updatedAt"])
	})
}

func TestStopwatch(t *testing.T) {
	t.Run("Should report elapsed milliseconds from the injected clock", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		sw := core.StartStopwatch(clock)
		now = now.Add(1500 * time.Microsecond)
		assert.InDelta(t, 1.5, sw.ElapsedMS(), 0.0001)
	})
}
