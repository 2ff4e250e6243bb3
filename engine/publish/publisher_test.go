package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idc-core/idc/engine/infra/pubsub"
)

type published struct {
	topic   string
	payload []byte
}

type fakeProvider struct {
	mu       sync.Mutex
	sent     []published
	err      error
	block    chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeProvider) Publish(_ context.Context, topic string, payload []byte) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{topic: topic, payload: payload})
	return f.err
}

func (f *fakeProvider) Subscribe(context.Context, string) (pubsub.Subscription, error) {
	return nil, errors.New("not supported")
}

func (f *fakeProvider) Close() error { return nil }

type countingRecorder struct {
	ok, failed atomic.Int32
}

func (r *countingRecorder) PublishResult(_ string, err error) {
	if err != nil {
		r.failed.Add(1)
		return
	}
	r.ok.Add(1)
}

func TestTopic(t *testing.T) {
	t.Run("Should namespace by tenant and function", func(t *testing.T) {
		assert.Equal(t, "idc-tasks.c1.create_document", Topic("c1", "create_document"))
	})
}

func TestPublisher_Publish(t *testing.T) {
	t.Run("Should encode the message and deliver it asynchronously", func(t *testing.T) {
		provider := &fakeProvider{}
		rec := &countingRecorder{}
		p := NewPublisher(provider, Options{Recorder: rec})
		results := map[string]any{"document": map[string]any{"idc_id": "widgets~1"}}
		err := p.Publish(t.Context(), "c1", "create_document", &Message{
			TaskName:                "a",
			TaskResults:             results,
			EvaluatedTaskDefinition: map[string]any{"name": "a", "function": "create_document"},
		})
		require.NoError(t, err)
		delete(results, "document")
		require.NoError(t, p.Flush(t.Context()))

		require.Len(t, provider.sent, 1)
		assert.Equal(t, "idc-tasks.c1.create_document", provider.sent[0].topic)
		var body map[string]any
		require.NoError(t, json.Unmarshal(provider.sent[0].payload, &body))
		assert.Equal(t, "a", body["task_name"])
		assert.Contains(t, body["task_results"], "document")
		assert.EqualValues(t, 1, rec.ok.Load())
	})
	t.Run("Should swallow delivery errors", func(t *testing.T) {
		provider := &fakeProvider{err: errors.New("broker down")}
		rec := &countingRecorder{}
		p := NewPublisher(provider, Options{Recorder: rec})
		require.NoError(t, p.Publish(t.Context(), "c1", "success", &Message{TaskName: "s"}))
		require.NoError(t, p.Flush(t.Context()))
		assert.EqualValues(t, 1, rec.failed.Load())
	})
	t.Run("Should bound concurrent deliveries", func(t *testing.T) {
		provider := &fakeProvider{block: make(chan struct{})}
		p := NewPublisher(provider, Options{MaxInFlight: 2})
		for i := 0; i < 2; i++ {
			require.NoError(t, p.Publish(t.Context(), "c1", "success", &Message{TaskName: "s"}))
		}
		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()
		err := p.Publish(ctx, "c1", "success", &Message{TaskName: "third"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		close(provider.block)
		require.NoError(t, p.Flush(t.Context()))
		assert.LessOrEqual(t, provider.peak.Load(), int32(2))
		assert.Len(t, provider.sent, 2)
	})
	t.Run("Should stop waiting in Flush when the context ends", func(t *testing.T) {
		provider := &fakeProvider{block: make(chan struct{})}
		p := NewPublisher(provider, Options{})
		require.NoError(t, p.Publish(t.Context(), "c1", "success", &Message{TaskName: "s"}))
		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, p.Flush(ctx), context.DeadlineExceeded)
		close(provider.block)
		require.NoError(t, p.Flush(t.Context()))
	})
}
