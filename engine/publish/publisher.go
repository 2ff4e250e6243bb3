package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/idc-core/idc/engine/infra/pubsub"
	"github.com/idc-core/idc/pkg/logger"
	"golang.org/x/sync/semaphore"
)

const (
	TopicPrefix           = "idc-tasks"
	defaultMaxInFlight    = 64
	defaultPublishTimeout = 5 * time.Second
)

// Message is the payload fanned out for every task that produced results.
type Message struct {
	TaskName                string `json:"task_name"`
	TaskResults             any    `json:"task_results"`
	EvaluatedTaskDefinition any    `json:"evaluated_task_definition"`
}

// Recorder observes publish outcomes.
type Recorder interface {
	PublishResult(function string, err error)
}

type noopRecorder struct{}

func (noopRecorder) PublishResult(string, error) {}

type Options struct {
	MaxInFlight int64
	Timeout     time.Duration
	Recorder    Recorder
}

// Publisher delivers task results without blocking the caller on the broker.
// At most MaxInFlight publishes run at once; Publish waits for a slot.
type Publisher struct {
	provider pubsub.Provider
	sem      *semaphore.Weighted
	timeout  time.Duration
	recorder Recorder
	wg       sync.WaitGroup
}

func NewPublisher(provider pubsub.Provider, opts Options) *Publisher {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultPublishTimeout
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	return &Publisher{
		provider: provider,
		sem:      semaphore.NewWeighted(opts.MaxInFlight),
		timeout:  opts.Timeout,
		recorder: opts.Recorder,
	}
}

// Topic builds "idc-tasks.<tenant>.<function>".
func Topic(tenant, function string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, tenant, function)
}

// Publish encodes msg immediately and sends it in the background. Only
// encoding failures and a cancelled ctx are returned; delivery errors are
// logged.
func (p *Publisher) Publish(ctx context.Context, tenant, function string, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("publish: encode message for %s: %w", msg.TaskName, err)
	}
	topic := Topic(tenant, function)
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("publish: wait for slot: %w", err)
	}
	p.wg.Add(1)
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer cancel()
		err := p.provider.Publish(sendCtx, topic, payload)
		p.recorder.PublishResult(function, err)
		if err != nil {
			logger.FromContext(ctx).Error("Failed to publish task results",
				"topic", topic, "task", msg.TaskName, "error", err)
			return
		}
		logger.FromContext(ctx).Debug("Published task results", "topic", topic, "task", msg.TaskName)
	}()
	return nil
}

// Flush waits for in-flight publishes or for ctx to end.
func (p *Publisher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
