package pubsub

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("pubsub: provider closed")

// Message represents a payload delivered via a pub/sub subscription.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription exposes a stream of messages and allows callers to observe
// termination state. Close must be safe to call multiple times.
type Subscription interface {
	Messages() <-chan Message
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Provider publishes payloads to dotted topics such as
// "idc-tasks.<tenant>.<function>". Subscribe accepts NATS-style wildcards:
// "*" matches one token and a trailing ">" matches the rest.
type Provider interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}
