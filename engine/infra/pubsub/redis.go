package pubsub

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisProvider implements the Provider interface using Redis Pub/Sub.
type RedisProvider struct {
	client redis.UniversalClient
}

var _ Provider = (*RedisProvider)(nil)

// NewRedisProvider constructs a Provider backed by a Redis client.
func NewRedisProvider(client redis.UniversalClient) (*RedisProvider, error) {
	if client == nil {
		return nil, errors.New("pubsub: redis client is nil")
	}
	return &RedisProvider{client: client}, nil
}

func (p *RedisProvider) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.client.Publish(ctx, topic, payload).Err()
}

// redisPattern maps NATS-style wildcards onto a Redis glob. Redis "*" spans
// dots, so single-token wildcards are approximated.
func redisPattern(topic string) (string, bool) {
	if !strings.ContainsAny(topic, "*>") {
		return topic, false
	}
	tokens := strings.Split(topic, ".")
	for i, tok := range tokens {
		if tok == ">" || tok == "*" {
			tokens[i] = "*"
		}
	}
	return strings.Join(tokens, "."), true
}

func (p *RedisProvider) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var ps *redis.PubSub
	if pattern, ok := redisPattern(topic); ok {
		ps = p.client.PSubscribe(ctx, pattern)
	} else {
		ps = p.client.Subscribe(ctx, topic)
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Message, 64)
	done := make(chan struct{})
	sub := &redisSubscription{pubsub: ps, cancel: cancel, messages: out, done: done}
	go func(messages <-chan *redis.Message) {
		defer close(done)
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				sub.setErr(subCtx.Err())
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				copied := make([]byte, len(msg.Payload))
				copy(copied, msg.Payload)
				select {
				case out <- Message{Topic: msg.Channel, Payload: copied}:
				case <-subCtx.Done():
					sub.setErr(subCtx.Err())
					return
				}
			}
		}
	}(ps.Channel())
	return sub, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (p *RedisProvider) Close() error {
	return nil
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	messages <-chan Message
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	err      error
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *redisSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *redisSubscription) setErr(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *redisSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
	})
	return err
}
