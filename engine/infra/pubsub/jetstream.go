package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/idc-core/idc/pkg/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	DefaultStreamName = "IDC_TASKS"
	DefaultSubjects   = "idc-tasks.>"
)

// StreamOptions configures the stream that captures published topics.
type StreamOptions struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
}

// JetStreamProvider publishes into a durable JetStream stream so consumers can
// replay results they missed.
type JetStreamProvider struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream string
	owned  bool
}

var _ Provider = (*JetStreamProvider)(nil)

// ConnectJetStream dials url and prepares the stream.
func ConnectJetStream(ctx context.Context, url string, opts StreamOptions) (*JetStreamProvider, error) {
	conn, err := nats.Connect(url, nats.Name("idc-core"))
	if err != nil {
		return nil, fmt.Errorf("pubsub: connect nats: %w", err)
	}
	p, err := NewJetStreamProvider(ctx, conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// NewJetStreamProvider creates or updates the stream on an existing connection.
func NewJetStreamProvider(ctx context.Context, conn *nats.Conn, opts StreamOptions) (*JetStreamProvider, error) {
	if conn == nil {
		return nil, errors.New("pubsub: nats connection is nil")
	}
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if opts.Name == "" {
		opts.Name = DefaultStreamName
	}
	if len(opts.Subjects) == 0 {
		opts.Subjects = []string{DefaultSubjects}
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      opts.Name,
		Subjects:  opts.Subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    opts.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub: setup stream %s: %w", opts.Name, err)
	}
	logger.FromContext(ctx).Info("JetStream stream ready", "stream", opts.Name, "subjects", opts.Subjects)
	return &JetStreamProvider{conn: conn, js: js, stream: opts.Name}, nil
}

func (p *JetStreamProvider) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.conn.IsClosed() {
		return ErrClosed
	}
	if _, err := p.js.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe attaches an ordered consumer that delivers messages published
// after the call.
func (p *JetStreamProvider) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	consumer, err := p.js.OrderedConsumer(ctx, p.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{topic},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub: create consumer for %s: %w", topic, err)
	}
	out := make(chan Message, 64)
	sub := &jetStreamSubscription{messages: out, done: make(chan struct{})}
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		data := make([]byte, len(msg.Data()))
		copy(data, msg.Data())
		select {
		case out <- Message{Topic: msg.Subject(), Payload: data}:
		case <-sub.done:
		}
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		logger.FromContext(ctx).Warn("JetStream consume error", "topic", topic, "error", err)
	}))
	if err != nil {
		return nil, fmt.Errorf("pubsub: consume %s: %w", topic, err)
	}
	sub.stop = cc.Stop
	go func() {
		select {
		case <-ctx.Done():
			sub.closeWith(ctx.Err())
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Close drains the connection when the provider dialed it.
func (p *JetStreamProvider) Close() error {
	if !p.owned {
		return nil
	}
	return p.conn.Drain()
}

type jetStreamSubscription struct {
	messages chan Message
	done     chan struct{}
	stop     func()
	once     sync.Once
	mu       sync.Mutex
	err      error
}

func (s *jetStreamSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *jetStreamSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *jetStreamSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *jetStreamSubscription) closeWith(err error) {
	s.once.Do(func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
		s.stop()
		close(s.done)
	})
}

func (s *jetStreamSubscription) Close() error {
	s.closeWith(nil)
	return nil
}
