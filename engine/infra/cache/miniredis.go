package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/alicebob/miniredis/v2"
	"github.com/idc-core/idc/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// MiniredisEmbedded runs an in-process Redis server for standalone mode.
type MiniredisEmbedded struct {
	server *miniredis.Miniredis
	client *redis.Client
	once   sync.Once
}

func NewMiniredisEmbedded(ctx context.Context) (*MiniredisEmbedded, error) {
	server := miniredis.NewMiniRedis()
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded redis: %w", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		server.Close()
		return nil, fmt.Errorf("failed to ping embedded redis: %w", err)
	}
	logger.FromContext(ctx).Info("Embedded Redis started", "addr", server.Addr())
	return &MiniredisEmbedded{server: server, client: client}, nil
}

func (m *MiniredisEmbedded) Client() redis.UniversalClient {
	return m.client
}

func (m *MiniredisEmbedded) Addr() string {
	return m.server.Addr()
}

// Close stops the client and the server. Safe to call more than once.
func (m *MiniredisEmbedded) Close(ctx context.Context) error {
	var err error
	m.once.Do(func() {
		err = m.client.Close()
		m.server.Close()
		logger.FromContext(ctx).Debug("Embedded Redis stopped")
	})
	return err
}
