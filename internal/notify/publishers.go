package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPublisher sends payloads with PUBLISH.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Close is a no-op: the redis client is shared and closed by its owner.
func (p *RedisPublisher) Close() error { return nil }

// NATSPublisher publishes on a subject equal to the channel key.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewNATSPublisher(url string, logger *zap.Logger) (*NATSPublisher, error) {
	p := &NATSPublisher{logger: logger.Named("nats")}

	conn, err := nats.Connect(
		url,
		nats.Name("openai-assistant-notifier"),
		nats.ReconnectHandler(p.reconnectHandler),
		nats.DisconnectErrHandler(p.disconnectHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	p.conn = conn
	return p, nil
}

func (p *NATSPublisher) reconnectHandler(nc *nats.Conn) {
	p.logger.Info("got reconnected", zap.String("url", nc.ConnectedUrl()))
}

func (p *NATSPublisher) disconnectHandler(_ *nats.Conn, err error) {
	p.logger.Error("got disconnected", zap.Error(err))
}

func (p *NATSPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.conn.Publish(channel, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Published is one recorded notification.
type Published struct {
	Channel string
	Payload Payload
}

// MemoryPublisher records notifications in order. Used in tests and single-process setups.
type MemoryPublisher struct {
	mu   sync.Mutex
	sent []Published
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	var decoded Payload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, Published{Channel: channel, Payload: decoded})
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Sent returns a snapshot of everything published so far.
func (p *MemoryPublisher) Sent() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.sent...)
}

// Terminal returns the notifications that marked a run completed.
func (p *MemoryPublisher) Terminal() []Published {
	var out []Published
	for _, n := range p.Sent() {
		if n.Payload.Completed {
			out = append(out, n)
		}
	}
	return out
}
