package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	soltok "github.com/soltok-labs/soltok/go"
)

const (
	defaultOrdersKey     = "soltok:orders"
	defaultEventsChannel = "soltok:orders:events"
)

// RedisRemote implements RemoteStore on Redis: orders live in a single hash
// keyed by order id, change notifications flow over pub/sub so every
// session sees every mutation.
type RedisRemote struct {
	client  *redis.Client
	key     string
	channel string
}

// NewRedisRemote connects to Redis and verifies the connection.
func NewRedisRemote(addr, password string, db int) (*RedisRemote, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRemote{
		client:  client,
		key:     defaultOrdersKey,
		channel: defaultEventsChannel,
	}, nil
}

func (r *RedisRemote) List(ctx context.Context) ([]soltok.Order, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, r.unavailable(err)
	}
	out := make([]soltok.Order, 0, len(raw))
	for id, doc := range raw {
		order, err := soltok.UnmarshalOrder([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("corrupt order record %s: %w", id, err)
		}
		out = append(out, *order)
	}
	return out, nil
}

func (r *RedisRemote) Create(ctx context.Context, order soltok.Order) error {
	return r.put(ctx, order, ChangeInsert)
}

func (r *RedisRemote) Update(ctx context.Context, order soltok.Order) error {
	return r.put(ctx, order, ChangeUpdate)
}

func (r *RedisRemote) put(ctx context.Context, order soltok.Order, kind ChangeKind) error {
	doc, err := soltok.MarshalOrder(&order)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := r.client.HSet(ctx, r.key, order.ID, doc).Err(); err != nil {
		return r.unavailable(err)
	}
	r.publish(ctx, ChangeEvent{Kind: kind, Order: order})
	return nil
}

func (r *RedisRemote) Delete(ctx context.Context, id string) error {
	if err := r.client.HDel(ctx, r.key, id).Err(); err != nil {
		return r.unavailable(err)
	}
	r.publish(ctx, ChangeEvent{Kind: ChangeDelete, Order: soltok.Order{ID: id}})
	return nil
}

func (r *RedisRemote) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return r.unavailable(err)
	}
	return nil
}

// Subscribe opens the pub/sub change feed. The cancel function closes the
// subscription; the event channel closes after it drains.
func (r *RedisRemote) Subscribe(ctx context.Context) (<-chan ChangeEvent, func(), error) {
	ps := r.client.Subscribe(ctx, r.channel)
	// Force the subscription to establish before we report success.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, r.unavailable(err)
	}

	out := make(chan ChangeEvent, 64)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			out <- ev
		}
	}()

	cancel := func() { _ = ps.Close() }
	return out, cancel, nil
}

// Close releases the underlying Redis connection.
func (r *RedisRemote) Close() error {
	return r.client.Close()
}

func (r *RedisRemote) publish(ctx context.Context, ev ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	// Notification only; a failed publish does not undo the write.
	_ = r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisRemote) unavailable(err error) error {
	return soltok.NewError(soltok.ErrCodeRemoteStoreUnavailable, err.Error(), nil)
}

var _ RemoteStore = (*RedisRemote)(nil)
