package tree

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "tree:"
	channelPrefix = "treeevt:"
)

// RedisStore keeps the tree in Redis: one key per path holding a JSON value,
// and a pub/sub channel per path carrying change events for watchers.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects a tree store to redis with short timeouts.
func NewRedis(addr string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &RedisStore{client: client}
}

// NewRedisWithClient wraps an existing client (shared with the queue).
func NewRedisWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying connection for sharing.
func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) Get(ctx context.Context, path string, out any) (bool, error) {
	raw, err := s.client.Get(ctx, keyPrefix+path).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, json.Unmarshal(raw, out)
}

func (s *RedisStore) Set(ctx context.Context, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyPrefix+path, raw, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.publish(ctx, Event{Path: path, Value: raw})
	return nil
}

func (s *RedisStore) Update(ctx context.Context, path string, fields map[string]any) error {
	obj := map[string]any{}
	if _, err := s.Get(ctx, path, &obj); err != nil {
		return err
	}
	for k, v := range fields {
		obj[k] = v
	}
	return s.Set(ctx, path, obj)
}

func (s *RedisStore) Remove(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, keyPrefix+path).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.publish(ctx, Event{Path: path, Removed: true})
	return nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	iter := s.client.Scan(ctx, 0, keyPrefix+prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		path := strings.TrimPrefix(key, keyPrefix)
		if path != prefix && !strings.HasPrefix(path, prefix+"/") {
			continue
		}
		raw, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		out[path] = raw
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// Watch subscribes to all change events published at or under path. Events
// are delivered on a dedicated goroutine until Close.
func (s *RedisStore) Watch(ctx context.Context, path string, fn WatchFunc) (Subscription, error) {
	pubsub := s.client.PSubscribe(ctx, channelPrefix+path, channelPrefix+path+"/*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sub := &redisSub{pubsub: pubsub}
	go func() {
		for msg := range pubsub.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.Printf("tree: bad watch payload on %s: %v", msg.Channel, err)
				continue
			}
			fn(evt)
		}
	}()
	return sub, nil
}

// Healthy verifies redis connectivity.
func (s *RedisStore) Healthy(ctx context.Context) bool {
	if s == nil || s.client == nil {
		return false
	}
	return s.client.Ping(ctx).Err() == nil
}

func (s *RedisStore) publish(ctx context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, channelPrefix+evt.Path, payload).Err(); err != nil {
		log.Printf("tree: publish on %s failed: %v", evt.Path, err)
	}
}

type redisSub struct {
	pubsub *redis.PubSub
	once   sync.Once
	err    error
}

func (s *redisSub) Close() error {
	s.once.Do(func() { s.err = s.pubsub.Close() })
	return s.err
}
