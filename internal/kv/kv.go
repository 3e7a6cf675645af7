// Package kv is the fast ephemeral cache and pub/sub bus of spec.md §4.3:
// typed get/set with TTL, list/sorted-set/hash ops, channel publish and
// isolated-subscriber fan-out. Backed by github.com/go-redis/redis/v7,
// promoted from an indirect teacher dependency to a direct one and
// grounded on jeongkyun-oh-klaytn's go.mod (the pack repo that pairs a
// relational store with a redis-shaped cache/bus). KV holds no source of
// truth: Store always wins on conflict (spec.md §4.3).
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"

	"github.com/riftindex/chainindexer/internal/chain"
	"github.com/riftindex/chainindexer/internal/obs"
)

const subscriberBufferSize = 64

// Client holds three separate redis connections — general, publish, and
// subscribe — so a slow subscriber loop can never block publishers or
// general cache ops, per spec.md §4.3/§5.
type Client struct {
	general *redis.Client
	pub     *redis.Client
	subConn *redis.Client

	mu      sync.Mutex
	hubs    map[string]*channelHub
	nextID  uint64
	backoff chain.Backoff
}

// channelHub fans one redis channel out to N local subscribers, each with
// its own buffered channel so one slow consumer can't stall the others —
// the pattern this is grounded on is the in-process pub_sub broker found
// in other_examples (non-blocking publish, drop-on-full, counted).
type channelHub struct {
	redisSub    *redis.PubSub
	subscribers map[uint64]chan []byte
	cancel      context.CancelFunc
}

// New dials url and returns a Client with independent general/publish/
// subscribe connections.
func New(url string) (*Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kv: parse redis url: %w", err)
	}
	c := &Client{
		general: redis.NewClient(opt),
		pub:     redis.NewClient(opt),
		subConn: redis.NewClient(opt),
		hubs:    make(map[string]*channelHub),
		backoff: chain.DefaultBackoff(),
	}
	if err := c.general.Ping().Err(); err != nil {
		return nil, fmt.Errorf("kv: ping redis: %w", err)
	}
	return c, nil
}

// Close tears down every connection and subscriber fan-out goroutine.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, h := range c.hubs {
		h.cancel()
	}
	c.hubs = map[string]*channelHub{}
	c.mu.Unlock()

	var firstErr error
	for _, cl := range []*redis.Client{c.general, c.pub, c.subConn} {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Set writes key=value with an optional TTL (ttl<=0 means no expiry).
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.general.Set(key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv: set %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals value to JSON and stores it under key with ttl.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, b, ttl)
}

// Get reads key as a string. Returns ("", false, nil) on a cache miss.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.general.Get(key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: get %s: %w", key, err)
	}
	return v, true, nil
}

// LPush pushes values onto the head of a list.
func (c *Client) LPush(ctx context.Context, key string, values ...interface{}) error {
	if err := c.general.LPush(key, values...).Err(); err != nil {
		return fmt.Errorf("kv: lpush %s: %w", key, err)
	}
	return nil
}

// LTrim trims a list to [start, stop], used to cap recent-activity lists
// (e.g. trades:recent:<pair> at 100 entries per spec.md §6).
func (c *Client) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := c.general.LTrim(key, start, stop).Err(); err != nil {
		return fmt.Errorf("kv: ltrim %s: %w", key, err)
	}
	return nil
}

// Expire sets a TTL on an existing key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.general.Expire(key, ttl).Err(); err != nil {
		return fmt.Errorf("kv: expire %s: %w", key, err)
	}
	return nil
}

// ZAdd adds member to a sorted set with score, e.g. tokens:by_rug_score.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := c.general.ZAdd(key, &redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("kv: zadd %s: %w", key, err)
	}
	return nil
}

// ZRevRange returns members of a sorted set in descending score order.
func (c *Client) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := c.general.ZRevRange(key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: zrevrange %s: %w", key, err)
	}
	return vals, nil
}

// ZRange returns members of a sorted set in ascending score order.
func (c *Client) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := c.general.ZRange(key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: zrange %s: %w", key, err)
	}
	return vals, nil
}

// HSet sets a single hash field.
func (c *Client) HSet(ctx context.Context, key, field string, value interface{}) error {
	if err := c.general.HSet(key, field, value).Err(); err != nil {
		return fmt.Errorf("kv: hset %s.%s: %w", key, field, err)
	}
	return nil
}

// HGet reads a single hash field. Returns ("", false, nil) if absent.
func (c *Client) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := c.general.HGet(key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: hget %s.%s: %w", key, field, err)
	}
	return v, true, nil
}

// Publish is best-effort and fire-and-forget per spec.md §4.3: a publish
// error is returned to the caller for logging/metrics, but callers never
// block waiting for subscribers to drain.
func (c *Client) Publish(ctx context.Context, channel string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kv: marshal publish payload for %s: %w", channel, err)
	}
	if err := c.pub.Publish(channel, b).Err(); err != nil {
		return fmt.Errorf("kv: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a buffered channel of raw payloads for the given
// redis channel and an unsubscribe function. Multiple local subscribers
// to the same channel share one underlying redis subscription, fanned
// out through per-subscriber buffers so a slow consumer only drops its
// own messages (counted via obs.KVPublishDroppedTotal), never blocking
// the publisher or other subscribers.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	c.mu.Lock()
	hub, ok := c.hubs[channel]
	if !ok {
		hubCtx, cancel := context.WithCancel(context.Background())
		hub = &channelHub{
			redisSub:    c.subConn.Subscribe(channel),
			subscribers: make(map[uint64]chan []byte),
			cancel:      cancel,
		}
		c.hubs[channel] = hub
		go c.runHub(hubCtx, channel, hub)
	}
	c.nextID++
	id := c.nextID
	out := make(chan []byte, subscriberBufferSize)
	hub.subscribers[id] = out
	c.mu.Unlock()

	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		h, ok := c.hubs[channel]
		if !ok {
			return
		}
		delete(h.subscribers, id)
		if len(h.subscribers) == 0 {
			h.cancel()
			h.redisSub.Close()
			delete(c.hubs, channel)
		}
	}
	return out, unsubscribe
}

// runHub reads from the redis subscription and fans out non-blocking to
// every local subscriber. On a subscription error it reconnects
// transparently with the shared backoff policy, per spec.md §4.3
// "subscribe loops reconnect transparently".
func (c *Client) runHub(ctx context.Context, channel string, hub *channelHub) {
	attempt := 0
	for {
		msgCh := hub.redisSub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					goto reconnect
				}
				attempt = 0
				c.fanOut(channel, hub, []byte(msg.Payload))
			}
		}
	reconnect:
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff.Duration(attempt)):
		}
		attempt++
		hub.redisSub = c.subConn.Subscribe(channel)
	}
}

func (c *Client) fanOut(channel string, hub *channelHub, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range hub.subscribers {
		select {
		case sub <- payload:
		default:
			obs.KVPublishDroppedTotal.WithLabelValues(channel).Inc()
		}
	}
}
