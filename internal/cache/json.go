package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSONCache stores JSON payloads in redis under a namespace. A nil client
// turns every call into a miss so callers need no redis branch.
type JSONCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func NewJSONCache(client *redis.Client, namespace string, ttl time.Duration) *JSONCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &JSONCache{client: client, namespace: strings.TrimSuffix(namespace, ":"), ttl: ttl}
}

// Get decodes the cached value into dst and reports whether it was found.
func (c *JSONCache) Get(ctx context.Context, key string, dst interface{}) bool {
	if c == nil || c.client == nil || key == "" {
		return false
	}
	data, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (c *JSONCache) Set(ctx context.Context, key string, value interface{}) {
	if c == nil || c.client == nil || key == "" {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.prefixed(key), data, c.ttl)
}

// Flush drops every key in the namespace, used after a sync writes new
// rows.
func (c *JSONCache) Flush(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.prefixed("*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *JSONCache) prefixed(key string) string {
	return c.namespace + ":" + key
}
