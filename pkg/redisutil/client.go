// Package redisutil wraps github.com/redis/go-redis/v9 with the proxy's
// key-prefix conventions, matching the teacher's own pkg/redis/client.go
// wrapper shape but trimmed to the operations the new account and
// signature packages actually call.
package redisutil

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes, carried verbatim from the teacher's client.go.
const (
	PrefixAccounts          = "accounts:"
	PrefixAccountIndex      = "account_index"
	PrefixRateLimits        = "ratelimit:"
	PrefixQuotas            = "quota:"
	PrefixHealth            = "health:"
	PrefixTokens            = "tokens:"
	PrefixSignatureSession  = "sig:session:"
	PrefixSignatureContent  = "sig:content:"
	PrefixSignatureTool     = "sig:tool:"
	PrefixSignatureFamily   = "sig:family:"
	PrefixOAuthState        = "oauth:state:"
)

// ErrNil is returned where the teacher's client translated redis.Nil into
// a package-local sentinel so callers don't need to import go-redis.
var ErrNil = redis.Nil

// Client wraps a *redis.Client with the helpers the proxy needs.
type Client struct {
	rdb *redis.Client
}

// NewClient dials Redis and verifies connectivity with a bounded ping.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error { return c.rdb.Close() }

// Raw exposes the underlying client for operations this wrapper doesn't cover.
func (c *Client) Raw() *redis.Client { return c.rdb }

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNil
	}
	return v, err
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Client) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return c.rdb.HSet(ctx, key, values).Err()
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

func (c *Client) HDel(ctx context.Context, key string, fields ...string) error {
	return c.rdb.HDel(ctx, key, fields...).Err()
}

func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return c.rdb.SAdd(ctx, key, members...).Err()
}

func (c *Client) SRem(ctx context.Context, key string, members ...interface{}) error {
	return c.rdb.SRem(ctx, key, members...).Err()
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	return c.rdb.Keys(ctx, pattern).Result()
}

// IsNil reports whether err is the "key not found" sentinel.
func IsNil(err error) bool { return errors.Is(err, redis.Nil) || errors.Is(err, ErrNil) }
