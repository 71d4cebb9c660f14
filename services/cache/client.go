package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("cache client not connected")

// Client wraps go-redis and bounds every call by the configured operation timeout.
type Client struct {
	rdb       *redis.Client
	opTimeout time.Duration
	logger    *logging.Service
}

func Connect(ctx context.Context, cfg config.RedisConfig, logger *logging.Service) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	c := NewClient(redis.NewClient(opts), cfg.OpTimeout, logger)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	if err := c.rdb.Ping(pingCtx).Err(); err != nil {
		_ = c.rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("connected to redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	return c, nil
}

// NewClient wraps an existing go-redis client without verifying connectivity.
func NewClient(rdb *redis.Client, opTimeout time.Duration, logger *logging.Service) *Client {
	return &Client{rdb: rdb, opTimeout: opTimeout, logger: logger}
}

func (c *Client) Raw() *redis.Client { return c.rdb }

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

// Get returns ("", nil) when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c == nil || c.rdb == nil {
		return "", ErrNotConnected
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// Set stores a value; a zero ttl means no expiry.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.rdb == nil {
		return ErrNotConnected
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c == nil || c.rdb == nil {
		return ErrNotConnected
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, ErrNotConnected
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if c == nil || c.rdb == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	return c.rdb.HGetAll(ctx, key).Result()
}

// Run executes a server-side script, loading it on first use.
func (c *Client) Run(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error) {
	if c == nil || c.rdb == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	return script.Run(ctx, c.rdb, keys, args...).Result()
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return ErrNotConnected
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
