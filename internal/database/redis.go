package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bookoftales/tales/internal/pool"
)

// RedisDriver dials single-connection go-redis clients.
type RedisDriver struct {
	opts *redis.Options
}

func newRedisDriver(host string, extensions map[string]string) (*RedisDriver, error) {
	merged, err := MergeExtensions(host, extensions)
	if err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(merged)
	if err != nil {
		return nil, fmt.Errorf("database: invalid redis host %s: %w", Redact(host), err)
	}
	return NewRedisDriver(opts), nil
}

// NewRedisDriver returns a driver for opts. Each session owns exactly one
// network connection, so the client-side pool of go-redis is pinned to 1.
func NewRedisDriver(opts *redis.Options) *RedisDriver {
	o := *opts
	o.PoolSize = 1
	o.MinIdleConns = 0
	o.MaxIdleConns = 1
	return &RedisDriver{opts: &o}
}

// Addr is the server address sessions connect to.
func (d *RedisDriver) Addr() string { return d.opts.Addr }

func (d *RedisDriver) Dial(ctx context.Context) (pool.Session, error) {
	client := redis.NewClient(d.opts)
	// go-redis connects lazily; force the dial now.
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisSession{client: client}, nil
}

// RedisSession is one Redis connection.
type RedisSession struct {
	client *redis.Client
}

// Client exposes the connection to request handlers.
func (s *RedisSession) Client() *redis.Client { return s.client }

func (s *RedisSession) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Reset checks the connection still answers. The selected DB is part of the
// client options, so there is no per-connection state to clear.
func (s *RedisSession) Reset(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisSession) Close() error { return s.client.Close() }
