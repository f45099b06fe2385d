package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/trickstertwo/tincan"
)

const StoreName = "redis"

func init() {
	if err := tincan.RegisterStore(StoreName, func(cfg map[string]any) (tincan.Store, error) {
		return NewStore(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("tincan: failed to register store %q: %w", StoreName, err))
	}
}

// Store implements tincan.Store and tincan.Inspector on a Redis server:
// member sets are SADD/SMEMBERS, lists are RPUSH/BLPOP, bodies are SET/GET.
type Store struct {
	cfg    Config
	client *goredis.Client
	closed atomic.Bool
}

var (
	_ tincan.Store     = (*Store)(nil)
	_ tincan.Inspector = (*Store)(nil)
)

// NewStore dials Redis and verifies the connection with PING.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := goredis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Store{cfg: cfg, client: client}, nil
}

// Client exposes the underlying go-redis client.
func (s *Store) Client() *goredis.Client { return s.client }

func (s *Store) AddMember(ctx context.Context, key, member string) error {
	return s.mapErr(s.client.SAdd(ctx, key, member).Err())
}

func (s *Store) Members(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, s.mapErr(err)
	}
	return members, nil
}

func (s *Store) Push(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.mapErr(s.client.RPush(ctx, key, args...).Err())
}

// BlockingPop issues BLPOP over keys. A zero timeout blocks until an item
// arrives or the store is closed.
func (s *Store) BlockingPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, error) {
	if s.closed.Load() {
		return "", "", tincan.ErrStoreClosed
	}
	res, err := s.client.BLPop(ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", "", tincan.ErrPopTimeout
		}
		if ctx.Err() != nil && !s.closed.Load() {
			return "", "", ctx.Err()
		}
		return "", "", s.mapErr(err)
	}
	if len(res) != 2 {
		return "", "", fmt.Errorf("unexpected BLPOP reply of %d elements", len(res))
	}
	return res[0], res[1], nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", tincan.ErrNotFound
		}
		return "", s.mapErr(err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.mapErr(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Store) Pop(ctx context.Context, key string) (string, error) {
	v, err := s.client.LPop(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", tincan.ErrNotFound
		}
		return "", s.mapErr(err)
	}
	return v, nil
}

func (s *Store) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vs, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, s.mapErr(err)
	}
	return vs, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return tincan.ErrStoreClosed
	}
	return s.mapErr(s.client.Ping(ctx).Err())
}

// Close closes the client, which also unblocks a pending BLPOP.
func (s *Store) Close(_ context.Context) error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}
	return s.client.Close()
}

// mapErr reports any failure after Close as tincan.ErrStoreClosed.
func (s *Store) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if s.closed.Load() || errors.Is(err, goredis.ErrClosed) {
		return fmt.Errorf("%w: %v", tincan.ErrStoreClosed, err)
	}
	return err
}

// Helper functions

func ping(c *goredis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}

	return nil
}
