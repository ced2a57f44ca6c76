package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourorg/scenegen/internal/config"
	"github.com/yourorg/scenegen/pkg/types"
)

// SessionCache keeps short-lived session snapshots in Redis under
// "<namespace>:<sessionId>".
type SessionCache struct {
	rdb       *redis.Client
	rc        *reconnector
	namespace string
	logger    *slog.Logger
}

// New connects lazily to the Redis server described by cfg.
func New(cfg config.CacheConfig, logger *slog.Logger) (*SessionCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: cache url: %v", types.ErrConfiguration, err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	tlsCfg := opts.TLSConfig
	if cfg.TLS && tlsCfg == nil {
		host, _, err := net.SplitHostPort(opts.Addr)
		if err != nil {
			host = opts.Addr
		}
		tlsCfg = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	if tlsCfg != nil && cfg.CAFile != "" {
		pool, err := loadCAPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.RootCAs = pool
	}
	timeout := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	opts.DialTimeout = timeout

	policy := LinearBackoff(
		time.Duration(cfg.RetryStepMillis)*time.Millisecond,
		time.Duration(cfg.RetryMaxMillis)*time.Millisecond,
		cfg.RetryMaxAttempts,
	)
	return newWithDialer(opts, cfg.Namespace, netDialer(timeout, tlsCfg), policy, logger), nil
}

func newWithDialer(opts *redis.Options, namespace string, dial dialFunc, policy RetryPolicy, logger *slog.Logger) *SessionCache {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = "manim"
	}
	rc := newReconnector(dial, policy, logger)
	opts.Dialer = rc.Dial
	// Reconnects are governed by the retry policy alone.
	opts.MaxRetries = -1
	return &SessionCache{
		rdb:       redis.NewClient(opts),
		rc:        rc,
		namespace: namespace,
		logger:    logger,
	}
}

// Key returns the cache key for sessionID.
func (c *SessionCache) Key(sessionID string) string {
	return c.namespace + ":" + sessionID
}

// Client exposes the underlying connection so the notification bus can share it.
func (c *SessionCache) Client() *redis.Client {
	return c.rdb
}

// Available reports whether the cache may still be reached.
func (c *SessionCache) Available() bool {
	return !c.rc.Exhausted()
}

// Put stores scene under sessionID. The expiry is set by the same SET command.
func (c *SessionCache) Put(ctx context.Context, sessionID string, scene *types.Scene, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: cache ttl must be positive, got %s", types.ErrValidation, ttl)
	}
	if !c.Available() {
		return fmt.Errorf("%w: reconnect attempts exhausted", types.ErrCacheUnavailable)
	}
	data, err := types.EncodeScene(scene)
	if err != nil {
		return err
	}
	key := c.Key(sessionID)
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return c.wrap(err)
	}
	c.logger.Info("saved session snapshot", "key", key, "ttl", ttl)
	return nil
}

// Get returns the snapshot for sessionID. The boolean is false once the entry
// has expired or was never written.
func (c *SessionCache) Get(ctx context.Context, sessionID string) (*types.Scene, bool, error) {
	if !c.Available() {
		return nil, false, fmt.Errorf("%w: reconnect attempts exhausted", types.ErrCacheUnavailable)
	}
	data, err := c.rdb.Get(ctx, c.Key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, c.wrap(err)
	}
	scene, err := types.DecodeScene(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return scene, true, nil
}

// Reconnect clears a spent reconnect budget and checks the server again. It is
// how the cache comes back once connectivity has been restored.
func (c *SessionCache) Reconnect(ctx context.Context) error {
	if c.rc.Reset() {
		c.logger.Info("cache reconnect requested")
	}
	return c.Ping(ctx)
}

// Ping checks connectivity.
func (c *SessionCache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return c.wrap(err)
	}
	return nil
}

func (c *SessionCache) Close() error {
	return c.rdb.Close()
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cache ca file: %v", types.ErrConfiguration, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: cache ca file %s has no certificates", types.ErrConfiguration, path)
	}
	return pool, nil
}

func (c *SessionCache) wrap(err error) error {
	if errors.Is(err, types.ErrCacheUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrCacheUnavailable, err)
}
