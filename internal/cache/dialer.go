package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/yourorg/scenegen/pkg/types"
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// netDialer returns a dialer with a connect timeout, wrapping the connection
// in TLS when tlsCfg is set.
func netDialer(timeout time.Duration, tlsCfg *tls.Config) dialFunc {
	nd := &net.Dialer{Timeout: timeout, KeepAlive: 5 * time.Minute}
	if tlsCfg == nil {
		return nd.DialContext
	}
	td := &tls.Dialer{NetDialer: nd, Config: tlsCfg}
	return td.DialContext
}

// reconnector wraps a dialFunc with a bounded retry policy. Once a dial has
// used up every retry the reconnector stays down and refuses further dials.
type reconnector struct {
	dial      dialFunc
	policy    RetryPolicy
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
	exhausted atomic.Bool
}

func newReconnector(dial dialFunc, policy RetryPolicy, logger *slog.Logger) *reconnector {
	return &reconnector{dial: dial, policy: policy, sleep: sleepCtx, logger: logger}
}

func (r *reconnector) Exhausted() bool {
	return r.exhausted.Load()
}

// Reset lifts the refusal after the budget was spent. It reports whether the
// reconnector had been exhausted.
func (r *reconnector) Reset() bool {
	return r.exhausted.Swap(false)
}

func (r *reconnector) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	if r.Exhausted() {
		return nil, fmt.Errorf("%w: reconnect attempts exhausted", types.ErrCacheUnavailable)
	}
	for attempt := 1; ; attempt++ {
		conn, err := r.dial(ctx, network, addr)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("cache reconnected", "addr", addr, "attempts", attempt)
			}
			return conn, nil
		}
		delay, retry := r.policy(attempt)
		if !retry {
			r.exhausted.Store(true)
			r.logger.Error("cache connection failed, giving up", "addr", addr, "attempts", attempt, "error", err)
			return nil, fmt.Errorf("%w: connect %s after %d attempts: %v", types.ErrCacheUnavailable, addr, attempt, err)
		}
		r.logger.Warn("cache connection failed, retrying", "addr", addr, "attempt", attempt, "delay", delay, "error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrCacheUnavailable, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
