package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/scenegen/pkg/types"
)

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, nil), mr
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus, _ := newTestBus(t)
	err := bus.Publish(context.Background(), types.DefaultChannel, types.Notification{SessionID: "s1", Status: types.SignalReadyToRun})
	assert.NoError(t, err)
}

func TestPublishSubscribe(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := bus.Subscribe(ctx, types.DefaultChannel)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, types.DefaultChannel, types.Notification{SessionID: "s1", Status: types.SignalReadyToRun}))

	n, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", n.SessionID)
	assert.Equal(t, types.SignalReadyToRun, n.Status)
}

func TestWireFormat(t *testing.T) {
	bus, mr := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := bus.Subscribe(ctx, "chan")
	require.NoError(t, err)
	defer sub.Close()

	// A payload from another publisher using the same schema.
	assert.Equal(t, 1, mr.Publish("chan", "not json"))
	assert.Equal(t, 1, mr.Publish("chan", `{"sessionId":"w1","status":"completed"}`))

	n, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Notification{SessionID: "w1", Status: types.SignalCompleted}, n)
}

func TestListenStopsOnCancel(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan types.Notification, 1)
	done := make(chan error, 1)
	go func() {
		done <- bus.Listen(ctx, "chan", func(n types.Notification) {
			select {
			case got <- n:
			default:
			}
			cancel()
		})
	}()

	deadline := time.After(5 * time.Second)
	for {
		_ = bus.Publish(context.Background(), "chan", types.Notification{SessionID: "s", Status: types.SignalReadyToRun})
		select {
		case n := <-got:
			assert.Equal(t, "s", n.SessionID)
			require.NoError(t, <-done)
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no notification received")
		}
	}
}

func TestPublishFailure(t *testing.T) {
	bus, mr := newTestBus(t)
	mr.Close()
	err := bus.Publish(context.Background(), "chan", types.Notification{SessionID: "s"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCacheUnavailable))
}

func TestPublishRejectsEmptyChannel(t *testing.T) {
	bus, _ := newTestBus(t)
	assert.Error(t, bus.Publish(context.Background(), " ", types.Notification{SessionID: "s"}))
}
