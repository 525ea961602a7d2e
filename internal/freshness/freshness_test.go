package freshness

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"marketrefresh/internal/testutil"
)

type memoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

var epoch = time.Date(2024, 1, 15, 22, 30, 0, 0, time.UTC)

func TestTracker_MarkThenFresh(t *testing.T) {
	kv := newMemoryKV()
	clk := testutil.NewFakeClock(epoch)
	tr := New(kv, time.Hour, WithClock(clk))
	ctx := context.Background()

	fresh, err := tr.IsFresh(ctx, "ohlcv", "AAPL")
	require.NoError(t, err)
	assert.False(t, fresh)

	require.NoError(t, tr.Mark(ctx, "ohlcv", "AAPL"))
	assert.Equal(t, time.Hour, kv.ttls["marketrefresh:fresh:ohlcv:AAPL"])

	fresh, err = tr.IsFresh(ctx, "ohlcv", "AAPL")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = tr.IsFresh(ctx, "news", "AAPL")
	require.NoError(t, err)
	assert.False(t, fresh, "kinds are tracked separately")

	clk.Advance(time.Hour)
	fresh, err = tr.IsFresh(ctx, "ohlcv", "AAPL")
	require.NoError(t, err)
	assert.False(t, fresh, "stamps expire after the ttl even if the key survives")
}

func TestTracker_StampEncoding(t *testing.T) {
	kv := newMemoryKV()
	tr := New(kv, 0, WithClock(testutil.NewFrozenClock(epoch)), WithPrefix("test"))

	require.NoError(t, tr.Mark(context.Background(), "estimates", "MSFT"))

	var s stamp
	require.NoError(t, msgpack.Unmarshal(kv.data["test:estimates:MSFT"], &s))
	assert.Equal(t, epoch.UnixMilli(), s.RefreshedAt)
	assert.Equal(t, "estimates", s.Kind)
	assert.Equal(t, DefaultTTL, kv.ttls["test:estimates:MSFT"])
}

func TestTracker_Errors(t *testing.T) {
	kv := newMemoryKV()
	tr := New(kv, time.Hour)
	ctx := context.Background()

	kv.data["marketrefresh:fresh:ohlcv:BAD"] = []byte{0xc1}
	_, err := tr.IsFresh(ctx, "ohlcv", "BAD")
	assert.ErrorContains(t, err, "freshness decode")

	kv.err = errors.New("connection reset")
	_, err = tr.IsFresh(ctx, "ohlcv", "AAPL")
	assert.ErrorContains(t, err, "connection reset")
	assert.ErrorContains(t, tr.Mark(ctx, "ohlcv", "AAPL"), "freshness store")
}

func TestNewRedis_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewRedis(context.Background(), RedisConfig{Addr: addr})
	assert.ErrorContains(t, err, "redis ping")
}
