package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pairchat/internal/fakes"
	"pairchat/internal/loop"
	"pairchat/pkg/types"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, config RateLimitConfig) (*RateLimiter, *loop.Manual, *fakes.Gateway) {
	t.Helper()
	l := loop.NewManual(epoch)
	gw := fakes.NewGateway()
	return NewRateLimiter(l, gw, config, zaptest.NewLogger(t), nil), l, gw
}

func TestRateLimiter_BlockAndUnblock(t *testing.T) {
	rl, l, gw := newLimiter(t, DefaultRateLimitConfig())

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("u1", "r1"), "message %d should be allowed", i+1)
		l.Advance(100 * time.Millisecond)
	}

	assert.False(t, rl.Allow("u1", "r1"), "6th message within the window is blocked")
	assert.True(t, rl.Blocked("u1"))
	assert.Equal(t, []types.Outbound{types.ChatBlock{Error: types.ChatBlockReason, UserID: "u1"}}, gw.ToRoom("r1"))

	// further sends are denied without another notification
	for i := 0; i < 3; i++ {
		assert.False(t, rl.Allow("u1", "r1"))
	}
	assert.Len(t, gw.ToRoom("r1"), 1)

	l.Advance(10 * time.Second)
	assert.Equal(t, []types.Outbound{
		types.ChatBlock{Error: types.ChatBlockReason, UserID: "u1"},
		types.ChatUnblock{UserID: "u1"},
	}, gw.ToRoom("r1"))
	assert.False(t, rl.Blocked("u1"))
	assert.Equal(t, 0, rl.Len())

	assert.True(t, rl.Allow("u1", "r1"), "a fresh window opens after unblock")
}

func TestRateLimiter_BlockedIgnoresElapsedWindow(t *testing.T) {
	rl, l, gw := newLimiter(t, DefaultRateLimitConfig())

	for i := 0; i < 6; i++ {
		rl.Allow("u1", "r1")
	}
	require.True(t, rl.Blocked("u1"))

	// well past the 2s window but before the unblock
	l.Advance(9900 * time.Millisecond)
	assert.False(t, rl.Allow("u1", "r1"))
	assert.Len(t, gw.Emissions(), 1)
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl, l, gw := newLimiter(t, DefaultRateLimitConfig())

	for i := 0; i < 5; i++ {
		require.True(t, rl.Allow("u1", "r1"))
	}
	l.Advance(2 * time.Second)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("u1", "r1"), "message %d of the second window", i+1)
	}
	assert.Empty(t, gw.Emissions())
}

func TestRateLimiter_SendersAreIndependent(t *testing.T) {
	rl, _, gw := newLimiter(t, DefaultRateLimitConfig())

	for i := 0; i < 6; i++ {
		rl.Allow("u1", "r1")
	}
	assert.True(t, rl.Allow("u2", "r1"))
	assert.False(t, rl.Blocked("u2"))
	assert.Len(t, gw.ToRoom("r1"), 1)
}

func TestRateLimiter_CustomPolicy(t *testing.T) {
	rl, l, gw := newLimiter(t, RateLimitConfig{Window: time.Second, Threshold: 2, BlockDuration: 3 * time.Second})

	assert.True(t, rl.Allow("u1", "r9"))
	assert.True(t, rl.Allow("u1", "r9"))
	assert.False(t, rl.Allow("u1", "r9"))

	l.Advance(3 * time.Second)
	assert.Equal(t, types.ChatUnblock{UserID: "u1"}, gw.ToRoom("r9")[1])
}

func TestRateLimiter_SweepSkipsBlocked(t *testing.T) {
	rl, l, _ := newLimiter(t, DefaultRateLimitConfig())

	rl.Allow("quiet", "r1")
	for i := 0; i < 6; i++ {
		rl.Allow("flood", "r2")
	}
	l.Advance(5 * time.Second)

	assert.Equal(t, 1, rl.Sweep(time.Second))
	assert.Equal(t, 1, rl.Len())
	assert.True(t, rl.Blocked("flood"))
}

func TestRateLimiter_SweeperOffByDefault(t *testing.T) {
	rl, l, _ := newLimiter(t, DefaultRateLimitConfig())

	rl.StartSweeper()
	assert.Equal(t, 0, l.Scheduled())

	rl.Allow("u1", "r1")
	l.Advance(time.Hour)
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimiter_SweeperEvictsIdle(t *testing.T) {
	config := DefaultRateLimitConfig()
	config.IdleEviction = 30 * time.Second
	rl, l, _ := newLimiter(t, config)

	rl.StartSweeper()
	rl.Allow("u1", "r1")

	l.Advance(30 * time.Second)
	assert.Equal(t, 1, rl.Len(), "exactly idle is kept")

	l.Advance(30 * time.Second)
	assert.Equal(t, 0, rl.Len())

	rl.StopSweeper()
	assert.Equal(t, 0, l.Scheduled())
}
