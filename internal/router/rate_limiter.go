package router

import (
	"time"

	"go.uber.org/zap"

	"pairchat/internal/loop"
	"pairchat/internal/metrics"
	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

// RateLimitConfig holds the flood policy
type RateLimitConfig struct {
	Window        time.Duration
	Threshold     int
	BlockDuration time.Duration

	// IdleEviction enables the periodic sweep of quiet windows when > 0
	IdleEviction time.Duration
}

// DefaultRateLimitConfig returns 5 messages per 2s, then a 10s block
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Window:        2 * time.Second,
		Threshold:     5,
		BlockDuration: 10 * time.Second,
	}
}

// RateLimiter gates chat:send per sender with a counting window and a timed block.
// It is owned by the event loop and takes no locks.
type RateLimiter struct {
	loop    loop.Loop
	gateway interfaces.Gateway
	config  RateLimitConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	windows map[string]*rateWindow
	sweeper loop.Timer
}

// rateWindow tracks one sender. roomID scopes its block notifications.
type rateWindow struct {
	windowStart    time.Time
	lastSeen       time.Time
	count          int
	blocked        bool
	blockExpiresAt time.Time
	roomID         string
}

// NewRateLimiter creates a limiter that emits block notifications through gateway
func NewRateLimiter(l loop.Loop, gateway interfaces.Gateway, config RateLimitConfig, logger *zap.Logger, m *metrics.Metrics) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		loop:    l,
		gateway: gateway,
		config:  config,
		logger:  logger.Named("ratelimit"),
		metrics: m,
		windows: make(map[string]*rateWindow),
	}
}

// Allow reports whether the sender may send to roomID now.
// Crossing the threshold blocks the sender, tells the room, and schedules the unblock.
func (rl *RateLimiter) Allow(senderID, roomID string) bool {
	now := rl.loop.Now()

	w, exists := rl.windows[senderID]
	if !exists {
		rl.windows[senderID] = &rateWindow{windowStart: now, lastSeen: now, count: 1, roomID: roomID}
		return true
	}

	// a blocked sender stays blocked until the unblock timer runs
	if w.blocked {
		return false
	}

	w.lastSeen = now
	if now.Sub(w.windowStart) >= rl.config.Window {
		w.windowStart = now
		w.count = 1
		w.roomID = roomID
		return true
	}

	if w.count >= rl.config.Threshold {
		rl.block(senderID, w, roomID, now)
		return false
	}

	w.count++
	return true
}

func (rl *RateLimiter) block(senderID string, w *rateWindow, roomID string, now time.Time) {
	w.blocked = true
	w.blockExpiresAt = now.Add(rl.config.BlockDuration)
	w.roomID = roomID

	rl.loop.AfterFunc(rl.config.BlockDuration, func() {
		rl.unblock(senderID, w)
	})

	rl.metrics.RecordChatBlock()
	rl.logger.Info("sender blocked",
		zap.String("user_id", senderID),
		zap.String("room_id", roomID),
		zap.Time("expires_at", w.blockExpiresAt))

	if err := rl.gateway.EmitToRoom(roomID, types.ChatBlock{Error: types.ChatBlockReason, UserID: senderID}); err != nil {
		rl.logger.Warn("failed to emit block", zap.String("room_id", roomID), zap.Error(err))
	}
}

// unblock drops the window so the next message opens a fresh one
func (rl *RateLimiter) unblock(senderID string, w *rateWindow) {
	if rl.windows[senderID] != w || !w.blocked {
		return
	}
	delete(rl.windows, senderID)

	rl.logger.Info("sender unblocked", zap.String("user_id", senderID), zap.String("room_id", w.roomID))
	if err := rl.gateway.EmitToRoom(w.roomID, types.ChatUnblock{UserID: senderID}); err != nil {
		rl.logger.Warn("failed to emit unblock", zap.String("room_id", w.roomID), zap.Error(err))
	}
}

// Blocked reports whether the sender is currently blocked
func (rl *RateLimiter) Blocked(senderID string) bool {
	w, ok := rl.windows[senderID]
	return ok && w.blocked
}

// Len returns the number of tracked senders
func (rl *RateLimiter) Len() int {
	return len(rl.windows)
}

// Sweep removes unblocked windows that have seen no message for longer than idle
func (rl *RateLimiter) Sweep(idle time.Duration) int {
	now := rl.loop.Now()
	removed := 0
	for senderID, w := range rl.windows {
		if w.blocked {
			continue
		}
		if now.Sub(w.lastSeen) > idle {
			delete(rl.windows, senderID)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every IdleEviction interval. It does nothing when eviction is off.
func (rl *RateLimiter) StartSweeper() {
	idle := rl.config.IdleEviction
	if idle <= 0 || rl.sweeper != nil {
		return
	}

	var tick func()
	tick = func() {
		if rl.sweeper == nil {
			return
		}
		if removed := rl.Sweep(idle); removed > 0 {
			rl.logger.Debug("swept idle rate windows", zap.Int("removed", removed))
		}
		rl.sweeper = rl.loop.AfterFunc(idle, tick)
	}
	rl.sweeper = rl.loop.AfterFunc(idle, tick)
}

// StopSweeper cancels the periodic sweep
func (rl *RateLimiter) StopSweeper() {
	if rl.sweeper != nil {
		rl.sweeper.Stop()
		rl.sweeper = nil
	}
}
