package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"pairchat/internal/loop"
	"pairchat/internal/metrics"
	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

// State is where a connection sits in the match lifecycle
type State int

const (
	StateIdle State = iota
	StateWaiting
	StatePairing
	StateMatched
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StatePairing:
		return "pairing"
	case StateMatched:
		return "matched"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// HistoryReplayer delivers a room's stored messages to one connection
type HistoryReplayer interface {
	Replay(ctx context.Context, connectionID, roomID string)
}

// Config holds the coordinator's tunables
type Config struct {
	MatchTimeout     time.Duration
	DirectoryTimeout time.Duration
}

// DefaultConfig returns the production lifecycle timings
func DefaultConfig() Config {
	return Config{
		MatchTimeout:     10 * time.Second,
		DirectoryTimeout: 5 * time.Second,
	}
}

// Coordinator runs the match lifecycle: start, cancel, timeout, success, leave, reconnect.
// Every method must be called from the event loop. Directory calls are made through
// loop.Await, so other events can run before a pairing completes; the per-connection
// state and pool.Remove's result are re-checked whenever a continuation resumes.
type Coordinator struct {
	pool      *WaitingPool
	directory interfaces.Directory
	gateway   interfaces.Gateway
	replayer  HistoryReplayer
	loop      loop.Loop
	logger    *zap.Logger
	metrics   *metrics.Metrics
	config    Config

	states     map[string]State
	tickets    map[string]uint64 // connectionID -> ticket of its current wait
	nextTicket uint64

	users       map[string]string // connectionID -> user id it acts for
	owners      map[string]string // user id -> connectionID
	reconnected map[string]bool   // rejoined a room without a bound user id yet
}

// NewCoordinator wires the coordinator to its pool and collaborators
func NewCoordinator(pool *WaitingPool, directory interfaces.Directory, gateway interfaces.Gateway, l loop.Loop, config Config, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		pool:      pool,
		directory: directory,
		gateway:   gateway,
		loop:      l,
		logger:    logger.Named("coordinator"),
		metrics:   m,
		config:    config,
		states:    make(map[string]State),
		tickets:   make(map[string]uint64),

		users:       make(map[string]string),
		owners:      make(map[string]string),
		reconnected: make(map[string]bool),
	}
}

// SetHistoryReplayer installs the delegate used to load messages on reconnect
func (c *Coordinator) SetHistoryReplayer(r HistoryReplayer) {
	c.replayer = r
}

// State returns the lifecycle state of a connection
func (c *Coordinator) State(connectionID string) State {
	return c.states[connectionID]
}

// PoolSnapshot returns a copy of the waiting pool
func (c *Coordinator) PoolSnapshot() []types.WaitingEntry {
	return c.pool.Snapshot()
}

// Start pairs the connection with the longest-waiting peer, or enqueues it
func (c *Coordinator) Start(ctx context.Context, connectionID string, attrs types.Attributes) error {
	if connectionID == "" {
		return ErrEmptyConnectionID
	}

	switch state := c.states[connectionID]; state {
	case StateWaiting, StatePairing:
		c.logger.Debug("ignoring start while already matching",
			zap.String("connection_id", connectionID), zap.Stringer("state", state))
		return ErrAlreadyMatching
	}
	if c.pool.Contains(connectionID) {
		return ErrAlreadyMatching
	}

	peer, ok := c.pool.DequeueNext()
	if !ok {
		c.enqueue(connectionID, attrs)
		return nil
	}

	delete(c.tickets, peer.ConnectionID)
	c.metrics.SetWaitingPoolSize(c.pool.Len())
	c.states[peer.ConnectionID] = StatePairing
	c.states[connectionID] = StatePairing

	var pairing *types.Pairing
	var err error
	c.loop.Await(func() {
		dctx, cancel := context.WithTimeout(ctx, c.config.DirectoryTimeout)
		defer cancel()
		pairing, err = c.directory.CreatePairedUsersAndRoom(dctx, peer.Attributes, attrs)
	}, func() {
		c.completePairing(peer.ConnectionID, connectionID, pairing, err)
	})
	return nil
}

func (c *Coordinator) enqueue(connectionID string, attrs types.Attributes) {
	c.nextTicket++
	ticket := c.nextTicket

	c.pool.Enqueue(types.WaitingEntry{
		ConnectionID: connectionID,
		Attributes:   attrs,
		EnqueuedAt:   c.loop.Now(),
	})
	c.states[connectionID] = StateWaiting
	c.tickets[connectionID] = ticket
	c.metrics.SetWaitingPoolSize(c.pool.Len())

	// Not cancelled when the wait resolves; expire re-checks instead.
	c.loop.AfterFunc(c.config.MatchTimeout, func() {
		c.expire(connectionID, ticket)
	})

	c.logger.Debug("connection waiting for peer",
		zap.String("connection_id", connectionID), zap.Int("pool_size", c.pool.Len()))
}

// expire evicts a wait that found no peer in time
func (c *Coordinator) expire(connectionID string, ticket uint64) {
	if c.tickets[connectionID] != ticket {
		// a later wait of the same connection owns the pool entry now
		return
	}
	if !c.pool.Remove(connectionID) {
		return
	}

	delete(c.tickets, connectionID)
	c.states[connectionID] = StateIdle
	c.metrics.SetWaitingPoolSize(c.pool.Len())
	c.metrics.RecordMatchTimeout()

	c.logger.Info("match timed out", zap.String("connection_id", connectionID))
	c.emit(connectionID, types.MatchFail{})
}

func (c *Coordinator) completePairing(connA, connB string, pairing *types.Pairing, err error) {
	if err != nil {
		c.metrics.RecordPairing(metrics.OutcomeFailure)
		c.resetPairing(connA)
		c.resetPairing(connB)
		c.logger.Error("pairing failed",
			zap.String("event", types.EventMatchStart),
			zap.String("connection_a", connA),
			zap.String("connection_b", connB),
			zap.Error(err))
		return
	}

	c.metrics.RecordPairing(metrics.OutcomeSuccess)
	c.join(connA, pairing.RoomID)
	c.join(connB, pairing.RoomID)
	c.markMatched(connA)
	c.markMatched(connB)
	c.bind(connA, pairing.UserIDA)
	c.bind(connB, pairing.UserIDB)

	c.emit(connA, types.MatchSuccess{RoomID: pairing.RoomID, UserID: pairing.UserIDA})
	c.emit(connB, types.MatchSuccess{RoomID: pairing.RoomID, UserID: pairing.UserIDB})

	c.logger.Info("pair matched",
		zap.String("room_id", pairing.RoomID),
		zap.String("connection_a", connA),
		zap.String("connection_b", connB))
}

// resetPairing returns a still-connected side to idle so it may start again
func (c *Coordinator) resetPairing(connectionID string) {
	if c.states[connectionID] == StatePairing {
		c.states[connectionID] = StateIdle
	}
}

func (c *Coordinator) markMatched(connectionID string) {
	if _, ok := c.states[connectionID]; ok {
		c.states[connectionID] = StateMatched
	}
}

// bind records the user id a live connection acts for, replacing any earlier one
func (c *Coordinator) bind(connectionID, userID string) {
	if _, ok := c.states[connectionID]; !ok {
		return
	}
	c.unbind(connectionID)
	c.users[connectionID] = userID
	c.owners[userID] = connectionID
}

func (c *Coordinator) unbind(connectionID string) {
	if userID, ok := c.users[connectionID]; ok {
		if c.owners[userID] == connectionID {
			delete(c.owners, userID)
		}
		delete(c.users, connectionID)
	}
	delete(c.reconnected, connectionID)
}

// Identify reports whether the connection may act for userID. A connection paired
// here acts only for the user id it was given. A reconnected connection claims the
// first user id it presents, unless another live connection already holds it.
func (c *Coordinator) Identify(connectionID, userID string) bool {
	if owned, ok := c.users[connectionID]; ok {
		return owned == userID
	}
	if !c.reconnected[connectionID] {
		return false
	}
	if _, held := c.owners[userID]; held {
		return false
	}
	c.bind(connectionID, userID)
	return true
}

// Cancel withdraws a waiting connection. Cancelling when not waiting is a no-op.
func (c *Coordinator) Cancel(connectionID string) {
	if !c.pool.Remove(connectionID) {
		return
	}

	delete(c.tickets, connectionID)
	c.states[connectionID] = StateIdle
	c.metrics.SetWaitingPoolSize(c.pool.Len())
	c.metrics.RecordMatchCancel()

	c.emit(connectionID, types.MatchCancelled{})
}

// Leave marks the persisted user as left and tells the user's room.
// Only the connection acting for userID may leave on its behalf.
func (c *Coordinator) Leave(ctx context.Context, connectionID, userID string) error {
	if !c.Identify(connectionID, userID) {
		return ErrUserMismatch
	}
	if c.states[connectionID] == StateMatched {
		c.states[connectionID] = StateLeft
	}

	var roomID string
	var err error
	c.loop.Await(func() {
		dctx, cancel := context.WithTimeout(ctx, c.config.DirectoryTimeout)
		defer cancel()
		roomID, err = c.directory.MarkUserLeft(dctx, userID)
	}, func() {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			c.logger.Debug("leave for unknown user", zap.String("user_id", userID))
			return
		}
		if err != nil {
			c.logger.Error("leave failed",
				zap.String("event", types.EventMatchLeave),
				zap.String("user_id", userID),
				zap.Error(err))
			return
		}
		if roomID == "" {
			return
		}
		if err := c.gateway.EmitToRoom(roomID, types.MatchLeft{}); err != nil {
			c.logger.Warn("failed to notify room of leave", zap.String("room_id", roomID), zap.Error(err))
		}
	})
	return nil
}

// Reconnect re-attaches a connection that opened with a known room id
func (c *Coordinator) Reconnect(ctx context.Context, connectionID, roomID string) {
	var found bool
	var err error
	c.loop.Await(func() {
		dctx, cancel := context.WithTimeout(ctx, c.config.DirectoryTimeout)
		defer cancel()
		found, err = c.directory.FindRoom(dctx, roomID)
	}, func() {
		if err != nil || !found {
			if err != nil && !errors.Is(err, interfaces.ErrRoomNotFound) {
				c.logger.Error("reconnect lookup failed", zap.String("room_id", roomID), zap.Error(err))
			}
			c.emit(connectionID, types.MatchReconnectFail{})
			return
		}
		c.resumeReconnect(ctx, connectionID, roomID)
	})
}

func (c *Coordinator) resumeReconnect(ctx context.Context, connectionID, roomID string) {
	if !c.join(connectionID, roomID) {
		return
	}
	c.markMatched(connectionID)
	if _, bound := c.users[connectionID]; !bound {
		c.reconnected[connectionID] = true
	}

	if c.replayer != nil {
		c.replayer.Replay(ctx, connectionID, roomID)
	}

	var left bool
	var err error
	c.loop.Await(func() {
		dctx, cancel := context.WithTimeout(ctx, c.config.DirectoryTimeout)
		defer cancel()
		left, err = c.directory.AnyMemberLeft(dctx, roomID)
	}, func() {
		if err != nil {
			c.logger.Error("reconnect member check failed", zap.String("room_id", roomID), zap.Error(err))
			return
		}
		if left {
			c.emit(connectionID, types.MatchLeft{})
		}
	})
}

// Connect registers a fresh connection as idle
func (c *Coordinator) Connect(connectionID string) {
	if _, ok := c.states[connectionID]; !ok {
		c.states[connectionID] = StateIdle
	}
}

// Disconnect silently drops a connection from the pool and forgets its state
func (c *Coordinator) Disconnect(connectionID string) {
	if c.pool.Remove(connectionID) {
		c.metrics.SetWaitingPoolSize(c.pool.Len())
	}
	c.unbind(connectionID)
	delete(c.tickets, connectionID)
	delete(c.states, connectionID)
}

func (c *Coordinator) join(connectionID, roomID string) bool {
	if err := c.gateway.JoinGroup(connectionID, roomID); err != nil {
		c.logger.Warn("failed to join room",
			zap.String("connection_id", connectionID), zap.String("room_id", roomID), zap.Error(err))
		return false
	}
	return true
}

func (c *Coordinator) emit(connectionID string, ev types.Outbound) {
	if err := c.gateway.EmitToConnection(connectionID, ev); err != nil {
		c.logger.Warn("failed to emit",
			zap.String("event", ev.EventName()),
			zap.String("connection_id", connectionID),
			zap.Error(err))
	}
}
