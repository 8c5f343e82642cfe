package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pairchat/internal/loop"
	"pairchat/internal/metrics"
	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

// Identities tells whether a connection may act for a user id
type Identities interface {
	Identify(connectionID, userID string) bool
}

// Router owns the chat:send path: membership check, rate check, persist, then forward.
// It also replays room history to reconnecting connections.
// All methods run on the event loop.
type Router struct {
	directory        interfaces.Directory
	gateway          interfaces.Gateway
	limiter          *RateLimiter
	loop             loop.Loop
	logger           *zap.Logger
	metrics          *metrics.Metrics
	identities       Identities
	directoryTimeout time.Duration
}

// NewRouter creates a chat router
func NewRouter(directory interfaces.Directory, gateway interfaces.Gateway, limiter *RateLimiter, l loop.Loop, directoryTimeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		directory:        directory,
		gateway:          gateway,
		limiter:          limiter,
		loop:             l,
		logger:           logger.Named("router"),
		metrics:          m,
		directoryTimeout: directoryTimeout,
	}
}

// SetIdentities installs the check binding a sender's userId to its connection
func (r *Router) SetIdentities(identities Identities) {
	r.identities = identities
}

// HandleSend routes one chat:send. A rate-limited message is dropped silently;
// the block notification is the only response. The message ID and timestamp are
// assigned here, never taken from the client.
func (r *Router) HandleSend(ctx context.Context, connectionID string, msg types.ChatSend) error {
	if connectionID == "" {
		return ErrEmptyConnection
	}
	if !r.gateway.InGroup(connectionID, msg.RoomID) {
		r.metrics.RecordChatMessage(metrics.ResultRejected)
		return ErrSenderNotInRoom
	}
	if r.identities != nil && !r.identities.Identify(connectionID, msg.UserID) {
		r.metrics.RecordChatMessage(metrics.ResultRejected)
		return ErrSenderMismatch
	}
	if err := msg.Validate(); err != nil {
		r.metrics.RecordChatMessage(metrics.ResultRejected)
		return err
	}

	if !r.limiter.Allow(msg.UserID, msg.RoomID) {
		r.metrics.RecordChatMessage(metrics.ResultRateLimited)
		return nil
	}

	message := &types.Message{
		ID:        uuid.New().String(),
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Content:   msg.Content,
		CreatedAt: r.loop.Now(),
	}

	var err error
	r.loop.Await(func() {
		dctx, cancel := context.WithTimeout(ctx, r.directoryTimeout)
		defer cancel()
		err = r.directory.StoreMessage(dctx, message)
	}, func() {
		r.forward(message, err)
	})
	return nil
}

// forward broadcasts a message once it is persisted
func (r *Router) forward(message *types.Message, storeErr error) {
	if storeErr != nil {
		r.metrics.RecordChatMessage(metrics.ResultFailed)
		r.logger.Error("failed to persist message",
			zap.String("event", types.EventChatSend),
			zap.String("room_id", message.RoomID),
			zap.String("user_id", message.UserID),
			zap.Error(storeErr))
		return
	}

	if err := r.gateway.EmitToRoom(message.RoomID, types.NewChatReceive(message)); err != nil {
		r.metrics.RecordChatMessage(metrics.ResultFailed)
		r.logger.Warn("failed to forward message", zap.String("room_id", message.RoomID), zap.Error(err))
		return
	}
	r.metrics.RecordChatMessage(metrics.ResultForwarded)
}

// Replay sends the room's stored messages to one connection
func (r *Router) Replay(ctx context.Context, connectionID, roomID string) {
	var history []*types.Message
	var err error
	r.loop.Await(func() {
		dctx, cancel := context.WithTimeout(ctx, r.directoryTimeout)
		defer cancel()
		history, err = r.directory.RoomMessages(dctx, roomID)
	}, func() {
		if err != nil {
			r.logger.Error("failed to load history",
				zap.String("event", types.EventChatHistory),
				zap.String("room_id", roomID),
				zap.Error(err))
			return
		}
		if history == nil {
			history = []*types.Message{}
		}
		if err := r.gateway.EmitToConnection(connectionID, types.ChatHistory{RoomID: roomID, Messages: history}); err != nil {
			r.logger.Warn("failed to replay history",
				zap.String("connection_id", connectionID),
				zap.Error(fmt.Errorf("room %s: %w", roomID, err)))
		}
	})
}

// Limiter exposes the rate limiter for stats
func (r *Router) Limiter() *RateLimiter {
	return r.limiter
}
