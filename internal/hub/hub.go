// Package hub runs the event loop that serializes every core state change.
//
// Read pumps, timers and Directory continuations never touch the waiting pool or the
// rate limiter directly; they post into the hub's channels and the single run goroutine
// applies them in turn.
package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pairchat/internal/loop"
	"pairchat/pkg/types"
)

// Matcher is the match lifecycle driven by the hub
type Matcher interface {
	Connect(connectionID string)
	Start(ctx context.Context, connectionID string, attrs types.Attributes) error
	Cancel(connectionID string)
	Leave(ctx context.Context, connectionID, userID string) error
	Reconnect(ctx context.Context, connectionID, roomID string)
	Disconnect(connectionID string)
}

// ChatHandler handles chat:send events
type ChatHandler interface {
	HandleSend(ctx context.Context, connectionID string, msg types.ChatSend) error
}

// Hub is the production loop.Loop
type Hub struct {
	// connect, inbound and disconnect share one channel so each connection's events stay in order
	eventChannel    chan event
	callbackChannel chan func() // timers, continuations and Call
	shutdownChannel chan struct{}
	done            chan struct{}

	matcher Matcher
	chat    ChatHandler
	logger  *zap.Logger

	running bool
	mu      sync.RWMutex
}

type eventKind int

const (
	eventInbound eventKind = iota
	eventConnect
	eventDisconnect
)

type event struct {
	kind         eventKind
	connectionID string
	roomID       string // connect only
	inbound      types.Inbound
}

var _ loop.Loop = (*Hub)(nil)

// NewHub creates a hub. Attach must be called before Start.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		eventChannel:    make(chan event, 1000),
		callbackChannel: make(chan func(), 1000),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		logger:          logger.Named("hub"),
	}
}

// Attach installs the handlers the loop dispatches to
func (h *Hub) Attach(matcher Matcher, chat ChatHandler) {
	h.matcher = matcher
	h.chat = chat
}

// Start begins hub processing on its own goroutine
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	if h.matcher == nil || h.chat == nil {
		return ErrHubNotAttached
	}
	h.running = true

	h.logger.Info("starting event loop")
	go h.run(ctx)
	return nil
}

// Stop shuts the loop down and waits for the run goroutine to exit
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	<-h.done
	return nil
}

// Running reports whether the loop is accepting events
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Dispatch decodes a client frame and queues it for the loop.
// Decoding errors are returned to the caller; the frame is dropped.
func (h *Hub) Dispatch(connectionID string, frame []byte) error {
	if connectionID == "" {
		return ErrEmptyConnectionID
	}
	if !h.Running() {
		return ErrHubNotRunning
	}

	in, err := types.DecodeInbound(frame)
	if err != nil {
		return err
	}

	select {
	case h.eventChannel <- event{kind: eventInbound, connectionID: connectionID, inbound: in}:
		return nil
	default:
		return ErrInboundChannelFull
	}
}

// Connected queues a newly opened connection. A non-empty roomID triggers the reconnect check.
func (h *Hub) Connected(connectionID, roomID string) error {
	return h.enqueue(event{kind: eventConnect, connectionID: connectionID, roomID: roomID})
}

// Disconnected queues the removal of a closed connection
func (h *Hub) Disconnected(connectionID string) error {
	return h.enqueue(event{kind: eventDisconnect, connectionID: connectionID})
}

// enqueue blocks until the loop accepts a lifecycle event; these are never dropped
func (h *Hub) enqueue(ev event) error {
	if ev.connectionID == "" {
		return ErrEmptyConnectionID
	}
	if !h.Running() {
		return ErrHubNotRunning
	}
	select {
	case h.eventChannel <- ev:
		return nil
	case <-h.shutdownChannel:
		return ErrHubNotRunning
	}
}

// Call runs fn on the loop and waits for it to finish
func (h *Hub) Call(ctx context.Context, fn func()) error {
	if !h.Running() {
		return ErrHubNotRunning
	}

	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case h.callbackChannel <- wrapped:
	case <-h.shutdownChannel:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now returns the wall clock
func (h *Hub) Now() time.Time {
	return time.Now()
}

// AfterFunc runs fn on the loop after d
func (h *Hub) AfterFunc(d time.Duration, fn func()) loop.Timer {
	return time.AfterFunc(d, func() {
		h.post(fn)
	})
}

// Await runs work on its own goroutine and posts resume back to the loop
func (h *Hub) Await(work func(), resume func()) {
	go func() {
		work()
		h.post(resume)
	}()
}

// post delivers fn to the loop. Callbacks are never dropped while the hub runs.
func (h *Hub) post(fn func()) {
	select {
	case h.callbackChannel <- fn:
	case <-h.shutdownChannel:
	}
}

// run is the main event loop
func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer h.logger.Info("event loop stopped")

	for {
		select {
		case ev := <-h.eventChannel:
			h.handleEvent(ctx, ev)

		case fn := <-h.callbackChannel:
			fn()

		case <-h.shutdownChannel:
			h.logger.Info("event loop shutdown requested")
			return

		case <-ctx.Done():
			h.logger.Info("event loop context cancelled")
			h.mu.Lock()
			if h.running {
				h.running = false
				close(h.shutdownChannel)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case eventConnect:
		h.matcher.Connect(ev.connectionID)
		if ev.roomID != "" {
			h.matcher.Reconnect(ctx, ev.connectionID, ev.roomID)
		}
	case eventDisconnect:
		h.matcher.Disconnect(ev.connectionID)
	case eventInbound:
		h.handleInbound(ctx, ev.connectionID, ev.inbound)
	}
}

// handleInbound routes a decoded client event. Handler errors are logged and the event dropped.
func (h *Hub) handleInbound(ctx context.Context, connectionID string, in types.Inbound) {
	var err error

	switch ev := in.(type) {
	case types.MatchStart:
		err = h.matcher.Start(ctx, connectionID, ev.Attributes())
	case types.MatchCancel:
		h.matcher.Cancel(connectionID)
	case types.MatchLeave:
		err = h.matcher.Leave(ctx, connectionID, ev.UserID)
	case types.ChatSend:
		err = h.chat.HandleSend(ctx, connectionID, ev)
	default:
		h.logger.Warn("unhandled inbound event", zap.String("event", in.EventName()))
		return
	}

	if err != nil {
		h.logger.Info("event rejected",
			zap.String("event", in.EventName()),
			zap.String("connection_id", connectionID),
			zap.Error(err))
	}
}
