package websocket

import (
	"sync"

	"go.uber.org/zap"

	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

// Registry tracks open connections and their room groups. It is the production Gateway.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // connectionID -> Connection
	rooms       map[string]map[string]*Connection // roomID -> connectionID -> Connection
	memberships map[string]map[string]struct{}    // connectionID -> roomIDs
	logger      *zap.Logger
}

var _ interfaces.Gateway = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		connections: make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		memberships: make(map[string]map[string]struct{}),
		logger:      logger.Named("registry"),
	}
}

// Register adds a connection
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	return nil
}

// Unregister removes the connection and its group memberships.
// Only the registered instance is removed, so a stale cleanup is a no-op.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if registered, exists := r.connections[id]; !exists || registered != conn {
		return
	}
	delete(r.connections, id)

	for roomID := range r.memberships[id] {
		if members, ok := r.rooms[roomID]; ok {
			delete(members, id)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
	delete(r.memberships, id)
}

// Get returns the open connection with the given id
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[connectionID]
	return conn, ok
}

// JoinGroup adds the connection to a room's broadcast group
func (r *Registry) JoinGroup(connectionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connectionID]
	if !ok {
		return interfaces.ErrConnectionNotFound
	}

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*Connection)
	}
	r.rooms[roomID][connectionID] = conn

	if r.memberships[connectionID] == nil {
		r.memberships[connectionID] = make(map[string]struct{})
	}
	r.memberships[connectionID][roomID] = struct{}{}
	return nil
}

// InGroup reports whether the connection is in the room's group
func (r *Registry) InGroup(connectionID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[roomID][connectionID]
	return ok
}

// EmitToConnection frames and sends an event to one connection
func (r *Registry) EmitToConnection(connectionID string, event types.Outbound) error {
	conn, ok := r.Get(connectionID)
	if !ok {
		return interfaces.ErrConnectionNotFound
	}

	frame, err := types.EncodeOutbound(event)
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

// EmitToRoom frames an event once and sends it to every member.
// A member whose buffer is full or closed misses the frame.
func (r *Registry) EmitToRoom(roomID string, event types.Outbound) error {
	frame, err := types.EncodeOutbound(event)
	if err != nil {
		return err
	}

	r.mu.RLock()
	members := make([]*Connection, 0, len(r.rooms[roomID]))
	for _, conn := range r.rooms[roomID] {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	for _, conn := range members {
		if err := conn.Send(frame); err != nil {
			r.logger.Debug("dropped room frame",
				zap.String("event", event.EventName()),
				zap.String("room_id", roomID),
				zap.String("connection_id", conn.ID()),
				zap.Error(err))
		}
	}
	return nil
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"active_rooms":      len(r.rooms),
	}
}

// CloseAll closes every registered connection. Their read pumps then unregister them.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}
