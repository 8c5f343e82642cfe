package interfaces

import "pairchat/pkg/types"

// Gateway delivers notifications to a single connection or to a broadcast group (room).
// Delivery is at-most-once: a full or closed connection drops the notification.
type Gateway interface {
	// JoinGroup adds the connection to the room's broadcast group
	JoinGroup(connectionID, roomID string) error

	// InGroup reports whether the connection belongs to the room's broadcast group
	InGroup(connectionID, roomID string) bool

	// EmitToConnection sends the notification to one connection
	EmitToConnection(connectionID string, event types.Outbound) error

	// EmitToRoom sends the notification to every connection in the room
	EmitToRoom(roomID string, event types.Outbound) error
}
