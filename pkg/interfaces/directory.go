package interfaces

import (
	"context"

	"pairchat/pkg/types"
)

// Directory owns durable user, room and message records.
// The core treats every call as atomic and never retries or compensates;
// whatever the Directory committed before failing stays committed.
type Directory interface {
	// CreatePairedUsersAndRoom persists one user per side and a room joining them
	CreatePairedUsersAndRoom(ctx context.Context, a, b types.Attributes) (*types.Pairing, error)

	// MarkUserLeft flags the user as left and returns the user's room id.
	// An empty room id means the user was never placed in a room.
	MarkUserLeft(ctx context.Context, userID string) (string, error)

	// FindRoom reports whether the room exists
	FindRoom(ctx context.Context, roomID string) (bool, error)

	// AnyMemberLeft reports whether any user of the room has status "left"
	AnyMemberLeft(ctx context.Context, roomID string) (bool, error)

	// StoreMessage persists a chat message before it is forwarded
	StoreMessage(ctx context.Context, message *types.Message) error

	// RoomMessages returns the room's messages in chronological order
	RoomMessages(ctx context.Context, roomID string) ([]*types.Message, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
