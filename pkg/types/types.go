package types

import (
	"time"
)

// User status values stored by the Directory
const (
	UserStatusActive = "active"
	UserStatusLeft   = "left"
)

// Attributes is the opaque payload a connection brings into the waiting pool.
// The pool never inspects it; it is handed to the Directory when a pair is formed.
type Attributes struct {
	Device string `json:"device"`
}

// WaitingEntry is a connection waiting for a peer.
// connectionID is unique within the pool at all times.
type WaitingEntry struct {
	ConnectionID string
	Attributes   Attributes
	EnqueuedAt   time.Time
}

// Pairing is the result of persisting a matched pair.
// A is always the longer-waiting side (the dequeued peer), B the side that triggered the match.
type Pairing struct {
	UserIDA string
	UserIDB string
	RoomID  string
}

// User is a persisted anonymous participant
type User struct {
	ID        string    `json:"id" db:"id"`
	Device    string    `json:"device" db:"device"`
	RoomID    string    `json:"room_id" db:"room_id"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Room is a persisted two-party chat room
type Room struct {
	ID        string    `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Message is a chat message persisted before it is forwarded to the room
type Message struct {
	ID        string    `json:"id" db:"id"`
	RoomID    string    `json:"roomId" db:"room_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
