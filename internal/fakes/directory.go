// Package fakes provides in-memory Directory and Gateway implementations for tests.
package fakes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

// Directory is an in-memory interfaces.Directory. Safe for use from Await work goroutines.
type Directory struct {
	mu       sync.Mutex
	seq      int
	users    map[string]*types.User
	rooms    map[string]*types.Room
	messages map[string][]*types.Message

	// Injected failures, returned by the matching call when non-nil
	CreateErr  error
	LeaveErr   error
	FindErr    error
	MemberErr  error
	StoreErr   error
	HistoryErr error
	HealthErr  error

	Calls []string
}

// NewDirectory returns an empty in-memory directory
func NewDirectory() *Directory {
	return &Directory{
		users:    make(map[string]*types.User),
		rooms:    make(map[string]*types.Room),
		messages: make(map[string][]*types.Message),
	}
}

func (d *Directory) record(call string) {
	d.Calls = append(d.Calls, call)
}

func (d *Directory) nextID(prefix string) string {
	d.seq++
	return fmt.Sprintf("%s-%d", prefix, d.seq)
}

// CreatePairedUsersAndRoom persists two users and their room
func (d *Directory) CreatePairedUsersAndRoom(ctx context.Context, a, b types.Attributes) (*types.Pairing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CreatePairedUsersAndRoom")

	if d.CreateErr != nil {
		return nil, d.CreateErr
	}

	now := time.Now()
	room := &types.Room{ID: d.nextID("room"), CreatedAt: now}
	userA := &types.User{ID: d.nextID("user"), Device: a.Device, RoomID: room.ID, Status: types.UserStatusActive, CreatedAt: now}
	userB := &types.User{ID: d.nextID("user"), Device: b.Device, RoomID: room.ID, Status: types.UserStatusActive, CreatedAt: now}

	d.rooms[room.ID] = room
	d.users[userA.ID] = userA
	d.users[userB.ID] = userB

	return &types.Pairing{UserIDA: userA.ID, UserIDB: userB.ID, RoomID: room.ID}, nil
}

// MarkUserLeft flags the user as left
func (d *Directory) MarkUserLeft(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("MarkUserLeft")

	if d.LeaveErr != nil {
		return "", d.LeaveErr
	}
	user, ok := d.users[userID]
	if !ok {
		return "", interfaces.ErrUserNotFound
	}
	user.Status = types.UserStatusLeft
	return user.RoomID, nil
}

// FindRoom reports whether the room exists
func (d *Directory) FindRoom(ctx context.Context, roomID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("FindRoom")

	if d.FindErr != nil {
		return false, d.FindErr
	}
	_, ok := d.rooms[roomID]
	return ok, nil
}

// AnyMemberLeft reports whether a member of the room has left
func (d *Directory) AnyMemberLeft(ctx context.Context, roomID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("AnyMemberLeft")

	if d.MemberErr != nil {
		return false, d.MemberErr
	}
	for _, u := range d.users {
		if u.RoomID == roomID && u.Status == types.UserStatusLeft {
			return true, nil
		}
	}
	return false, nil
}

// StoreMessage appends the message to its room
func (d *Directory) StoreMessage(ctx context.Context, message *types.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("StoreMessage")

	if d.StoreErr != nil {
		return d.StoreErr
	}
	if _, ok := d.rooms[message.RoomID]; !ok {
		return interfaces.ErrRoomNotFound
	}
	d.messages[message.RoomID] = append(d.messages[message.RoomID], message)
	return nil
}

// RoomMessages returns the room's messages oldest first
func (d *Directory) RoomMessages(ctx context.Context, roomID string) ([]*types.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("RoomMessages")

	if d.HistoryErr != nil {
		return nil, d.HistoryErr
	}
	out := append([]*types.Message(nil), d.messages[roomID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *Directory) HealthCheck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.HealthErr
}

func (d *Directory) Close() error { return nil }

// AddRoom seeds a room with the given member user ids
func (d *Directory) AddRoom(roomID string, userIDs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	d.rooms[roomID] = &types.Room{ID: roomID, CreatedAt: now}
	for _, id := range userIDs {
		d.users[id] = &types.User{ID: id, RoomID: roomID, Status: types.UserStatusActive, CreatedAt: now}
	}
}

// User returns a copy of the stored user
func (d *Directory) User(userID string) (types.User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[userID]
	if !ok {
		return types.User{}, false
	}
	return *u, true
}

// Messages returns the stored messages of a room
func (d *Directory) Messages(roomID string) []*types.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*types.Message(nil), d.messages[roomID]...)
}

// CallCount returns how often the named method was called
func (d *Directory) CallCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, c := range d.Calls {
		if c == name {
			n++
		}
	}
	return n
}
