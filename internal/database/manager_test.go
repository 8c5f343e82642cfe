package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"pairchat/pkg/database"
	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

var _ interfaces.Directory = (*Manager)(nil)

// setupTestDB opens a migrated manager on a fresh file database
func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() {
		if err := manager.Close(); err != nil {
			t.Logf("Failed to close manager: %v", err)
		}
	})

	fsys, err := database.MigrationsFS("")
	if err != nil {
		t.Fatalf("Failed to load migrations: %v", err)
	}
	if err := database.NewMigrationManager(manager.GetDB(), fsys).ApplyMigrations(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return manager
}

func pairUsers(t *testing.T, manager *Manager) *types.Pairing {
	t.Helper()

	pairing, err := manager.CreatePairedUsersAndRoom(context.Background(),
		types.Attributes{Device: "mobile"}, types.Attributes{Device: "desktop"})
	if err != nil {
		t.Fatalf("CreatePairedUsersAndRoom failed: %v", err)
	}
	return pairing
}

func TestManager_InvalidConfig(t *testing.T) {
	config := database.DefaultConfig()
	config.DatabasePath = ""

	if _, err := NewManager(config, nil); err == nil {
		t.Error("NewManager should reject an invalid config")
	}
}

func TestManager_CreatePairedUsersAndRoom(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	pairing := pairUsers(t, manager)

	if pairing.UserIDA == "" || pairing.UserIDB == "" || pairing.RoomID == "" {
		t.Fatalf("Pairing has empty ids: %+v", pairing)
	}
	if pairing.UserIDA == pairing.UserIDB {
		t.Error("Both sides received the same user id")
	}

	found, err := manager.FindRoom(ctx, pairing.RoomID)
	if err != nil || !found {
		t.Errorf("Room should exist, found=%v err=%v", found, err)
	}

	userA, err := manager.User(ctx, pairing.UserIDA)
	if err != nil {
		t.Fatalf("User A lookup failed: %v", err)
	}
	if userA.Device != "mobile" || userA.RoomID != pairing.RoomID || userA.Status != types.UserStatusActive {
		t.Errorf("Unexpected user A: %+v", userA)
	}

	userB, err := manager.User(ctx, pairing.UserIDB)
	if err != nil {
		t.Fatalf("User B lookup failed: %v", err)
	}
	if userB.Device != "desktop" {
		t.Errorf("Expected device desktop for user B, got %s", userB.Device)
	}
}

func TestManager_MarkUserLeft(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	pairing := pairUsers(t, manager)

	left, err := manager.AnyMemberLeft(ctx, pairing.RoomID)
	if err != nil || left {
		t.Fatalf("Fresh room should have no left members, left=%v err=%v", left, err)
	}

	roomID, err := manager.MarkUserLeft(ctx, pairing.UserIDA)
	if err != nil {
		t.Fatalf("MarkUserLeft failed: %v", err)
	}
	if roomID != pairing.RoomID {
		t.Errorf("Expected room %s, got %s", pairing.RoomID, roomID)
	}

	left, err = manager.AnyMemberLeft(ctx, pairing.RoomID)
	if err != nil || !left {
		t.Errorf("Room should report a left member, left=%v err=%v", left, err)
	}

	user, _ := manager.User(ctx, pairing.UserIDA)
	if user.Status != types.UserStatusLeft {
		t.Errorf("Expected status left, got %s", user.Status)
	}
}

func TestManager_MarkUserLeftUnknownUser(t *testing.T) {
	manager := setupTestDB(t)

	_, err := manager.MarkUserLeft(context.Background(), "nobody")
	if !errors.Is(err, interfaces.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestManager_MarkUserLeftWithoutRoom(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if _, err := manager.GetDB().Exec(`INSERT INTO users (id, device) VALUES ('loner', 'mobile')`); err != nil {
		t.Fatalf("Failed to insert user: %v", err)
	}

	roomID, err := manager.MarkUserLeft(ctx, "loner")
	if err != nil {
		t.Fatalf("MarkUserLeft failed: %v", err)
	}
	if roomID != "" {
		t.Errorf("Expected empty room id, got %s", roomID)
	}
}

func TestManager_FindRoomMissing(t *testing.T) {
	manager := setupTestDB(t)

	found, err := manager.FindRoom(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindRoom should not error on a missing room: %v", err)
	}
	if found {
		t.Error("Missing room reported as found")
	}
}

func TestManager_RoomMessagesOrdering(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	pairing := pairUsers(t, manager)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	// inserted out of order; two share a timestamp and keep insert order
	inputs := []*types.Message{
		{ID: "m-3", RoomID: pairing.RoomID, UserID: pairing.UserIDA, Content: "third", CreatedAt: base.Add(2 * time.Second)},
		{ID: "m-1", RoomID: pairing.RoomID, UserID: pairing.UserIDB, Content: "first", CreatedAt: base},
		{ID: "m-2", RoomID: pairing.RoomID, UserID: pairing.UserIDA, Content: "second", CreatedAt: base},
	}
	for _, msg := range inputs {
		if err := manager.StoreMessage(ctx, msg); err != nil {
			t.Fatalf("StoreMessage %s failed: %v", msg.ID, err)
		}
	}

	history, err := manager.RoomMessages(ctx, pairing.RoomID)
	if err != nil {
		t.Fatalf("RoomMessages failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(history))
	}

	want := []string{"m-1", "m-2", "m-3"}
	for i, id := range want {
		if history[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, history[i].ID)
		}
	}
	if !history[0].CreatedAt.Equal(base) {
		t.Errorf("Timestamp not preserved: %v", history[0].CreatedAt)
	}
	if history[2].Content != "third" || history[2].UserID != pairing.UserIDA {
		t.Errorf("Unexpected message: %+v", history[2])
	}
}

func TestManager_RoomMessagesEmpty(t *testing.T) {
	manager := setupTestDB(t)

	history, err := manager.RoomMessages(context.Background(), "missing")
	if err != nil {
		t.Fatalf("RoomMessages failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Expected no messages, got %d", len(history))
	}
}

func TestManager_StoreMessageUnknownRoom(t *testing.T) {
	manager := setupTestDB(t)
	pairing := pairUsers(t, manager)

	err := manager.StoreMessage(context.Background(), &types.Message{
		ID:        "orphan",
		RoomID:    "missing",
		UserID:    pairing.UserIDA,
		Content:   "hello",
		CreatedAt: time.Now(),
	})
	if err == nil {
		t.Error("StoreMessage should fail on a foreign key violation")
	}
}

func TestManager_ConcurrentWrites(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	const numWrites = 20
	var wg sync.WaitGroup
	errs := make(chan error, numWrites)
	rooms := make(chan string, numWrites)

	wg.Add(numWrites)
	for i := 0; i < numWrites; i++ {
		go func() {
			defer wg.Done()
			pairing, err := manager.CreatePairedUsersAndRoom(ctx, types.Attributes{}, types.Attributes{})
			if err != nil {
				errs <- err
				return
			}
			rooms <- pairing.RoomID
		}()
	}
	wg.Wait()
	close(errs)
	close(rooms)

	for err := range errs {
		t.Errorf("Concurrent write failed: %v", err)
	}

	var count int
	if err := manager.GetDB().QueryRow(`SELECT COUNT(*) FROM rooms`).Scan(&count); err != nil {
		t.Fatalf("Failed to count rooms: %v", err)
	}
	if count != numWrites {
		t.Errorf("Expected %d rooms, got %d", numWrites, count)
	}
}

func TestManager_ConcurrentReads(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()
	pairing := pairUsers(t, manager)

	for i := 0; i < 5; i++ {
		if err := manager.StoreMessage(ctx, &types.Message{
			ID:        fmt.Sprintf("m-%d", i),
			RoomID:    pairing.RoomID,
			UserID:    pairing.UserIDA,
			Content:   "hi",
			CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("StoreMessage failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			history, err := manager.RoomMessages(ctx, pairing.RoomID)
			if err != nil {
				t.Errorf("Concurrent read failed: %v", err)
				return
			}
			if len(history) != 5 {
				t.Errorf("Expected 5 messages, got %d", len(history))
			}
		}()
	}
	wg.Wait()
}

func TestManager_CancelledContext(t *testing.T) {
	manager := setupTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := manager.CreatePairedUsersAndRoom(ctx, types.Attributes{}, types.Attributes{}); err == nil {
		t.Error("Write with a cancelled context should fail")
	}

	var count int
	_ = manager.GetDB().QueryRow(`SELECT COUNT(*) FROM rooms`).Scan(&count)
	if count != 0 {
		t.Errorf("Cancelled write should not commit, found %d rooms", count)
	}
}

func TestManager_HealthCheck(t *testing.T) {
	manager := setupTestDB(t)

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestManager_HealthCheckWithoutSchema(t *testing.T) {
	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "bare.db")

	manager, err := NewManager(config, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer func() { _ = manager.Close() }()

	if err := manager.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail without a schema")
	}
}

func TestManager_Close(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("Second Close should be a no-op: %v", err)
	}

	_, err := manager.CreatePairedUsersAndRoom(ctx, types.Attributes{}, types.Attributes{})
	if !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed after Close, got %v", err)
	}
}
