package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "pairchat/pkg/database"
	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

// Manager is the SQLite-backed Directory.
// Reads go straight to the pool; writes are funnelled through one goroutine
// so SQLite never sees two writers at once.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.Named("database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			if err := op.ctx.Err(); err != nil {
				op.result <- err
				continue
			}
			err := op.operation(op.ctx, m.db)
			if err != nil {
				m.logger.Debug("write failed", zap.Error(err))
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write and waits for it. Failed writes are not retried.
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrWriteTimeout, ctx.Err())
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// CreatePairedUsersAndRoom persists a room and one active user per side in one transaction
func (m *Manager) CreatePairedUsersAndRoom(ctx context.Context, a, b types.Attributes) (*types.Pairing, error) {
	pairing := &types.Pairing{
		UserIDA: uuid.New().String(),
		UserIDB: uuid.New().String(),
		RoomID:  uuid.New().String(),
	}
	now := time.Now().UTC()

	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (id, created_at) VALUES (?, ?)`,
			pairing.RoomID, now,
		); err != nil {
			return fmt.Errorf("failed to insert room: %w", err)
		}

		insertUser := `INSERT INTO users (id, device, room_id, status, created_at) VALUES (?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, insertUser,
			pairing.UserIDA, a.Device, pairing.RoomID, types.UserStatusActive, now,
		); err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertUser,
			pairing.UserIDB, b.Device, pairing.RoomID, types.UserStatusActive, now,
		); err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit pairing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pairing, nil
}

// MarkUserLeft flags the user as left and returns the room the user was in
func (m *Manager) MarkUserLeft(ctx context.Context, userID string) (string, error) {
	var roomID sql.NullString

	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		err := db.QueryRowContext(ctx,
			`UPDATE users SET status = ? WHERE id = ? RETURNING room_id`,
			types.UserStatusLeft, userID,
		).Scan(&roomID)
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to mark user left: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return roomID.String, nil
}

// FindRoom reports whether a room exists
func (m *Manager) FindRoom(ctx context.Context, roomID string) (bool, error) {
	var id string
	err := m.db.QueryRowContext(ctx, `SELECT id FROM rooms WHERE id = ?`, roomID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query room: %w", err)
	}
	return true, nil
}

// AnyMemberLeft reports whether any user of the room has left
func (m *Manager) AnyMemberLeft(ctx context.Context, roomID string) (bool, error) {
	var left bool
	err := m.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE room_id = ? AND status = ?)`,
		roomID, types.UserStatusLeft,
	).Scan(&left)
	if err != nil {
		return false, fmt.Errorf("failed to query room members: %w", err)
	}
	return left, nil
}

// StoreMessage persists a chat message
func (m *Manager) StoreMessage(ctx context.Context, message *types.Message) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO messages (id, room_id, user_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			message.ID,
			message.RoomID,
			message.UserID,
			message.Content,
			message.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// RoomMessages returns a room's messages oldest first
func (m *Manager) RoomMessages(ctx context.Context, roomID string) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_id, user_id, content, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query room messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var message types.Message
		if err := rows.Scan(
			&message.ID,
			&message.RoomID,
			&message.UserID,
			&message.Content,
			&message.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// User loads one persisted user
func (m *Manager) User(ctx context.Context, userID string) (*types.User, error) {
	var user types.User
	var roomID sql.NullString
	err := m.db.QueryRowContext(ctx,
		`SELECT id, device, room_id, status, created_at FROM users WHERE id = ?`, userID,
	).Scan(&user.ID, &user.Device, &roomID, &user.Status, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.RoomID = roomID.String
	return &user, nil
}

// HealthCheck validates connectivity and that the schema is readable
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying connection pool for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Calling it twice is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
