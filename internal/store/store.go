// Package store persists direct messages and chat rooms.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrRoomNotFound is returned when a room lookup misses.
	ErrRoomNotFound = errors.New("room not found")
	// ErrDuplicateRoom is returned when a room name is already taken.
	ErrDuplicateRoom = errors.New("room name already exists")
	// ErrEmptyText is returned when a message without text is saved.
	ErrEmptyText = errors.New("message text is empty")
)

// Store 訊息與聊天室的儲存介面
//
// Responsible for:
// - 保存私訊並依對話查詢歷史記錄
// - 建立聊天室、管理成員並附加聊天室訊息
//
// Usage context:
// - 由 Open 依 STORE_DRIVER 選擇 memory、sqlite 或 postgres 實作
// - 同一聊天室的 AppendRoomMessage 可能被多個連線同時呼叫，實作必須保證不遺失訊息
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// Direct messages
	SaveDirectMessage(ctx context.Context, msg *DirectMessage) error
	DirectHistory(ctx context.Context, userA, userB string, limit int) ([]DirectMessage, error)

	// Rooms
	CreateRoom(ctx context.Context, name, creator string, members []string) (*Room, error)
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	AddMember(ctx context.Context, roomID, userID string) error
	AppendRoomMessage(ctx context.Context, roomID string, msg *RoomMessage) error
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open builds the store selected by driver. dsn is the SQLite path or the
// PostgreSQL URL and is ignored for the memory driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(ctx, dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("postgres driver requires DATABASE_URL")
		}
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// prepareDirect validates msg and fills the server-assigned fields.
func prepareDirect(msg *DirectMessage) error {
	if strings.TrimSpace(msg.Text) == "" {
		return ErrEmptyText
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}
	return nil
}

func prepareRoomMessage(msg *RoomMessage) error {
	if strings.TrimSpace(msg.Text) == "" {
		return ErrEmptyText
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
