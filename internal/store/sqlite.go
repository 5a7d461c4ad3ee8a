package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS direct_messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			text TEXT NOT NULL,
			ts INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			creator TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			PRIMARY KEY (room_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS room_messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			text TEXT NOT NULL,
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dm_pair ON direct_messages(sender, receiver, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_room_messages_room ON room_messages(room_id, ts)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) SaveDirectMessage(ctx context.Context, msg *DirectMessage) error {
	if err := prepareDirect(msg); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO direct_messages (id, sender, receiver, text, ts) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Receiver, msg.Text, msg.Timestamp.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) DirectHistory(ctx context.Context, userA, userB string, limit int) ([]DirectMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, receiver, text, ts FROM (
			SELECT id, sender, receiver, text, ts FROM direct_messages
			WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
			ORDER BY ts DESC, id DESC
			LIMIT ?
		) ORDER BY ts ASC, id ASC
	`, userA, userB, userB, userA, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DirectMessage
	for rows.Next() {
		var m DirectMessage
		var ts int64
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Text, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateRoom(ctx context.Context, name, creator string, members []string) (*Room, error) {
	room := &Room{
		ID:        uuid.NewString(),
		Name:      name,
		Creator:   creator,
		Members:   dedupe(members),
		CreatedAt: Now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rooms (id, name, creator, created_at) VALUES (?, ?, ?, ?)`,
		room.ID, room.Name, room.Creator, room.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateRoom
		}
		return nil, err
	}
	for _, m := range room.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO room_members (room_id, user_id) VALUES (?, ?)`, room.ID, m,
		); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *SQLiteStore) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	room := &Room{ID: roomID}
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, creator, created_at FROM rooms WHERE id = ?`, roomID,
	).Scan(&room.Name, &room.Creator, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	room.CreatedAt = time.UnixMilli(createdAt).UTC()

	members, err := s.db.QueryContext(ctx, `SELECT user_id FROM room_members WHERE room_id = ? ORDER BY rowid`, roomID)
	if err != nil {
		return nil, err
	}
	defer members.Close()
	for members.Next() {
		var id string
		if err := members.Scan(&id); err != nil {
			return nil, err
		}
		room.Members = append(room.Members, id)
	}
	if err := members.Err(); err != nil {
		return nil, err
	}

	msgs, err := s.db.QueryContext(ctx,
		`SELECT id, sender, sender_name, text, ts FROM room_messages WHERE room_id = ? ORDER BY ts ASC, id ASC`, roomID)
	if err != nil {
		return nil, err
	}
	defer msgs.Close()
	for msgs.Next() {
		var m RoomMessage
		var ts int64
		if err := msgs.Scan(&m.ID, &m.Sender, &m.SenderName, &m.Text, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		room.Messages = append(room.Messages, m)
	}
	return room, msgs.Err()
}

func (s *SQLiteStore) AddMember(ctx context.Context, roomID, userID string) error {
	if err := s.roomExists(ctx, roomID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_members (room_id, user_id) VALUES (?, ?)`, roomID, userID)
	return err
}

// AppendRoomMessage inserts one log row; concurrent appends cannot overwrite
// each other.
func (s *SQLiteStore) AppendRoomMessage(ctx context.Context, roomID string, msg *RoomMessage) error {
	if err := prepareRoomMessage(msg); err != nil {
		return err
	}
	if err := s.roomExists(ctx, roomID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_messages (id, room_id, sender, sender_name, text, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, roomID, msg.Sender, msg.SenderName, msg.Text, msg.Timestamp.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) roomExists(ctx context.Context, roomID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE id = ?`, roomID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRoomNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
