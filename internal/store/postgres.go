package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool and
// makes sure the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS direct_messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			text TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_dm_pair ON direct_messages(sender, receiver, ts);

		CREATE TABLE IF NOT EXISTS rooms (
			id UUID PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			creator TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS room_members (
			room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
			PRIMARY KEY (room_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS room_messages (
			id TEXT PRIMARY KEY,
			room_id UUID NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			text TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_room_messages_room ON room_messages(room_id, ts);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) SaveDirectMessage(ctx context.Context, msg *DirectMessage) error {
	if err := prepareDirect(msg); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO direct_messages (id, sender, receiver, text, ts) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.Sender, msg.Receiver, msg.Text, msg.Timestamp,
	)
	return err
}

func (s *PostgresStore) DirectHistory(ctx context.Context, userA, userB string, limit int) ([]DirectMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender, receiver, text, ts FROM (
			SELECT id, sender, receiver, text, ts FROM direct_messages
			WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
			ORDER BY ts DESC, id DESC
			LIMIT $3
		) recent ORDER BY ts ASC, id ASC
	`, userA, userB, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DirectMessage
	for rows.Next() {
		var m DirectMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Text, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateRoom(ctx context.Context, name, creator string, members []string) (*Room, error) {
	room := &Room{
		ID:        uuid.NewString(),
		Name:      name,
		Creator:   creator,
		Members:   dedupe(members),
		CreatedAt: Now(),
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rooms (id, name, creator, created_at) VALUES ($1, $2, $3, $4)`,
			room.ID, room.Name, room.Creator, room.CreatedAt,
		); err != nil {
			return err
		}
		for _, m := range room.Members {
			if _, err := tx.Exec(ctx,
				`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, room.ID, m,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateRoom
		}
		return nil, err
	}
	return room, nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return nil, ErrRoomNotFound
	}

	room := &Room{ID: roomID}
	err = s.pool.QueryRow(ctx,
		`SELECT name, creator, created_at FROM rooms WHERE id = $1`, id,
	).Scan(&room.Name, &room.Creator, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	room.CreatedAt = room.CreatedAt.UTC()

	members, err := s.pool.Query(ctx,
		`SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY joined_at`, id)
	if err != nil {
		return nil, err
	}
	room.Members, err = pgx.CollectRows(members, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, sender, sender_name, text, ts FROM room_messages WHERE room_id = $1 ORDER BY ts ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m RoomMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.SenderName, &m.Text, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Timestamp = m.Timestamp.UTC()
		room.Messages = append(room.Messages, m)
	}
	return room, rows.Err()
}

func (s *PostgresStore) AddMember(ctx context.Context, roomID, userID string) error {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return ErrRoomNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id)
		SELECT id, $2 FROM rooms WHERE id = $1
		ON CONFLICT DO NOTHING
	`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the room is missing or the user was already a member.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrRoomNotFound
		}
	}
	return nil
}

// AppendRoomMessage inserts one log row guarded by the room's existence.
func (s *PostgresStore) AppendRoomMessage(ctx context.Context, roomID string, msg *RoomMessage) error {
	if err := prepareRoomMessage(msg); err != nil {
		return err
	}
	id, err := uuid.Parse(roomID)
	if err != nil {
		return ErrRoomNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO room_messages (id, room_id, sender, sender_name, text, ts)
		SELECT $1, id, $3, $4, $5, $6 FROM rooms WHERE id = $2
	`, msg.ID, id, msg.Sender, msg.SenderName, msg.Text, msg.Timestamp)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}
