package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps messages and rooms in process memory. It backs local
// development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	direct []DirectMessage
	rooms  map[string]*Room
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*Room)}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// SaveDirectMessage appends msg to the direct message log.
func (s *MemoryStore) SaveDirectMessage(ctx context.Context, msg *DirectMessage) error {
	if err := prepareDirect(msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direct = append(s.direct, *msg)
	return nil
}

// DirectHistory returns the latest messages exchanged between two users in
// ascending timestamp order.
func (s *MemoryStore) DirectHistory(ctx context.Context, userA, userB string, limit int) ([]DirectMessage, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	var out []DirectMessage
	for _, m := range s.direct {
		if (m.Sender == userA && m.Receiver == userB) || (m.Sender == userB && m.Receiver == userA) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// CreateRoom registers a new room. Names are unique.
func (s *MemoryStore) CreateRoom(ctx context.Context, name, creator string, members []string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rooms {
		if r.Name == name {
			return nil, ErrDuplicateRoom
		}
	}
	room := &Room{
		ID:        uuid.NewString(),
		Name:      name,
		Creator:   creator,
		Members:   dedupe(members),
		CreatedAt: Now(),
	}
	s.rooms[room.ID] = room
	return cloneRoom(room), nil
}

// GetRoom returns a copy of the room so callers never share the log slice.
func (s *MemoryStore) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (s *MemoryStore) AddMember(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if !slices.Contains(room.Members, userID) {
		room.Members = append(room.Members, userID)
	}
	return nil
}

// AppendRoomMessage appends msg to the room log under the store lock.
func (s *MemoryStore) AppendRoomMessage(ctx context.Context, roomID string, msg *RoomMessage) error {
	if err := prepareRoomMessage(msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	room.Messages = append(room.Messages, *msg)
	return nil
}

func cloneRoom(r *Room) *Room {
	c := *r
	c.Members = slices.Clone(r.Members)
	c.Messages = slices.Clone(r.Messages)
	return &c
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
