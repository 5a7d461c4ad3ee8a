package store

import (
	"slices"
	"time"
)

// DirectMessage is a 1:1 message between two users. Stored messages are
// never edited.
type DirectMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomMessage is one entry of a room's embedded message log.
type RoomMessage struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// Room holds membership and the message log of a chat room.
type Room struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Creator   string        `json:"creator"`
	Members   []string      `json:"members"`
	Messages  []RoomMessage `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
}

// IsAuthorized reports whether userID may post to and read from the room.
// The creator is authorized even when absent from Members.
func (r *Room) IsAuthorized(userID string) bool {
	if userID == "" {
		return false
	}
	return r.Creator == userID || slices.Contains(r.Members, userID)
}

// BroadcastSet returns members ∪ {creator} without duplicates.
func (r *Room) BroadcastSet() []string {
	set := make([]string, 0, len(r.Members)+1)
	seen := make(map[string]struct{}, len(r.Members)+1)
	for _, id := range append([]string{r.Creator}, r.Members...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		set = append(set, id)
	}
	return set
}

// Now returns the server-assigned timestamp used for stored messages.
// Millisecond precision keeps values stable across SQL round trips.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
