package main

import (
	"sort"
	"time"

	"campus-chat-server/internal/store"
)

const unknownSenderName = "Unknown"

// TranscriptEntry 代表歷史記錄中的一則訊息
//
// Responsible for:
// - 統一私訊與聊天室訊息的顯示格式
// - 標記訊息是否由目前使用者發送
//
// Usage context:
// - GET /api/messages/{peerId} 與 GET /api/rooms/{roomId}/messages 的回應
type TranscriptEntry struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"roomId,omitempty"`
	SenderID      string    `json:"senderId"`
	SenderName    string    `json:"senderName"`
	ReceiverID    string    `json:"receiverId,omitempty"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	IsCurrentUser bool      `json:"isCurrentUser"`
}

type transcriptKey struct {
	timestamp int64
	senderID  string
}

// dedupeTranscript 依時間排序並移除重複訊息
//
// Responsible for:
// - 以 (timestamp, senderId) 作為去重鍵，保留第一次出現的訊息
// - 以時間遞增排序，時間相同時保持原始順序
//
// Usage context:
// - 客戶端重送同一訊框時，儲存層可能有兩筆相同記錄，顯示時只保留一筆
func dedupeTranscript(entries []TranscriptEntry) []TranscriptEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	seen := make(map[transcriptKey]struct{}, len(entries))
	out := make([]TranscriptEntry, 0, len(entries))
	for _, e := range entries {
		key := transcriptKey{timestamp: e.Timestamp.UnixMilli(), senderID: e.SenderID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

// buildDirectTranscript 把私訊記錄轉為 transcript，nameOf 解析發送者顯示名稱
func buildDirectTranscript(msgs []store.DirectMessage, currentUser string, nameOf func(string) string) []TranscriptEntry {
	entries := make([]TranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, TranscriptEntry{
			ID:            m.ID,
			SenderID:      m.Sender,
			SenderName:    nameOf(m.Sender),
			ReceiverID:    m.Receiver,
			Text:          m.Text,
			Timestamp:     m.Timestamp,
			IsCurrentUser: m.Sender == currentUser,
		})
	}
	return dedupeTranscript(entries)
}

// buildRoomTranscript 把聊天室訊息記錄轉為 transcript，只保留最近 limit 則
func buildRoomTranscript(room *store.Room, currentUser string, limit int) []TranscriptEntry {
	entries := make([]TranscriptEntry, 0, len(room.Messages))
	for _, m := range room.Messages {
		name := m.SenderName
		if name == "" {
			name = unknownSenderName
		}
		entries = append(entries, TranscriptEntry{
			ID:            m.ID,
			RoomID:        room.ID,
			SenderID:      m.Sender,
			SenderName:    name,
			Text:          m.Text,
			Timestamp:     m.Timestamp,
			IsCurrentUser: m.Sender == currentUser,
		})
	}

	entries = dedupeTranscript(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}
