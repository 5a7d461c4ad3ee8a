package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Error messages sent in {type:"error"} frames.
const (
	MsgNotAuthenticated = "Not authenticated"
	MsgInvalidFormat    = "Invalid message format"
	MsgNotRoomMember    = "Not a room member"
	MsgRoomNotFound     = "Room not found"
	MsgSenderMismatch   = "Sender mismatch"
	MsgServerError      = "Server error"
)

// Reasons sent in {type:"auth", error} frames.
const (
	AuthTokenRequired = "Token required"
	AuthInvalidToken  = "Invalid token"
	AuthTokenExpired  = "Token expired"
	AuthUnknownUser   = "User not found"
	AuthAmbiguous     = "Specify either roomId or receiverId"
	AuthFailed        = "Authentication failed"
)

const (
	frameTypeAuth  = "auth"
	frameTypeError = "error"
)

// Frame is one decoded inbound frame. The concrete type is one of
// AuthFrame, DirectMessageFrame, RoomMessageFrame or UnknownFrame.
type Frame interface {
	kind() string
}

// AuthFrame opens a session for room chat (RoomID) or direct chat
// (ReceiverID).
type AuthFrame struct {
	Token      string
	RoomID     string
	ReceiverID string
}

// DirectMessageFrame is a 1:1 message. SenderID is client-supplied and may
// be empty.
type DirectMessageFrame struct {
	SenderID   string
	ReceiverID string
	Text       string
	Timestamp  Timestamp
}

// RoomMessageFrame is a message for a room's members.
type RoomMessageFrame struct {
	RoomID    string
	SenderID  string
	Text      string
	Timestamp Timestamp
}

// UnknownFrame is well-formed JSON matching no known shape.
type UnknownFrame struct {
	Type string
}

func (AuthFrame) kind() string          { return "auth" }
func (DirectMessageFrame) kind() string { return "direct" }
func (RoomMessageFrame) kind() string   { return "room" }
func (UnknownFrame) kind() string       { return "unknown" }

// wireFrame is the union of every inbound field.
type wireFrame struct {
	Type       string     `json:"type"`
	Token      string     `json:"token"`
	RoomID     string     `json:"roomId"`
	ReceiverID string     `json:"receiverId"`
	SenderID   string     `json:"senderId"`
	SenderName string     `json:"senderName"`
	Text       string     `json:"text"`
	Timestamp  *Timestamp `json:"timestamp"`
}

// DecodeFrame parses one inbound frame. An error means the payload is not a
// JSON object of the expected field types.
func DecodeFrame(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("frame is not a JSON object")
	}

	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	var ts Timestamp
	if w.Timestamp != nil {
		ts = *w.Timestamp
	}
	hasText := strings.TrimSpace(w.Text) != ""

	switch {
	case w.Type == frameTypeAuth:
		return AuthFrame{Token: w.Token, RoomID: w.RoomID, ReceiverID: w.ReceiverID}, nil
	case w.ReceiverID != "" && hasText:
		return DirectMessageFrame{SenderID: w.SenderID, ReceiverID: w.ReceiverID, Text: w.Text, Timestamp: ts}, nil
	case w.RoomID != "" && hasText:
		return RoomMessageFrame{RoomID: w.RoomID, SenderID: w.SenderID, Text: w.Text, Timestamp: ts}, nil
	default:
		return UnknownFrame{Type: w.Type}, nil
	}
}

// isoMillis is the JavaScript Date.toISOString layout.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Timestamp 訊息時間的傳輸格式
//
// Responsible for:
// - 接受 RFC 3339 字串或 Unix 毫秒數字
// - 以收到時的格式寫回：數字寫回 Unix 毫秒，其餘寫成固定三位小數的 UTC ISO 字串
//
// Usage context:
// - 客戶端以 (timestamp, senderId) 比對自己的樂觀副本，回送必須與送出的值相同
type Timestamp struct {
	time.Time
	unixMilli bool
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.unixMilli {
		return strconv.AppendInt(nil, t.UnixMilli(), 10), nil
	}
	return json.Marshal(t.UTC().Format(isoMillis))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	t.unixMilli = true
	return nil
}

// Outbound frames.

// AuthResult answers an AuthFrame.
type AuthResult struct {
	Type       string `json:"type"`
	Success    bool   `json:"success,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	RoomID     string `json:"roomId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ErrorFrame reports a non-terminal failure.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DirectMessageOut is delivered to the receiver and echoed to the sender.
type DirectMessageOut struct {
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	Timestamp  Timestamp `json:"timestamp"`
}

// RoomMessageOut is broadcast to every live member connection.
type RoomMessageOut struct {
	RoomID     string    `json:"roomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	Timestamp  Timestamp `json:"timestamp"`
}

func newErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: frameTypeError, Message: message}
}
