package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123_000_000, time.UTC)

	tests := []struct {
		name string
		in   string
		want Frame
	}{
		{
			name: "auth for direct chat",
			in:   `{"type":"auth","token":"abc","receiverId":"B"}`,
			want: AuthFrame{Token: "abc", ReceiverID: "B"},
		},
		{
			name: "auth for room chat",
			in:   `{"type":"auth","token":"abc","roomId":"r1"}`,
			want: AuthFrame{Token: "abc", RoomID: "r1"},
		},
		{
			name: "direct message with string timestamp",
			in:   `{"senderId":"A","receiverId":"B","text":"hi","timestamp":"2024-05-01T12:00:00.123Z"}`,
			want: DirectMessageFrame{SenderID: "A", ReceiverID: "B", Text: "hi", Timestamp: Timestamp{Time: ts}},
		},
		{
			name: "direct message with millisecond timestamp",
			in:   `{"receiverId":"B","text":"hi","timestamp":1714564800123}`,
			want: DirectMessageFrame{ReceiverID: "B", Text: "hi", Timestamp: Timestamp{Time: ts, unixMilli: true}},
		},
		{
			name: "room message",
			in:   `{"roomId":"r1","text":"hello"}`,
			want: RoomMessageFrame{RoomID: "r1", Text: "hello"},
		},
		{
			name: "receiver wins over room",
			in:   `{"roomId":"r1","receiverId":"B","text":"hi"}`,
			want: DirectMessageFrame{ReceiverID: "B", Text: "hi"},
		},
		{
			name: "type field is ignored for message shapes",
			in:   `{"type":"message","receiverId":"B","text":"hi"}`,
			want: DirectMessageFrame{ReceiverID: "B", Text: "hi"},
		},
		{
			name: "blank text",
			in:   `{"receiverId":"B","text":"   "}`,
			want: UnknownFrame{},
		},
		{
			name: "no text",
			in:   `{"roomId":"r1"}`,
			want: UnknownFrame{},
		},
		{
			name: "unknown type",
			in:   `{"type":"typing"}`,
			want: UnknownFrame{Type: "typing"},
		},
		{
			name: "empty object",
			in:   `{}`,
			want: UnknownFrame{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	for _, in := range []string{
		``,
		`not json`,
		`[1,2]`,
		`"auth"`,
		`{"type":"auth"`,
		`{"receiverId":42,"text":"hi"}`,
		`{"receiverId":"B","text":"hi","timestamp":"yesterday"}`,
	} {
		_, err := DecodeFrame([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestTimestamp_WireForm(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"2024-05-01T12:00:00.000Z"`, `"2024-05-01T12:00:00.000Z"`},
		{`"2024-05-01T12:00:00Z"`, `"2024-05-01T12:00:00.000Z"`},
		{`"2024-05-01T12:00:00.123Z"`, `"2024-05-01T12:00:00.123Z"`},
		{`"2024-05-01T14:00:00.123+02:00"`, `"2024-05-01T12:00:00.123Z"`},
		{`1714564800000`, `1714564800000`},
		{`1714564800123`, `1714564800123`},
	}
	for _, tt := range tests {
		var ts Timestamp
		require.NoError(t, json.Unmarshal([]byte(tt.in), &ts), "input %s", tt.in)
		out, err := json.Marshal(ts)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(out), "input %s", tt.in)
	}

	out, err := json.Marshal(Timestamp{Time: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, `"2024-05-01T12:00:00.000Z"`, string(out))
}
