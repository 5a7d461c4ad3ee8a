package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"campus-chat-server/internal/identity"
	"campus-chat-server/internal/metrics"
	"campus-chat-server/internal/store"
)

const unknownSenderName = "Unknown"

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

// NameResolver resolves a user id to a display name.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Config tunes connection handling. Zero values select the defaults.
type Config struct {
	PingInterval  time.Duration // liveness probe period, default 30s
	AuthTimeout   time.Duration // 0 leaves unauthenticated connections open
	WriteWait     time.Duration // per-write deadline, default 10s
	ReadLimit     int64         // max inbound frame size, default 64KiB
	SendBuffer    int           // outbox capacity, default 256
	EnforceSender bool          // reject direct messages whose senderId is not the caller
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 * 1024
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// Handler 即時連線的協定處理器
//
// Responsible for:
// - 執行 auth 握手，成功後把連線登記到 Registry
// - 依訊框類型分派私訊與聊天室訊息
// - 追蹤所有開啟中的連線，伺服器關閉時統一關閉
//
// Usage context:
// - main 啟動時建立一個實例，/ws 端點每次升級後呼叫 Serve
// - 測試中以假的 Transport 呼叫 Open 與 HandleFrame
type Handler struct {
	cfg      Config
	store    store.Store
	verifier Verifier
	names    NameResolver
	registry *Registry
	router   *Router
	logger   zerolog.Logger

	mu   sync.Mutex
	open map[string]*Connection
}

func NewHandler(cfg Config, st store.Store, verifier Verifier, names NameResolver, registry *Registry, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:      cfg.withDefaults(),
		store:    st,
		verifier: verifier,
		names:    names,
		registry: registry,
		router:   NewRouter(registry),
		logger:   logger.With().Str("component", "realtime").Logger(),
		open:     make(map[string]*Connection),
	}
}

func (h *Handler) Registry() *Registry { return h.registry }

// Open starts the write side of a new connection: its write pump, liveness
// probe and optional auth deadline. The caller feeds inbound frames to
// HandleFrame and calls Close when the transport is done.
func (h *Handler) Open(t Transport) *Connection {
	c := newConnection(t, h.cfg.SendBuffer, h.cfg.WriteWait, h.logger)

	h.mu.Lock()
	h.open[c.ID()] = c
	h.mu.Unlock()
	metrics.ConnectionsOpen.Inc()

	c.OnClose(func(c *Connection) {
		h.registry.Remove(c)
		h.mu.Lock()
		delete(h.open, c.ID())
		h.mu.Unlock()
		metrics.ConnectionsOpen.Dec()
		c.logger.Debug().Msg("connection closed")
	})

	if h.cfg.AuthTimeout > 0 {
		timer := time.AfterFunc(h.cfg.AuthTimeout, func() {
			if c.State() == StateUnauthenticated {
				metrics.AuthAttempts.WithLabelValues("timeout").Inc()
				c.CloseWith(nil, websocket.ClosePolicyViolation, "Authentication timeout")
			}
		})
		c.OnClose(func(*Connection) { timer.Stop() })
	}

	go c.writePump(h.cfg.PingInterval)
	c.logger.Debug().Msg("connection opened")
	return c
}

// Serve owns ws until it closes. It blocks on the read loop.
func (h *Handler) Serve(ws *websocket.Conn) {
	c := h.Open(ws)
	defer c.Close()

	ws.SetReadLimit(h.cfg.ReadLimit)
	ws.SetPongHandler(func(string) error {
		c.MarkAlive()
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		h.HandleFrame(c, data)
	}
}

// Shutdown closes every open connection, authenticated or not, with code.
func (h *Handler) Shutdown(code int, reason string) {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.open))
	for _, c := range h.open {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.CloseWith(nil, code, reason)
	}
}

// HandleFrame 處理連線送來的一個訊框
//
// Responsible for:
// - 解碼訊框並依連線狀態決定處理方式
// - 把處理中的 panic 轉為 Server error 回應，不影響其他連線
//
// Process flow:
// 1. 解碼失敗時回應 Server error，狀態不變
// 2. 已關閉的連線直接忽略
// 3. 未驗證的連線只接受 auth 訊框，其他訊框回應 Not authenticated
// 4. 已驗證的連線依類型分派私訊或聊天室訊息
// 5. 重複的 auth 或無法辨識的格式回應 Invalid message format
//
// Usage context:
// - Serve 的讀取迴圈對每個訊框依序呼叫
func (h *Handler) HandleFrame(c *Connection, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("frame handler panicked")
			h.sendError(c, MsgServerError, "panic")
		}
	}()

	frame, err := DecodeFrame(data)
	if err != nil {
		metrics.FramesReceived.WithLabelValues("malformed").Inc()
		c.logger.Debug().Err(err).Msg("malformed frame")
		h.sendError(c, MsgServerError, "malformed")
		return
	}
	metrics.FramesReceived.WithLabelValues(frame.kind()).Inc()

	switch c.State() {
	case StateClosed:
		return
	case StateUnauthenticated:
		if f, ok := frame.(AuthFrame); ok {
			h.handleAuth(c, f)
			return
		}
		h.sendError(c, MsgNotAuthenticated, "not_authenticated")
		return
	}

	switch f := frame.(type) {
	case DirectMessageFrame:
		h.handleDirect(c, f)
	case RoomMessageFrame:
		h.handleRoom(c, f)
	case AuthFrame, UnknownFrame:
		h.sendError(c, MsgInvalidFormat, "invalid_format")
	}
}

func (h *Handler) handleAuth(c *Connection, f AuthFrame) {
	// A session targets exactly one room or one peer.
	switch {
	case f.RoomID != "" && f.ReceiverID != "":
		h.failAuth(c, AuthAmbiguous, "ambiguous")
		return
	case f.RoomID == "" && f.ReceiverID == "":
		h.failAuth(c, AuthAmbiguous, "no_target")
		return
	}

	id, err := h.verifier.Verify(c.Context(), f.Token)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrMissingToken):
			h.failAuth(c, AuthTokenRequired, "missing")
		case errors.Is(err, identity.ErrExpiredToken):
			h.failAuth(c, AuthTokenExpired, "expired")
		case errors.Is(err, identity.ErrInvalidToken):
			h.failAuth(c, AuthInvalidToken, "invalid")
		case errors.Is(err, identity.ErrUnknownUser):
			h.failAuth(c, AuthUnknownUser, "unknown_user")
		default:
			c.logger.Error().Err(err).Msg("token verification failed")
			h.failAuth(c, AuthFailed, "error")
		}
		return
	}

	if !c.authenticate(id.UserID, id.DisplayName, f.RoomID, f.ReceiverID) {
		return
	}
	h.registry.Add(c)
	// Close may have run its hooks between authenticate and Add.
	if c.State() == StateClosed {
		h.registry.Remove(c)
		return
	}

	metrics.AuthAttempts.WithLabelValues("ok").Inc()
	c.logger.Info().Str("room_id", f.RoomID).Str("peer_id", f.ReceiverID).Msg("authenticated")
	c.SendJSON(AuthResult{
		Type:       frameTypeAuth,
		Success:    true,
		ReceiverID: f.ReceiverID,
		RoomID:     f.RoomID,
	})
}

func (h *Handler) failAuth(c *Connection, reason, label string) {
	metrics.AuthAttempts.WithLabelValues(label).Inc()
	c.logger.Info().Str("reason", reason).Msg("authentication rejected")
	c.CloseWith(AuthResult{Type: frameTypeAuth, Error: reason}, websocket.ClosePolicyViolation, reason)
}

func (h *Handler) handleDirect(c *Connection, f DirectMessageFrame) {
	userID := c.UserID()
	senderID := f.SenderID
	if senderID == "" {
		senderID = userID
	}
	if h.cfg.EnforceSender && senderID != userID {
		h.sendError(c, MsgSenderMismatch, "sender_mismatch")
		return
	}

	ctx := c.Context()
	ts := normalizeTimestamp(f.Timestamp)
	msg := &store.DirectMessage{
		Sender:    senderID,
		Receiver:  f.ReceiverID,
		Text:      f.Text,
		Timestamp: ts.Time,
	}
	if err := h.store.SaveDirectMessage(ctx, msg); err != nil {
		c.logger.Error().Err(err).Str("receiver_id", f.ReceiverID).Msg("save direct message")
		h.sendError(c, MsgServerError, "store")
		return
	}
	metrics.MessagesStored.WithLabelValues("direct").Inc()

	out := DirectMessageOut{
		SenderID:   msg.Sender,
		SenderName: h.senderName(ctx, c, msg.Sender),
		ReceiverID: msg.Receiver,
		Text:       msg.Text,
		Timestamp:  ts,
	}
	toReceiver := ToUser(msg.Receiver)
	echo := userID == msg.Sender
	_, err := h.router.Deliver(func(conn *Connection) bool {
		return toReceiver(conn) || (echo && conn == c)
	}, out)
	if err != nil {
		c.logger.Error().Err(err).Msg("deliver direct message")
	}
}

func (h *Handler) handleRoom(c *Connection, f RoomMessageFrame) {
	ctx := c.Context()
	userID := c.UserID()

	room, err := h.store.GetRoom(ctx, f.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			h.sendError(c, MsgRoomNotFound, "room_not_found")
			return
		}
		c.logger.Error().Err(err).Str("room_id", f.RoomID).Msg("load room")
		h.sendError(c, MsgServerError, "store")
		return
	}
	if !room.IsAuthorized(userID) {
		h.sendError(c, MsgNotRoomMember, "not_member")
		return
	}

	ts := normalizeTimestamp(f.Timestamp)
	msg := &store.RoomMessage{
		Sender:     userID,
		SenderName: h.senderName(ctx, c, userID),
		Text:       f.Text,
		Timestamp:  ts.Time,
	}
	if err := h.store.AppendRoomMessage(ctx, room.ID, msg); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			h.sendError(c, MsgRoomNotFound, "room_not_found")
			return
		}
		c.logger.Error().Err(err).Str("room_id", room.ID).Msg("append room message")
		h.sendError(c, MsgServerError, "store")
		return
	}
	metrics.MessagesStored.WithLabelValues("room").Inc()

	out := RoomMessageOut{
		RoomID:     room.ID,
		SenderID:   msg.Sender,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		Timestamp:  ts,
	}
	if _, err := h.router.Deliver(ToUsers(room.BroadcastSet()), out); err != nil {
		c.logger.Error().Err(err).Msg("deliver room message")
	}
}

// senderName resolves userID, falling back to the name cached on c at
// handshake and then to "Unknown".
func (h *Handler) senderName(ctx context.Context, c *Connection, userID string) string {
	if h.names != nil {
		name, err := h.names.DisplayName(ctx, userID)
		if err == nil && name != "" {
			return name
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("sender_id", userID).Msg("resolve display name")
		}
	}
	if userID == c.UserID() {
		if name := c.DisplayName(); name != "" {
			return name
		}
	}
	return unknownSenderName
}

func (h *Handler) sendError(c *Connection, message, reason string) {
	metrics.FrameErrors.WithLabelValues(reason).Inc()
	c.SendJSON(newErrorFrame(message))
}

// normalizeTimestamp keeps a client-supplied time at the precision the store
// round-trips, so the echo matches history. The wire form is kept.
func normalizeTimestamp(t Timestamp) Timestamp {
	if t.IsZero() {
		return Timestamp{Time: store.Now()}
	}
	t.Time = t.UTC().Truncate(time.Millisecond)
	return t
}
