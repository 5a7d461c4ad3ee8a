package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"campus-chat-server/internal/metrics"
)

// State is the protocol state of a connection.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// Transport is the write side of a websocket. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type outbound struct {
	data        []byte
	closeCode   int
	closeReason string
}

// Connection is one live socket and the session bound to it. Only the
// handler that opened it mutates its session fields.
type Connection struct {
	id        string
	transport Transport
	send      chan outbound
	writeWait time.Duration
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.RWMutex
	state        State
	closing      bool
	userID       string
	displayName  string
	activeRoomID string
	activePeerID string
	onClose      []func(*Connection)

	closeOnce sync.Once
	alive     atomic.Bool
}

func newConnection(t Transport, sendBuffer int, writeWait time.Duration, logger zerolog.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &Connection{
		id:        id,
		transport: t,
		send:      make(chan outbound, sendBuffer),
		writeWait: writeWait,
		logger:    logger.With().Str("conn_id", id).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// ID returns the opaque connection handle.
func (c *Connection) ID() string { return c.id }

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context { return c.ctx }

func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UserID is empty until the connection authenticates.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.displayName
}

func (c *Connection) ActiveRoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeRoomID
}

func (c *Connection) ActivePeerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activePeerID
}

// authenticate moves an unauthenticated connection to the authenticated
// state. It fails if the connection already left the unauthenticated state.
func (c *Connection) authenticate(userID, displayName, roomID, peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnauthenticated || c.closing {
		return false
	}
	c.state = StateAuthenticated
	c.userID = userID
	c.displayName = displayName
	c.activeRoomID = roomID
	c.activePeerID = peerID
	return true
}

// OnClose registers fn to run once the connection closes. fn runs
// immediately if the connection is already closed.
func (c *Connection) OnClose(fn func(*Connection)) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.onClose = append(c.onClose, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(c)
}

// Send queues data without blocking. It returns false when the connection
// is closed or closing, or its outbox is full.
func (c *Connection) Send(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateClosed || c.closing {
		return false
	}
	select {
	case c.send <- outbound{data: data}:
		return true
	default:
		return false
	}
}

// SendJSON marshals v and queues it.
func (c *Connection) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("marshal outbound frame")
		return false
	}
	return c.Send(data)
}

// CloseWith queues a final frame (may be nil) followed by a close control
// frame, then tears the connection down. Later sends are refused.
func (c *Connection) CloseWith(v any, code int, reason string) {
	var data []byte
	if v != nil {
		var err error
		if data, err = json.Marshal(v); err != nil {
			c.logger.Error().Err(err).Msg("marshal final frame")
		}
	}

	c.mu.Lock()
	if c.state == StateClosed || c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	select {
	case c.send <- outbound{data: data, closeCode: code, closeReason: reason}:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.Close()
	}
}

// Close tears the connection down immediately. It is safe to call more than
// once and from any goroutine.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		hooks := c.onClose
		c.onClose = nil
		c.mu.Unlock()

		c.cancel()
		close(c.done)
		for _, fn := range hooks {
			fn(c)
		}
		_ = c.transport.Close()
	})
}

// MarkAlive records a pong.
func (c *Connection) MarkAlive() {
	c.alive.Store(true)
}

// writePump 連線唯一的寫入 goroutine
//
// Responsible for:
// - 依序寫出 send 佇列中的訊框
// - 寫出最後的關閉訊框後結束連線
// - 定期發送 ping 並淘汰沒有回應的對端
//
// Process flow:
// 1. 佇列訊框：設定寫入期限後寫出，失敗時關閉連線
// 2. 帶關閉碼的項目：寫出資料後送出 close 控制訊框並關閉
// 3. 計時器觸發：上一次 ping 仍未收到 pong 時關閉連線，否則送出新的 ping
//
// Usage context:
// - Handler.Open 為每個連線啟動一次，連線關閉時結束
func (c *Connection) writePump(pingInterval time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			_ = c.transport.SetWriteDeadline(time.Now().Add(c.writeWait))
			if msg.data != nil {
				if err := c.transport.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					c.logger.Debug().Err(err).Msg("write failed")
					c.Close()
					return
				}
			}
			if msg.closeCode != 0 {
				payload := websocket.FormatCloseMessage(msg.closeCode, msg.closeReason)
				_ = c.transport.WriteControl(websocket.CloseMessage, payload, time.Now().Add(c.writeWait))
				c.Close()
				return
			}

		case <-tick:
			// A ping still unanswered from the previous tick means the peer is gone.
			if !c.alive.Swap(false) {
				metrics.LivenessEvictions.Inc()
				c.logger.Info().Msg("liveness probe unanswered, terminating")
				c.Close()
				return
			}
			if err := c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				c.Close()
				return
			}
		}
	}
}
