package realtime

import (
	"sort"
	"sync"

	"campus-chat-server/internal/metrics"
)

// Registry 已驗證連線的登錄表
//
// Responsible for:
// - 以連線 ID 記錄已驗證的連線，同一使用者可以有多個連線
// - 提供快照讓 Router 在不持有鎖的情況下傳送
// - 統計在線使用者
//
// Usage context:
// - 由 main 建立後注入 Handler，REST 的在線使用者查詢也讀取它
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add registers c. Adding the same connection twice is a no-op.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	if _, ok := r.conns[c.ID()]; !ok {
		r.conns[c.ID()] = c
		metrics.ConnectionsRegistered.Inc()
	}
	r.mu.Unlock()
}

// Remove unregisters c. Removing an unknown connection is a no-op.
func (r *Registry) Remove(c *Connection) {
	r.mu.Lock()
	if _, ok := r.conns[c.ID()]; ok {
		delete(r.conns, c.ID())
		metrics.ConnectionsRegistered.Dec()
	}
	r.mu.Unlock()
}

// Snapshot returns the registered connections at the time of the call.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// OnlineUsers returns the sorted distinct user ids with at least one
// registered connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	seen := make(map[string]struct{}, len(r.conns))
	for _, c := range r.conns {
		seen[c.UserID()] = struct{}{}
	}
	r.mu.RUnlock()

	users := make([]string, 0, len(seen))
	for id := range seen {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}
