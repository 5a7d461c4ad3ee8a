package realtime

import (
	"encoding/json"
	"fmt"
	"slices"

	"campus-chat-server/internal/metrics"
)

// Router fans a frame out to the registered connections a predicate selects.
type Router struct {
	registry *Registry
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Deliver 把訊框送到所有符合條件的連線
//
// Responsible for:
// - 只序列化一次，所有接收者共用同一份資料
// - 在 Registry 快照上篩選連線並放入各自的佇列
// - 略過已關閉或佇列已滿的連線，並記錄在 metrics
//
// Process flow:
// 1. 序列化訊框，失敗時返回錯誤且不送出任何資料
// 2. 取得 Registry 快照
// 3. 對每個 match 為 true 的連線呼叫 Send
// 4. 返回成功放入佇列的連線數
//
// Usage context:
// - 私訊送給接收者的所有連線並回送給發送連線
// - 聊天室訊息送給成員與建立者的所有連線
func (rt *Router) Deliver(match func(*Connection) bool, frame any) (int, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return 0, fmt.Errorf("marshal frame: %w", err)
	}

	sent := 0
	for _, c := range rt.registry.Snapshot() {
		if !match(c) {
			continue
		}
		if c.Send(data) {
			sent++
			metrics.Deliveries.WithLabelValues("sent").Inc()
		} else {
			metrics.Deliveries.WithLabelValues("skipped").Inc()
		}
	}
	return sent, nil
}

// ToUser matches every connection of userID.
func ToUser(userID string) func(*Connection) bool {
	return func(c *Connection) bool {
		return c.UserID() == userID
	}
}

// ToUsers matches every connection whose user is in userIDs.
func ToUsers(userIDs []string) func(*Connection) bool {
	return func(c *Connection) bool {
		return slices.Contains(userIDs, c.UserID())
	}
}
