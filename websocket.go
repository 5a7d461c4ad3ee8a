package main

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
)

// newUpgrader 建立 WebSocket 升級器，協商 "chat" 子協定
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{WebSocketSubprotocol},
		CheckOrigin:     originChecker(allowedOrigins),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.ContainsFunc(allowed, func(a string) bool {
			return strings.EqualFold(a, origin)
		})
	}
}

// handleWebSocket 處理 WebSocket 連接請求
//
// Responsible for:
// - 升級 HTTP 連接為 WebSocket
// - 將連線交給即時處理器，由它執行 auth 握手與訊框分派
//
// Process flow:
// 1. 升級 HTTP 連接（失敗時升級器已回應錯誤）
// 2. 呼叫 realtime.Handler.Serve，阻塞直到連線關閉
//
// Usage context:
// - 路由器將 /ws 端點對應到此處理器
// - 客戶端每次重新連線都必須重新送出 auth 訊框
func (a *App) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	a.realtime.Serve(conn)
}
