package main

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes 設置所有的 HTTP 路由
//
// Responsible for:
// - 配置 REST API 端點的路由映射
// - 設置 WebSocket 端點 /ws
// - 掛載請求記錄、指標與 CORS 中介層
//
// Process flow:
// 1. 建立 mux 路由器並掛載指標與記錄中介層
// 2. 註冊公開端點（health、metrics、ws、register、login）
// 3. 在需要 Bearer 權杖的子路由器上註冊其餘 API
// 4. 以 CORS 處理器包裝整個路由器
//
// Returns:
//
//	http.Handler: 配置完成的處理器
func setupRoutes(app *App) http.Handler {
	r := mux.NewRouter()
	r.Use(metricsMiddleware, requestLogger(app.logger))

	r.HandleFunc("/health", app.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// WebSocket 路由，身份驗證在連線建立後以 auth 訊框完成
	r.HandleFunc("/ws", app.handleWebSocket)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", app.register).Methods(http.MethodPost)
	api.HandleFunc("/login", app.login).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(app.requireAuth)
	authed.HandleFunc("/messages/{peerId}", app.getDirectHistory).Methods(http.MethodGet)
	authed.HandleFunc("/rooms", app.createRoom).Methods(http.MethodPost)
	authed.HandleFunc("/rooms/{roomId}/messages", app.getRoomHistory).Methods(http.MethodGet)
	authed.HandleFunc("/rooms/{roomId}/members", app.addRoomMember).Methods(http.MethodPost)
	authed.HandleFunc("/users/online", app.getOnlineUsers).Methods(http.MethodGet)

	return cors.Handler(cors.Options{
		AllowedOrigins: app.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})(r)
}
