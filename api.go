package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"campus-chat-server/internal/store"
	"campus-chat-server/internal/users"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// historyLimit 解析 ?limit=，無效時使用預設值，並限制在 MaxHistoryLimit 以內
func historyLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return DefaultHistoryLimit
	}
	return min(limit, MaxHistoryLimit)
}

// health 回報訊息儲存是否可用
func (a *App) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Connections: a.registry.Count()}
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Warn().Err(err).Msg("health check failed")
		resp.Status = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// getDirectHistory 處理獲取私訊歷史的 API 請求
//
// Responsible for:
// - 處理 GET /api/messages/{peerId}
// - 返回目前使用者與對方之間的私訊記錄
// - 補上發送者顯示名稱與 isCurrentUser 標記
//
// Process flow:
// 1. 從 context 取得目前使用者
// 2. 讀取兩人之間最近 limit 則私訊
// 3. 解析每個發送者的顯示名稱（同一請求內快取）
// 4. 依 (timestamp, senderId) 去重並排序後返回
//
// Usage context:
// - 客戶端重新連線後補回離線期間的訊息
func (a *App) getDirectHistory(w http.ResponseWriter, r *http.Request) {
	me := currentIdentity(r)
	peerID := mux.Vars(r)["peerId"]

	msgs, err := a.store.DirectHistory(r.Context(), me.UserID, peerID, historyLimit(r))
	if err != nil {
		a.logger.Error().Err(err).Str("peer_id", peerID).Msg("load direct history")
		writeError(w, http.StatusInternalServerError, ErrorInternal)
		return
	}

	writeJSON(w, http.StatusOK, buildDirectTranscript(msgs, me.UserID, a.nameLookup(r.Context())))
}

// getRoomHistory 處理獲取聊天室歷史的 API 請求
//
// Responsible for:
// - 處理 GET /api/rooms/{roomId}/messages
// - 只允許成員或建立者讀取
// - 返回去重排序後的最近訊息
func (a *App) getRoomHistory(w http.ResponseWriter, r *http.Request) {
	me := currentIdentity(r)
	room, ok := a.loadRoom(w, r)
	if !ok {
		return
	}
	if !room.IsAuthorized(me.UserID) {
		writeError(w, http.StatusForbidden, ErrorNotRoomMember)
		return
	}

	writeJSON(w, http.StatusOK, buildRoomTranscript(room, me.UserID, historyLimit(r)))
}

// createRoom 處理建立聊天室的 API 請求，目前使用者成為建立者
func (a *App) createRoom(w http.ResponseWriter, r *http.Request) {
	me := currentIdentity(r)

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorInvalidJSON)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, ErrorRoomNameRequired)
		return
	}

	room, err := a.store.CreateRoom(r.Context(), name, me.UserID, append([]string{me.UserID}, req.Members...))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateRoom) {
			writeError(w, http.StatusConflict, ErrorRoomNameTaken)
			return
		}
		a.logger.Error().Err(err).Str("name", name).Msg("create room")
		writeError(w, http.StatusInternalServerError, ErrorInternal)
		return
	}

	a.logger.Info().Str("room_id", room.ID).Str("creator", me.UserID).Msg("room created")
	writeJSON(w, http.StatusCreated, newRoomResponse(room))
}

// addRoomMember 處理新增聊天室成員的 API 請求
//
// Responsible for:
// - 處理 POST /api/rooms/{roomId}/members
// - 只允許建立者新增成員
// - 確認被加入的使用者存在於使用者目錄
func (a *App) addRoomMember(w http.ResponseWriter, r *http.Request) {
	me := currentIdentity(r)

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorInvalidJSON)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, ErrorUserIDRequired)
		return
	}

	room, ok := a.loadRoom(w, r)
	if !ok {
		return
	}
	if room.Creator != me.UserID {
		writeError(w, http.StatusForbidden, ErrorNotRoomCreator)
		return
	}

	if _, err := a.users.FindByID(r.Context(), req.UserID); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, ErrorUserNotFound)
			return
		}
		a.logger.Error().Err(err).Msg("find member")
		writeError(w, http.StatusInternalServerError, ErrorInternal)
		return
	}

	if err := a.store.AddMember(r.Context(), room.ID, req.UserID); err != nil {
		a.logger.Error().Err(err).Str("room_id", room.ID).Msg("add member")
		writeError(w, http.StatusInternalServerError, ErrorInternal)
		return
	}

	room, ok = a.loadRoom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newRoomResponse(room))
}

// getOnlineUsers 處理獲取在線使用者的 API 請求
//
// Responsible for:
// - 處理 GET /api/users/online
// - 從連線登錄表統計在線使用者與已驗證連線數
func (a *App) getOnlineUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, OnlineUsersResponse{
		Users:       a.registry.OnlineUsers(),
		Connections: a.registry.Count(),
	})
}

// loadRoom 讀取路徑中的聊天室，失敗時已寫出錯誤回應
func (a *App) loadRoom(w http.ResponseWriter, r *http.Request) (*store.Room, bool) {
	roomID := mux.Vars(r)["roomId"]
	room, err := a.store.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, ErrorRoomNotFound)
			return nil, false
		}
		a.logger.Error().Err(err).Str("room_id", roomID).Msg("load room")
		writeError(w, http.StatusInternalServerError, ErrorInternal)
		return nil, false
	}
	return room, true
}

// nameLookup 返回單一請求內共用快取的顯示名稱解析函式
func (a *App) nameLookup(ctx context.Context) func(string) string {
	cache := make(map[string]string)
	return func(userID string) string {
		if name, ok := cache[userID]; ok {
			return name
		}
		name, err := a.names.DisplayName(ctx, userID)
		if err != nil || name == "" {
			name = unknownSenderName
		}
		cache[userID] = name
		return name
	}
}
