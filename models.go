package main

import (
	"time"

	"campus-chat-server/internal/store"
	"campus-chat-server/internal/users"
)

// RegisterRequest 註冊請求
type RegisterRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// LoginRequest 登入請求
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserResponse 對外公開的使用者資訊（不含密碼雜湊）
type UserResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

func newUserResponse(u *users.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, DisplayName: u.Name()}
}

// AuthResponse 註冊與登入成功時的回應，token 用於 WebSocket auth 訊框與 REST API
type AuthResponse struct {
	Success   bool         `json:"success"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

// CreateRoomRequest 建立聊天室請求，建立者自動成為成員
type CreateRoomRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// AddMemberRequest 新增聊天室成員請求
type AddMemberRequest struct {
	UserID string `json:"userId"`
}

// RoomResponse 聊天室資訊（不含訊息記錄）
type RoomResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Creator   string    `json:"creator"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

func newRoomResponse(r *store.Room) RoomResponse {
	members := r.Members
	if members == nil {
		members = []string{}
	}
	return RoomResponse{
		ID:        r.ID,
		Name:      r.Name,
		Creator:   r.Creator,
		Members:   members,
		CreatedAt: r.CreatedAt,
	}
}

// OnlineUsersResponse 在線使用者與連線數
type OnlineUsersResponse struct {
	Users       []string `json:"users"`
	Connections int      `json:"connections"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
