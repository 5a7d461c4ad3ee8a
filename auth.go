package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"campus-chat-server/internal/identity"
	"campus-chat-server/internal/users"
)

type identityKey struct{}

// register 處理帳號註冊的 API 請求
//
// Responsible for:
// - 處理 POST /api/register
// - 以 bcrypt 雜湊密碼並建立使用者
// - 簽發 JWT 讓客戶端可以立即連線
//
// Process flow:
// 1. 解析 JSON 請求主體
// 2. 檢查 username 與 password 是否存在
// 3. 雜湊密碼並寫入使用者目錄
// 4. 使用者名稱重複時返回 409
// 5. 簽發權杖並返回 201
func (a *App) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorInvalidJSON)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrorMissingFields)
		return
	}

	hash, err := a.hasher.Hash(req.Password)
	if err != nil {
		a.logger.Error().Err(err).Msg("hash password")
		writeError(w, http.StatusInternalServerError, ErrorInternal)
		return
	}

	user := &users.User{
		Username:     req.Username,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
	}
	if err := a.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, users.ErrUserExists) {
			writeError(w, http.StatusConflict, ErrorUsernameTaken)
			return
		}
		a.logger.Error().Err(err).Str("username", req.Username).Msg("create user")
		writeError(w, http.StatusInternalServerError, ErrorInternal)
		return
	}

	a.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	a.issueToken(w, http.StatusCreated, user)
}

// login 處理帳號登入驗證的 API 請求
//
// Responsible for:
// - 處理 POST /api/login
// - 比對 bcrypt 密碼雜湊
// - 成功時返回權杖與使用者資訊，失敗時返回 401
func (a *App) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorInvalidJSON)
		return
	}

	user, err := a.users.FindByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, ErrorInvalidAuth)
			return
		}
		a.logger.Error().Err(err).Msg("find user")
		writeError(w, http.StatusInternalServerError, ErrorInternal)
		return
	}
	if !a.hasher.Verify(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, ErrorInvalidAuth)
		return
	}

	a.issueToken(w, http.StatusOK, user)
}

func (a *App) issueToken(w http.ResponseWriter, status int, user *users.User) {
	token, err := a.tokens.Generate(user.ID, user.Username)
	if err != nil {
		a.logger.Error().Err(err).Msg("sign token")
		writeError(w, http.StatusInternalServerError, ErrorInternal)
		return
	}
	writeJSON(w, status, AuthResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: time.Now().Add(a.tokens.TTL()).UTC(),
		User:      newUserResponse(user),
	})
}

// requireAuth 驗證 Authorization: Bearer 權杖，並把身份放入請求 context
func (a *App) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.verifier.Verify(r.Context(), r.Header.Get("Authorization"))
		switch {
		case err == nil:
			ctx := context.WithValue(r.Context(), identityKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		case errors.Is(err, identity.ErrExpiredToken):
			writeError(w, http.StatusUnauthorized, ErrorTokenExpired)
		case errors.Is(err, identity.ErrMissingToken),
			errors.Is(err, identity.ErrInvalidToken),
			errors.Is(err, identity.ErrUnknownUser):
			writeError(w, http.StatusUnauthorized, ErrorUnauthorized)
		default:
			a.logger.Error().Err(err).Msg("verify bearer token")
			writeError(w, http.StatusInternalServerError, ErrorInternal)
		}
	})
}

// currentIdentity 返回 requireAuth 放入的身份
func currentIdentity(r *http.Request) identity.Identity {
	id, _ := r.Context().Value(identityKey{}).(identity.Identity)
	return id
}
