package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"campus-chat-server/internal/identity"
	"campus-chat-server/internal/realtime"
	"campus-chat-server/internal/store"
	"campus-chat-server/internal/users"
)

// App 聚合伺服器的所有相依元件
//
// Responsible for:
// - 持有訊息儲存、使用者目錄、權杖管理與即時連線處理器
// - 提供 HTTP 處理器所需的共用狀態
//
// Usage context:
// - main 啟動時透過 newApp 建立
// - 測試中以記憶體儲存與暫存 SQLite 建立獨立實例
type App struct {
	cfg    *Config
	logger zerolog.Logger

	store    store.Store
	users    *users.Repository
	names    *users.Resolver
	cache    *redis.Client
	tokens   *identity.TokenManager
	hasher   *identity.PasswordHasher
	verifier *identity.Verifier

	registry *realtime.Registry
	realtime *realtime.Handler
	upgrader websocket.Upgrader
}

// newApp 依設定建立並連接所有元件
//
// Process flow:
// 1. 開啟訊息儲存（memory / sqlite / postgres）
// 2. 開啟使用者目錄（GORM + SQLite）
// 3. 若設定了 REDIS_URL，建立顯示名稱快取
// 4. 建立權杖管理器、驗證器與即時連線處理器
//
// 任一步驟失敗時關閉已開啟的資源並返回錯誤。
func newApp(ctx context.Context, cfg *Config, logger zerolog.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	var err error

	app.store, err = store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN())
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}

	if dir := filepath.Dir(cfg.UsersDBPath); dir != "." && !strings.HasPrefix(cfg.UsersDBPath, "file:") {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create users db dir: %w", err)
		}
	}
	app.users, err = users.OpenRepository(cfg.UsersDBPath)
	if err != nil {
		return nil, err
	}

	if cfg.RedisURL != "" {
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", perr)
		}
		app.cache = redis.NewClient(opts)
		if perr := app.cache.Ping(ctx).Err(); perr != nil {
			// 快取不可用時仍可運作，只是每次都查詢目錄
			logger.Warn().Err(perr).Msg("redis unavailable, display names will not be cached")
			_ = app.cache.Close()
			app.cache = nil
		}
	}

	app.names = users.NewResolver(app.users, app.cache, cfg.NameCacheTTL, logger)
	app.tokens = identity.NewTokenManager(identity.TokenConfig{
		SecretKey: cfg.JWTSecret,
		TTL:       cfg.TokenTTL,
		Issuer:    cfg.JWTIssuer,
	})
	app.hasher = identity.NewPasswordHasher(identity.DefaultBcryptCost)
	app.verifier = identity.NewVerifier(app.tokens, app.users)

	app.registry = realtime.NewRegistry()
	app.realtime = realtime.NewHandler(realtime.Config{
		PingInterval:  cfg.PingInterval,
		AuthTimeout:   cfg.AuthTimeout,
		ReadLimit:     DefaultReadLimit,
		SendBuffer:    DefaultSendBuffer,
		EnforceSender: cfg.EnforceSender,
	}, app.store, app.verifier, app.names, app.registry, logger)

	app.upgrader = newUpgrader(cfg.AllowedOrigins)
	ok = true
	return app, nil
}

// Close 釋放所有外部資源
func (a *App) Close() {
	if a.realtime != nil {
		a.realtime.Shutdown(websocket.CloseGoingAway, "server shutting down")
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.users != nil {
		_ = a.users.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// newLogger 依環境建立 zerolog 記錄器：開發環境使用易讀的 console 格式，
// 其他環境輸出 JSON。
func newLogger(cfg *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsProduction() {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRoutes(app),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.StoreDriver).
			Bool("name_cache", app.cache != nil).
			Msg("starting chat server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	// Shutdown 不會等待已升級的 WebSocket 連線，由 App.Close 以 1001 關閉
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	app.Close()

	logger.Info().Msg("server stopped")
}
