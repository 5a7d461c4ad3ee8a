package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"campus-chat-server/internal/store"
)

// 應用程式設定常數 - 單一來源，集中管理
//
// Responsible for:
// - 定義所有應用程式設定的預設值
// - 定義 REST API 回應使用的錯誤訊息
//
// Usage context:
// - LoadConfig 在環境變數缺少時使用這些預設值
// - HTTP 處理器與測試直接引用錯誤訊息常數
const (
	// 網路設定預設值
	DefaultServerPort      = "8080"
	DefaultShutdownTimeout = 10 * time.Second

	// WebSocket 設定預設值
	WebSocketSubprotocol = "chat"
	DefaultPingInterval  = 30 * time.Second
	DefaultReadLimit     = 64 * 1024
	DefaultSendBuffer    = 256

	// 身份驗證設定預設值
	DefaultTokenTTL     = 24 * time.Hour
	DefaultJWTIssuer    = "campus-chat-server"
	DefaultDevJWTSecret = "dev-secret-change-me"
	DefaultNameCacheTTL = 10 * time.Minute

	// 儲存設定預設值
	DefaultStoreDriver = store.DriverSQLite
	DefaultSQLitePath  = "./data/chat.db"
	DefaultUsersDBPath = "./data/users.db"

	// 訊息處理設定預設值
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200

	// 錯誤訊息
	ErrorInvalidJSON      = "Invalid JSON"
	ErrorInvalidAuth      = "Invalid username or password"
	ErrorMissingFields    = "username and password are required"
	ErrorUsernameTaken    = "Username already exists"
	ErrorUnauthorized     = "Unauthorized"
	ErrorTokenExpired     = "Token expired"
	ErrorRoomNameRequired = "Room name is required"
	ErrorRoomNameTaken    = "Room name already exists"
	ErrorRoomNotFound     = "Room not found"
	ErrorNotRoomMember    = "Not a room member"
	ErrorNotRoomCreator   = "Only the room creator can add members"
	ErrorUserIDRequired   = "userId is required"
	ErrorUserNotFound     = "User not found"
	ErrorInternal         = "Internal server error"
)

// Config 應用程式執行期設定
type Config struct {
	Port     string
	Env      string
	LogLevel string

	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	StoreDriver string
	SQLitePath  string
	DatabaseURL string
	UsersDBPath string

	RedisURL     string
	NameCacheTTL time.Duration

	PingInterval  time.Duration
	AuthTimeout   time.Duration
	EnforceSender bool

	AllowedOrigins []string
}

// LoadConfig 從環境變數載入設定
//
// Responsible for:
// - 讀取 .env 檔案（若存在）與環境變數
// - 套用預設值並解析時間長度、布林值與列表
// - 在 production 環境檢查必要設定
//
// Process flow:
// 1. 載入 .env（開發環境使用，檔案不存在時忽略）
// 2. 逐一讀取環境變數並套用預設值
// 3. 解析失敗時返回錯誤
// 4. production 環境缺少 JWT_SECRET 時返回錯誤
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultServerPort),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      getEnv("JWT_ISSUER", DefaultJWTIssuer),
		StoreDriver:    getEnv("STORE_DRIVER", DefaultStoreDriver),
		SQLitePath:     getEnv("SQLITE_PATH", DefaultSQLitePath),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		UsersDBPath:    getEnv("USERS_DB_PATH", DefaultUsersDBPath),
		RedisURL:       os.Getenv("REDIS_URL"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
	}

	var err error
	if cfg.TokenTTL, err = getEnvDuration("TOKEN_TTL", DefaultTokenTTL); err != nil {
		return nil, err
	}
	if cfg.NameCacheTTL, err = getEnvDuration("NAME_CACHE_TTL", DefaultNameCacheTTL); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = getEnvDuration("PING_INTERVAL", DefaultPingInterval); err != nil {
		return nil, err
	}
	if cfg.AuthTimeout, err = getEnvDuration("AUTH_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.EnforceSender, err = getEnvBool("ENFORCE_SENDER", true); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		if cfg.IsProduction() {
			return nil, errors.New("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = DefaultDevJWTSecret
	}
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// StoreDSN 返回所選儲存驅動對應的連線字串
func (c *Config) StoreDSN() string {
	if strings.EqualFold(c.StoreDriver, store.DriverPostgres) {
		return c.DatabaseURL
	}
	return c.SQLitePath
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// 逗號分隔的列表，忽略空白項目
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
