package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Relay  RelayConfig
	Store  StoreConfig
	Auth   AuthConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Relay:  relay,
		Store:  StoreConfig{DSN: strings.TrimSpace(os.Getenv("DB_DSN"))},
		Auth:   AuthConfig{JWTSecret: strings.TrimSpace(os.Getenv("JWT_SECRET"))},
		Log:    logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// RelayConfig 描述实时转发层的连接参数。
type RelayConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

func loadRelayConfig() (RelayConfig, error) {
	buffer := 64
	if override, err := parseOptionalIntEnv("RELAY_SEND_BUFFER"); err != nil {
		return RelayConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return RelayConfig{}, fmt.Errorf("invalid RELAY_SEND_BUFFER value %d: must be positive", *override)
		}
		buffer = *override
	}

	writeTimeout, err := parseDurationEnv("RELAY_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}
	readTimeout, err := parseDurationEnv("RELAY_READ_TIMEOUT", 60*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}
	pingInterval, err := parseDurationEnv("RELAY_PING_INTERVAL", 54*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}
	if readTimeout > 0 && pingInterval >= readTimeout {
		return RelayConfig{}, fmt.Errorf("RELAY_PING_INTERVAL (%s) must be shorter than RELAY_READ_TIMEOUT (%s)", pingInterval, readTimeout)
	}

	return RelayConfig{
		SendBuffer:   buffer,
		WriteTimeout: writeTimeout,
		ReadTimeout:  readTimeout,
		PingInterval: pingInterval,
	}, nil
}

// StoreConfig 描述持久化存储。DSN 为空时使用内存存储。
type StoreConfig struct {
	DSN string
}

// UseDatabase reports whether a SQL database is configured.
func (c StoreConfig) UseDatabase() bool {
	return c.DSN != ""
}

// AuthConfig 描述令牌校验配置。
type AuthConfig struct {
	JWTSecret string
}

// Enabled 表示是否启用 JWT 校验；未启用时从 X-User-ID 头读取用户。
func (c AuthConfig) Enabled() bool {
	return c.JWTSecret != ""
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  logrus.Level
	Format string
}

func loadLogConfig() (LogConfig, error) {
	raw := getEnvOrDefault("LOG_LEVEL", "info")
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
	}

	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text"))
	if format != "text" && format != "json" {
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q: want text or json", format)
	}

	return LogConfig{Level: level, Format: format}, nil
}

// Apply configures the global logrus logger.
func (c LogConfig) Apply() {
	logrus.SetLevel(c.Level)
	if c.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}
