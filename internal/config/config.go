package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	AI        AIConfig
	Speech    SpeechConfig
	Cache     CacheConfig
	Heartbeat HeartbeatConfig
	Retry     RetryConfig
	Store     StoreConfig
	Catalog   CatalogConfig
	Limit     LimitConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	cache, err := loadCacheConfig()
	if err != nil {
		return nil, err
	}

	heartbeat, err := loadHeartbeatConfig()
	if err != nil {
		return nil, err
	}

	retry, err := loadRetryConfig()
	if err != nil {
		return nil, err
	}

	limit, err := loadLimitConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Log:       LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info")},
		AI:        ai,
		Speech:    speech,
		Cache:     cache,
		Heartbeat: heartbeat,
		Retry:     retry,
		Store:     StoreConfig{Path: strings.TrimSpace(os.Getenv("STORE_PATH"))},
		Catalog:   CatalogConfig{Path: getEnvOrDefault("VOICE_CATALOG_PATH", "")},
		Limit:     limit,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述翻译所用大模型的配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

// SpeechConfig 描述语音合成后端的配置。
type SpeechConfig struct {
	Backend      string // volcengine 或 client
	AppID        string
	AccessToken  string
	Region       string
	BaseURL      string
	DefaultVoice string
	Speed        float32
	Volume       float32
	SpeedMin     float32
	SpeedMax     float32
	Timeout      int
	Enabled      bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseFloat32Env("SPEECH_TTS_SPEED", 1.0)
	if err != nil {
		return SpeechConfig{}, err
	}

	volume, err := parseFloat32Env("SPEECH_TTS_VOLUME", 1.0)
	if err != nil {
		return SpeechConfig{}, err
	}

	speedMin, err := parseFloat32Env("SPEECH_TTS_SPEED_MIN", 0.6)
	if err != nil {
		return SpeechConfig{}, err
	}

	speedMax, err := parseFloat32Env("SPEECH_TTS_SPEED_MAX", 1.5)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))

	backend := strings.ToLower(getEnvOrDefault("SPEECH_BACKEND", ""))
	enabled := appID != "" && accessToken != ""
	if backend == "" {
		// 未显式选择后端时根据凭证自动判断，凭证缺失则退回客户端合成。
		if enabled {
			backend = "volcengine"
		} else {
			backend = "client"
		}
	}

	return SpeechConfig{
		Backend:      backend,
		AppID:        appID,
		AccessToken:  accessToken,
		Region:       getEnvOrDefault("SPEECH_REGION", "cn-beijing"),
		BaseURL:      getEnvOrDefault("SPEECH_BASE_URL", ""),
		DefaultVoice: getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		Speed:        speed,
		Volume:       volume,
		SpeedMin:     speedMin,
		SpeedMax:     speedMax,
		Timeout:      timeoutSeconds,
		Enabled:      enabled,
	}, nil
}

// CacheConfig 描述TTS音频缓存配置。
type CacheConfig struct {
	Dir       string
	TTL       time.Duration
	SweepSpec string // cron 表达式，留空时禁用定时清理
}

func loadCacheConfig() (CacheConfig, error) {
	ttlHours, err := parseOptionalIntEnv("TTS_CACHE_TTL_HOURS")
	if err != nil {
		return CacheConfig{}, err
	}
	ttl := 24 * time.Hour
	if ttlHours != nil {
		if *ttlHours <= 0 {
			return CacheConfig{}, fmt.Errorf("TTS_CACHE_TTL_HOURS must be positive, got %d", *ttlHours)
		}
		ttl = time.Duration(*ttlHours) * time.Hour
	}

	return CacheConfig{
		Dir:       getEnvOrDefault("TTS_CACHE_DIR", "./tts-cache"),
		TTL:       ttl,
		SweepSpec: getEnvOrDefault("TTS_CACHE_SWEEP_SPEC", "0 30 3 * * *"),
	}, nil
}

// HeartbeatConfig 描述连接存活探测配置。
type HeartbeatConfig struct {
	Interval time.Duration
}

func loadHeartbeatConfig() (HeartbeatConfig, error) {
	seconds, err := parseOptionalIntEnv("HEARTBEAT_INTERVAL_SECONDS")
	if err != nil {
		return HeartbeatConfig{}, err
	}
	interval := 30 * time.Second
	if seconds != nil {
		if *seconds <= 0 {
			return HeartbeatConfig{}, fmt.Errorf("HEARTBEAT_INTERVAL_SECONDS must be positive, got %d", *seconds)
		}
		interval = time.Duration(*seconds) * time.Second
	}
	return HeartbeatConfig{Interval: interval}, nil
}

// RetryConfig 描述翻译调用的重试策略。
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func loadRetryConfig() (RetryConfig, error) {
	retries, err := parseOptionalIntEnv("TRANSLATE_MAX_RETRIES")
	if err != nil {
		return RetryConfig{}, err
	}
	maxRetries := 3
	if retries != nil {
		if *retries < 0 {
			return RetryConfig{}, fmt.Errorf("TRANSLATE_MAX_RETRIES must not be negative, got %d", *retries)
		}
		maxRetries = *retries
	}

	baseMillis, err := parseOptionalIntEnv("TRANSLATE_BACKOFF_BASE_MS")
	if err != nil {
		return RetryConfig{}, err
	}
	base := time.Second
	if baseMillis != nil {
		if *baseMillis <= 0 {
			return RetryConfig{}, fmt.Errorf("TRANSLATE_BACKOFF_BASE_MS must be positive, got %d", *baseMillis)
		}
		base = time.Duration(*baseMillis) * time.Millisecond
	}

	return RetryConfig{MaxRetries: maxRetries, BaseDelay: base}, nil
}

// StoreConfig 描述可选的历史记录存储，路径为空时禁用。
type StoreConfig struct {
	Path string
}

// CatalogConfig 描述声音目录文件，路径为空时使用内置目录。
type CatalogConfig struct {
	Path string
}

// LimitConfig 描述tts_request消息的限流配置。
type LimitConfig struct {
	TTSRequestsPerMinute int
}

func loadLimitConfig() (LimitConfig, error) {
	perMinute, err := parseOptionalIntEnv("TTS_REQUESTS_PER_MINUTE")
	if err != nil {
		return LimitConfig{}, err
	}
	limit := 30
	if perMinute != nil {
		if *perMinute <= 0 {
			return LimitConfig{}, fmt.Errorf("TTS_REQUESTS_PER_MINUTE must be positive, got %d", *perMinute)
		}
		limit = *perMinute
	}
	return LimitConfig{TTSRequestsPerMinute: limit}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
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

func parseFloat32Env(key string, defaultValue float32) (float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return float32(val), nil
}
