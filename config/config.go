package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 存储应用配置
// 服务器凭据、缓存目录等均可通过 .env 或环境变量覆盖
type Config struct {
	// Subsonic 服务器配置
	ServerURL  string
	Username   string
	Password   string
	ClientName string
	APIVersion string

	// 缓存配置
	CacheDir        string        // 缓存根目录，账本与内容文件均存放于此
	DefaultQuality  string        // 默认下载音质：low / high / lossless
	MaxRetries      int           // 单个下载项的最大重试次数
	DownloadTimeout time.Duration // 单个下载项的整体超时，0 表示不限制
	AutoClearDelay  time.Duration // 已完成队列项自动清理延迟

	// 控制服务配置
	ControlAddr string

	// 日志配置
	LogLevel      string
	LogOutputPath string

	// Redis 配置（可选，搜索缓存用）
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO 配置（可选，作为内容存储后端）
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	StorageBackend string // local 或 minio
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvSeconds gets an environment variable as a number of seconds.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	home, _ := os.UserHomeDir()
	defaultCacheDir := filepath.Join(home, ".xylonic", "cache")

	return &Config{
		ServerURL:  getEnv("SERVER_URL", "http://127.0.0.1:4533"),
		Username:   getEnv("SERVER_USERNAME", ""),
		Password:   os.Getenv("SERVER_PASSWORD"), // For password, better not to have a hardcoded default
		ClientName: getEnv("CLIENT_NAME", "xylonic"),
		APIVersion: getEnv("API_VERSION", "1.16.1"),

		CacheDir:        getEnv("CACHE_DIR", defaultCacheDir),
		DefaultQuality:  getEnv("DEFAULT_QUALITY", "high"),
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		DownloadTimeout: getEnvSeconds("DOWNLOAD_TIMEOUT", 10*time.Minute),
		AutoClearDelay:  getEnvSeconds("AUTO_CLEAR_DELAY", 30*time.Second),

		ControlAddr: getEnv("CONTROL_ADDR", "127.0.0.1:8090"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogOutputPath: getEnv("LOG_OUTPUT", filepath.Join(defaultCacheDir, "logs", "xylonic.log")),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "xylonic"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
	}
}
