package config

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	HTTPAddr string

	// MySQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// MinIO
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	OwnerCacheTTL time.Duration

	JWTSecret        string
	AccessTokenTTL   time.Duration
	PlaybackSecret   string
	PlaybackTokenTTL time.Duration
	PublicBaseURL    string // e.g. "https://media.example.com", prefix of signed playback URLs

	FFmpegPath       string
	FFprobePath      string
	HLSSegmentTime   int // seconds
	TranscodeEnabled bool
	TranscodeWorkers int
	TranscodeTimeout time.Duration
	TranscodeWorkDir string

	MaxUploadSize        int64
	MaxExtractedSize     int64 // decompressed bytes per uploaded file
	MaxConcurrentUploads int
	LoginRateLimit       int // requests per minute per IP

	LogLevel string
	LogFile  string
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

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool accepts anything strconv.ParseBool does.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "15m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default
		DBName:     getEnv("DB_NAME", "tunevault"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnv("MINIO_BUCKET", "tunevault"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),
		OwnerCacheTTL: getEnvDuration("OWNER_CACHE_TTL", 10*time.Minute),

		JWTSecret:        os.Getenv("JWT_SECRET"),
		AccessTokenTTL:   getEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		PlaybackSecret:   os.Getenv("PLAYBACK_SECRET"),
		PlaybackTokenTTL: getEnvDuration("PLAYBACK_TOKEN_TTL", 15*time.Minute),
		PublicBaseURL:    strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:      getEnv("FFPROBE_PATH", "ffprobe"),
		HLSSegmentTime:   getEnvInt("HLS_SEGMENT_TIME", 10),
		TranscodeEnabled: getEnvBool("TRANSCODE_ENABLED", true),
		TranscodeWorkers: getEnvInt("TRANSCODE_WORKERS", 2),
		TranscodeTimeout: getEnvDuration("TRANSCODE_TIMEOUT", 10*time.Minute),
		TranscodeWorkDir: getEnv("TRANSCODE_WORK_DIR", filepath.Join(os.TempDir(), "tunevault")),

		MaxUploadSize:        getEnvInt64("MAX_UPLOAD_SIZE", 1<<30), // 1GB
		MaxExtractedSize:     getEnvInt64("MAX_EXTRACTED_SIZE", 2<<30),
		MaxConcurrentUploads: getEnvInt("MAX_CONCURRENT_UPLOADS", 5),
		LoginRateLimit:       getEnvInt("LOGIN_RATE_LIMIT", 10),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if c.PlaybackSecret == "" {
		errs = append(errs, errors.New("PLAYBACK_SECRET must be set"))
	}
	if c.TranscodeWorkers <= 0 {
		errs = append(errs, errors.New("TRANSCODE_WORKERS must be positive"))
	}
	if c.TranscodeTimeout <= 0 {
		errs = append(errs, errors.New("TRANSCODE_TIMEOUT must be positive"))
	}
	if c.HLSSegmentTime <= 0 {
		errs = append(errs, errors.New("HLS_SEGMENT_TIME must be positive"))
	}
	if c.MaxExtractedSize <= 0 {
		errs = append(errs, errors.New("MAX_EXTRACTED_SIZE must be positive"))
	}
	if c.MaxConcurrentUploads <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_UPLOADS must be positive"))
	}
	return errors.Join(errs...)
}

// DSN returns the MySQL data source name used by gorm.
func (c *Config) DSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName +
		"?charset=utf8mb4&parseTime=True&loc=Local"
}

// RedisAddr returns host:port of the redis server.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
