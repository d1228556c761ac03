package config

import (
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
	HTTPAddr      string
	PublicBaseURL string // Prefix for public media locators, e.g. https://cast.example.com
	JWTSecret     string

	DBDriver   string // mysql or sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	QueueDriver       string // redis or memory
	QueuePrefix       string
	WorkerConcurrency int

	StorageDriver  string // local or minio
	StorageRoot    string // Root of the canonical namespace for the local backend
	TempDir        string // Scoped temporary areas live below this directory
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	YtDlpPath        string
	YtDlpAudioFormat string
	FFprobePath      string // Empty disables duration probing

	DownloadTimeout  time.Duration
	ExtractTimeout   time.Duration
	MetadataTimeout  time.Duration
	MaxRedirects     int
	MaxDownloadBytes int64

	DuplicateGrace  time.Duration
	ProcessingLease time.Duration // Exclusive hold of one delivery on an entry; must outlast the slowest fetch
	SweepInterval   time.Duration
	OrphanMinAge    time.Duration
	VideoInfoTTL    time.Duration

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

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "5m").
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

	dataDir := getEnv("DATA_DIR", "data")

	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		JWTSecret:     os.Getenv("JWT_SECRET"),

		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "castshelf"),
		SQLitePath: getEnv("SQLITE_PATH", filepath.Join(dataDir, "castshelf.db")),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		QueueDriver:       getEnv("QUEUE_DRIVER", "redis"),
		QueuePrefix:       getEnv("QUEUE_PREFIX", "castshelf"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),

		StorageDriver:  getEnv("STORAGE_DRIVER", "local"),
		StorageRoot:    getEnv("STORAGE_ROOT", filepath.Join(dataDir, "storage")),
		TempDir:        getEnv("TEMP_DIR", filepath.Join(dataDir, "tmp")),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "castshelf"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		YtDlpPath:        getEnv("YTDLP_PATH", "yt-dlp"),
		YtDlpAudioFormat: getEnv("YTDLP_AUDIO_FORMAT", "mp3"),
		FFprobePath:      getEnv("FFPROBE_PATH", "ffprobe"),

		DownloadTimeout:  getEnvDuration("DOWNLOAD_TIMEOUT", 60*time.Second),
		ExtractTimeout:   getEnvDuration("EXTRACT_TIMEOUT", 300*time.Second),
		MetadataTimeout:  getEnvDuration("METADATA_TIMEOUT", 60*time.Second),
		MaxRedirects:     getEnvInt("MAX_REDIRECTS", 5),
		MaxDownloadBytes: getEnvInt64("MAX_DOWNLOAD_BYTES", 1<<30),

		DuplicateGrace:  getEnvDuration("DUPLICATE_GRACE", 5*time.Minute),
		ProcessingLease: getEnvDuration("PROCESSING_LEASE", 15*time.Minute),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", time.Hour),
		OrphanMinAge:    getEnvDuration("ORPHAN_MIN_AGE", 10*time.Minute),
		VideoInfoTTL:    getEnvDuration("VIDEO_INFO_TTL", 6*time.Hour),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}
