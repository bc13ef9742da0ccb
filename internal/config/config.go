package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Spawn modes
const (
	SpawnGoroutine = "goroutine"
	SpawnProcess   = "process"
)

// Console log formats
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds all configuration values.
type Config struct {
	// HTTP
	Addr string

	// Storage
	DBPath       string
	SourceDBPath string // optional database queried by "sql" record sources
	SourceDir    string // base directory of "csv" record sources
	OutputDir    string
	CatalogPath  string // YAML file of reports per job type

	// Logging
	LogFile   string
	LogLevel  slog.Level
	LogFormat string // console format; the log file is always JSON
	LogSource bool   // include file:line in records

	// Workers
	SpawnMode         string
	SmallJobLimit     int
	LargeJobLimit     int
	MediumInterval    int
	LargeInterval     int
	CheckpointElapsed time.Duration
	HeartbeatInterval time.Duration

	// Jobs
	StaleAfter    time.Duration
	JobTTL        time.Duration
	TokenCacheTTL time.Duration
	MaxPageSize   int
}

// LoadDotEnv loads variables from .env files that exist. Variables already
// set in the environment win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("failed to load env file", "file", f, "error", err)
		}
	}
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Addr: getEnv("REPORTD_ADDR", ":8080"),

		DBPath:       getEnv("REPORTD_DB", "reports.db"),
		SourceDBPath: getEnv("REPORTD_SOURCE_DB", ""),
		SourceDir:    getEnv("REPORTD_SOURCE_DIR", "sources"),
		OutputDir:    getEnv("REPORTD_OUTPUT_DIR", "outputs"),
		CatalogPath:  getEnv("REPORTD_CATALOG", "reports.yaml"),

		LogFile:   getEnv("REPORTD_LOG_FILE", "reportd.log"),
		LogLevel:  parseLogLevel(getEnv("REPORTD_LOG_LEVEL", "INFO")),
		LogFormat: parseLogFormat(getEnv("REPORTD_LOG_FORMAT", LogFormatText)),
		LogSource: getBool("REPORTD_LOG_SOURCE", false),

		SpawnMode:         parseSpawnMode(getEnv("REPORTD_SPAWN_MODE", SpawnGoroutine)),
		SmallJobLimit:     getInt("REPORTD_CHECKPOINT_SMALL_LIMIT", 100000),
		LargeJobLimit:     getInt("REPORTD_CHECKPOINT_LARGE_LIMIT", 1000000),
		MediumInterval:    getInt("REPORTD_CHECKPOINT_MEDIUM_INTERVAL", 100),
		LargeInterval:     getInt("REPORTD_CHECKPOINT_LARGE_INTERVAL", 1000),
		CheckpointElapsed: getDuration("REPORTD_CHECKPOINT_ELAPSED", 2*time.Second),
		HeartbeatInterval: getDuration("REPORTD_HEARTBEAT_INTERVAL", time.Minute),

		StaleAfter:    getDuration("REPORTD_STALE_AFTER", 10*time.Minute),
		JobTTL:        getDuration("REPORTD_JOB_TTL", 24*time.Hour),
		TokenCacheTTL: getDuration("REPORTD_TOKEN_CACHE_TTL", 5*time.Minute),
		MaxPageSize:   getInt("REPORTD_MAX_PAGE_SIZE", 1000),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func getBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return b
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseLogFormat(s string) string {
	if strings.EqualFold(s, LogFormatJSON) {
		return LogFormatJSON
	}
	return LogFormatText
}

func parseSpawnMode(s string) string {
	if strings.EqualFold(s, SpawnProcess) {
		return SpawnProcess
	}
	return SpawnGoroutine
}
