// Package config provides configuration management for CutMind.
// Configuration is loaded from environment variables (optionally seeded from a
// .env file) with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort          = 8788
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".cutmind"
	DefaultDBDriver      = "sqlite"
	DefaultEnvFile       = ".env"
	DefaultEnhancedBatch = 10
	DefaultCheckInterval = 10 * time.Minute

	// Environment variable names
	EnvPort           = "CUTMIND_PORT"
	EnvLogLevel       = "CUTMIND_LOG_LEVEL"
	EnvLogFile        = "CUTMIND_LOG_FILE"
	EnvDataDir        = "CUTMIND_DATA_DIR"
	EnvDBDriver       = "CUTMIND_DB_DRIVER"
	EnvDatabaseURL    = "CUTMIND_DATABASE_URL"
	EnvTrashDir       = "CUTMIND_TRASH_DIR"
	EnvInboxDir       = "CUTMIND_INBOX_DIR"
	EnvAuditDir       = "CUTMIND_AUDIT_DIR"
	EnvCategoriesFile = "CUTMIND_CATEGORIES_FILE"
	EnvFFprobe        = "CUTMIND_FFPROBE"
	EnvFFmpeg         = "CUTMIND_FFMPEG"
	EnvEnhancedBatch  = "CUTMIND_ENHANCED_BATCH"
	EnvCheckInterval  = "CUTMIND_CHECK_INTERVAL"
	EnvEnvFile        = "CUTMIND_ENV_FILE"

	// Database filename
	DBFilename = "cutmind.db"

	// Media tool defaults
	DefaultFFprobe        = "ffprobe"
	DefaultFFmpeg         = "ffmpeg"
	DefaultProbeTimeout   = 60  // seconds
	DefaultCutTimeout     = 900 // 15 minutes
	DefaultDoctorTimeout  = 10  // seconds
	DefaultShutdownGrace  = 10  // seconds
	supportedDriverSQLite = "sqlite"
	supportedDriverPG     = "postgres"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFile() string
	DataDir() string
	DBDriver() string
	DatabaseURL() string
	TrashDir() string
	InboxDir() string
	AuditDir() string
	CategoriesFile() string
	FFprobePath() string
	FFmpegPath() string
	EnhancedBatch() int
	CheckInterval() time.Duration
	ProbeTimeout() time.Duration
	CutTimeout() time.Duration
	DoctorTimeout() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port          int
	logLevel      string
	logFile       string
	dataDir       string
	dbDriver      string
	databaseURL   string
	trashDir      string
	inboxDir      string
	auditDir      string
	categories    string
	ffprobe       string
	ffmpeg        string
	enhancedBatch int
	checkInterval time.Duration
}

// New loads the optional .env file and then builds an EnvConfig with defaults
// and environment variable overrides. Variables already present in the
// environment win over the .env file.
func New() (*EnvConfig, error) {
	envFile := os.Getenv(EnvEnvFile)
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("invalid %s: %w", envFile, err)
	}

	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		dbDriver:      DefaultDBDriver,
		ffprobe:       DefaultFFprobe,
		ffmpeg:        DefaultFFmpeg,
		enhancedBatch: DefaultEnhancedBatch,
		checkInterval: DefaultCheckInterval,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	cfg.logFile = os.Getenv(EnvLogFile)

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if d := os.Getenv(EnvDBDriver); d != "" {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != supportedDriverSQLite && d != supportedDriverPG {
			return nil, fmt.Errorf("invalid %s: must be %q or %q", EnvDBDriver, supportedDriverSQLite, supportedDriverPG)
		}
		cfg.dbDriver = d
	}
	cfg.databaseURL = os.Getenv(EnvDatabaseURL)
	if cfg.dbDriver == supportedDriverPG && cfg.databaseURL == "" {
		return nil, fmt.Errorf("%s is required when %s=%s", EnvDatabaseURL, EnvDBDriver, supportedDriverPG)
	}

	cfg.trashDir = os.Getenv(EnvTrashDir)
	cfg.inboxDir = os.Getenv(EnvInboxDir)
	cfg.auditDir = os.Getenv(EnvAuditDir)
	cfg.categories = os.Getenv(EnvCategoriesFile)

	if v := os.Getenv(EnvFFprobe); v != "" {
		cfg.ffprobe = v
	}
	if v := os.Getenv(EnvFFmpeg); v != "" {
		cfg.ffmpeg = v
	}

	if v := os.Getenv(EnvEnhancedBatch); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvEnhancedBatch)
		}
		cfg.enhancedBatch = n
	}

	if v := os.Getenv(EnvCheckInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid %s: %q", EnvCheckInterval, v)
		}
		cfg.checkInterval = d
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFile returns the optional rotating log file path
func (c *EnvConfig) LogFile() string {
	return c.logFile
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

func (c *EnvConfig) DBDriver() string {
	return c.dbDriver
}

// DatabaseURL returns the DSN. For sqlite it defaults to a file in the data dir.
func (c *EnvConfig) DatabaseURL() string {
	if c.databaseURL != "" {
		return c.databaseURL
	}
	return filepath.Join(c.dataDir, DBFilename)
}

func (c *EnvConfig) TrashDir() string {
	if c.trashDir != "" {
		return c.trashDir
	}
	return filepath.Join(c.dataDir, "trash")
}

func (c *EnvConfig) InboxDir() string {
	if c.inboxDir != "" {
		return c.inboxDir
	}
	return filepath.Join(c.dataDir, "inbox")
}

func (c *EnvConfig) AuditDir() string {
	if c.auditDir != "" {
		return c.auditDir
	}
	return filepath.Join(c.dataDir, "audit")
}

// CategoriesFile returns the YAML rules path; empty means the embedded defaults.
func (c *EnvConfig) CategoriesFile() string {
	return c.categories
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobe
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpeg
}

// EnhancedBatch is the maximum number of enhanced videos checked per run.
func (c *EnvConfig) EnhancedBatch() int {
	return c.enhancedBatch
}

// CheckInterval is the scheduler period; zero disables scheduled checks.
func (c *EnvConfig) CheckInterval() time.Duration {
	return c.checkInterval
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return time.Duration(DefaultProbeTimeout) * time.Second
}

func (c *EnvConfig) CutTimeout() time.Duration {
	return time.Duration(DefaultCutTimeout) * time.Second
}

func (c *EnvConfig) DoctorTimeout() time.Duration {
	return time.Duration(DefaultDoctorTimeout) * time.Second
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
