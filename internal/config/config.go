package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

type Config struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	RequestTimeout     time.Duration
	LogLevel           slog.Level

	IdentityBaseURL string
	LoginPath       string
	ProbePath       string
	AuthTimeout     time.Duration
	ProbeTimeout    time.Duration
	LoginEncoding   string
	SendGrantType   bool
	MinTokenLength  int

	StoreBackend    string
	StoreFile       string
	StorePassphrase string
	StoreNamespace  string
	DatabaseURL     string
	DBMaxConns      int32
	DBMinConns      int32

	RepairMaxExtraAttempts int
	RepairBackoff          time.Duration
	RepairRatePerMinute    int
	PersistTimeout         time.Duration
	RepairOnStartup        bool
	JournalFile            string

	// Recovery credentials are only ever taken from the environment, and
	// only when explicitly allowed.
	AllowEnvCredentials bool
	GuardUsername       string
	GuardPassword       string

	OperatorJWTSecret  string
	CORSOrigins        []string
	RateLimitRPM       int
	RepairRateLimitRPM int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8090"),
		ServerReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
		ServerIdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),
		LogLevel:           getLevel("LOG_LEVEL", slog.LevelInfo),

		IdentityBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("IDENTITY_BASE_URL")), "/"),
		LoginPath:       getEnv("LOGIN_PATH", "/api/v1/auth/login"),
		ProbePath:       getEnv("PROBE_PATH", "/api/v1/auth/me"),
		AuthTimeout:     getDuration("AUTH_TIMEOUT", 10*time.Second),
		ProbeTimeout:    getDuration("PROBE_TIMEOUT", 5*time.Second),
		LoginEncoding:   strings.ToLower(getEnv("LOGIN_ENCODING", "form")),
		SendGrantType:   getBool("SEND_GRANT_TYPE", true),
		MinTokenLength:  getInt("MIN_TOKEN_LENGTH", 20),

		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", StoreFile)),
		StoreFile:       getEnv("STORE_FILE", "./state/session.db"),
		StorePassphrase: os.Getenv("STORE_PASSPHRASE"),
		StoreNamespace:  getEnv("STORE_NAMESPACE", "default"),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:      int32(getInt("DB_MAX_CONNS", 4)),
		DBMinConns:      int32(getInt("DB_MIN_CONNS", 1)),

		RepairMaxExtraAttempts: getInt("REPAIR_MAX_EXTRA_ATTEMPTS", 0),
		RepairBackoff:          getDuration("REPAIR_BACKOFF", time.Second),
		RepairRatePerMinute:    getInt("REPAIR_RATE_PER_MINUTE", 3),
		PersistTimeout:         getDuration("PERSIST_TIMEOUT", 5*time.Second),
		RepairOnStartup:        getBool("REPAIR_ON_STARTUP", true),
		JournalFile:            getEnv("JOURNAL_FILE", "./state/repairs.jsonl"),

		AllowEnvCredentials: getBool("GUARD_ALLOW_ENV_CREDENTIALS", false),

		OperatorJWTSecret:  strings.TrimSpace(os.Getenv("OPERATOR_JWT_SECRET")),
		CORSOrigins:        splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM:       getInt("RATE_LIMIT_RPM", 100),
		RepairRateLimitRPM: getInt("REPAIR_RATE_LIMIT_RPM", 10),
	}

	if cfg.AllowEnvCredentials {
		cfg.GuardUsername = strings.TrimSpace(os.Getenv("GUARD_USERNAME"))
		cfg.GuardPassword = os.Getenv("GUARD_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.OperatorJWTSecret == "" {
		return fmt.Errorf("OPERATOR_JWT_SECRET is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.IdentityBaseURL == "" {
		return fmt.Errorf("IDENTITY_BASE_URL is required")
	}
	if u, err := url.Parse(c.IdentityBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("IDENTITY_BASE_URL must be an absolute URL")
	}

	if !strings.HasPrefix(c.LoginPath, "/") || !strings.HasPrefix(c.ProbePath, "/") {
		return fmt.Errorf("LOGIN_PATH and PROBE_PATH must start with /")
	}

	if c.AuthTimeout <= 0 || c.ProbeTimeout <= 0 {
		return fmt.Errorf("AUTH_TIMEOUT and PROBE_TIMEOUT must be positive")
	}

	if c.LoginEncoding != "form" && c.LoginEncoding != "multipart" {
		return fmt.Errorf("LOGIN_ENCODING must be form or multipart")
	}

	if c.MinTokenLength < 10 || c.MinTokenLength > 20 {
		return fmt.Errorf("MIN_TOKEN_LENGTH must be between 10 and 20")
	}

	journal, err := resolveStatePath("JOURNAL_FILE", c.JournalFile)
	if err != nil {
		return err
	}
	c.JournalFile = journal

	switch c.StoreBackend {
	case StoreMemory:
	case StoreFile:
		storeFile, err := resolveStatePath("STORE_FILE", c.StoreFile)
		if err != nil {
			return err
		}
		if storeFile == "" {
			return fmt.Errorf("STORE_FILE cannot be empty")
		}
		if storeFile == c.JournalFile {
			return fmt.Errorf("STORE_FILE and JOURNAL_FILE must be different files")
		}
		c.StoreFile = storeFile
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS and DB_MAX_CONNS are inconsistent")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be memory, file or postgres")
	}

	if c.RepairMaxExtraAttempts < 0 || c.RepairMaxExtraAttempts > 1 {
		return fmt.Errorf("REPAIR_MAX_EXTRA_ATTEMPTS must be 0 or 1")
	}

	if c.PersistTimeout <= 0 {
		return fmt.Errorf("PERSIST_TIMEOUT must be positive")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.AllowEnvCredentials && (c.GuardUsername == "" || c.GuardPassword == "") {
		return fmt.Errorf("GUARD_USERNAME and GUARD_PASSWORD are required when GUARD_ALLOW_ENV_CREDENTIALS is set")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getLevel(key string, fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}

	return level
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
