// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names selected by the DSN scheme.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongodb"
	BackendMemory   = "memory" // development only, data is lost on exit
)

// Config holds all server settings.
type Config struct {
	Addr    string
	Env     string
	TLSCert string
	TLSKey  string

	DSN        string
	MongoDB    string
	DBMaxConns int32

	JWTKey       string
	AccessTTL    time.Duration
	ResetTTL     time.Duration
	ResetURLBase string
	BcryptCost   int
	SuperAdmins  []string

	StoreTimeout time.Duration
	MailTimeout  time.Duration

	SMTP    SMTPConfig
	Redis   RedisConfig
	Limiter LimiterConfig
	HTTP    HTTPConfig
}

// SMTPConfig contains mail relay parameters. An empty Host disables mail.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
}

// RedisConfig contains Redis connection parameters. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LimiterConfig controls login lockout.
type LimiterConfig struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// HTTPConfig contains HTTP boundary settings.
type HTTPConfig struct {
	CORSOrigins     []string
	AuthRatePerMin  int
	TrustProxy      bool
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables. Files in envFiles
// (default ".env") are loaded first when present; real environment
// variables take precedence over file values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Addr:         getEnv("HTTP_ADDR", ":8080"),
		Env:          getEnv("ENV", "production"),
		TLSCert:      getEnv("TLS_CERT", ""),
		TLSKey:       getEnv("TLS_KEY", ""),
		DSN:          getEnv("DATABASE_URL", ""),
		MongoDB:      getEnv("MONGO_DB", "backoffice"),
		DBMaxConns:   int32(getEnvInt("DB_MAX_CONNS", 10)),
		JWTKey:       getEnv("JWT_SECRET", ""),
		ResetURLBase: getEnv("RESET_URL_BASE", "http://localhost:3000/admin/reset-password"),
		BcryptCost:   getEnvInt("BCRYPT_COST", 10),
		SuperAdmins:  splitList(getEnv("SUPERADMIN_EMAILS", "")),
	}

	cfg.SMTP = SMTPConfig{
		Host:     getEnv("SMTP_HOST", ""),
		Port:     getEnvInt("SMTP_PORT", 587),
		Username: getEnv("SMTP_USER", ""),
		Password: getEnv("SMTP_PASSWORD", ""),
		From:     getEnv("SMTP_FROM", "noreply@localhost"),
		StartTLS: getEnvBool("SMTP_STARTTLS", true),
	}

	cfg.Redis = RedisConfig{
		Addr:     getEnv("REDIS_ADDR", ""),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	cfg.Limiter.MaxFails = getEnvInt("LOGIN_MAX_FAILS", 5)
	cfg.HTTP.CORSOrigins = splitList(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	cfg.HTTP.AuthRatePerMin = getEnvInt("AUTH_RATE_PER_MIN", 20)
	cfg.HTTP.TrustProxy = getEnvBool("TRUST_PROXY", false)

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"SESSION_TTL", "1h", &cfg.AccessTTL},
		{"RESET_TTL", "10m", &cfg.ResetTTL},
		{"STORE_TIMEOUT", "5s", &cfg.StoreTimeout},
		{"MAIL_TIMEOUT", "10s", &cfg.MailTimeout},
		{"LOGIN_WINDOW", "15m", &cfg.Limiter.Window},
		{"LOGIN_BLOCK", "15m", &cfg.Limiter.BlockFor},
		{"SHUTDOWN_TIMEOUT", "10s", &cfg.HTTP.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := parseDurationEnv(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// Validate checks settings that may also have been overridden by flags.
func (c *Config) Validate() error {
	if c.JWTKey == "" {
		return errors.New("JWT_SECRET must be set for authentication")
	}
	if c.DSN == "" {
		return errors.New("DATABASE_URL must be set")
	}
	if _, err := c.Backend(); err != nil {
		return err
	}
	if c.AccessTTL <= 0 || c.ResetTTL <= 0 {
		return errors.New("SESSION_TTL and RESET_TTL must be positive")
	}
	if c.StoreTimeout <= 0 || c.MailTimeout <= 0 {
		return errors.New("STORE_TIMEOUT and MAIL_TIMEOUT must be positive")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("TLS_CERT and TLS_KEY must be set together")
	}
	if c.Limiter.MaxFails <= 0 {
		return errors.New("LOGIN_MAX_FAILS must be positive")
	}
	return nil
}

// Warnings lists non-fatal configuration problems worth logging.
func (c *Config) Warnings() []string {
	var w []string
	if len(c.JWTKey) < 32 {
		w = append(w, "JWT_SECRET is shorter than 32 bytes")
	}
	if c.SMTP.Host == "" {
		w = append(w, "SMTP_HOST is empty; password reset mails are disabled")
	}
	if b, _ := c.Backend(); b == BackendMemory && !c.Development() {
		w = append(w, "memory store outside development; accounts are lost on restart")
	}
	if len(c.SuperAdmins) == 0 {
		w = append(w, "SUPERADMIN_EMAILS is empty; no account can manage roles")
	}
	return w
}

// Backend returns the store kind selected by the DSN scheme.
func (c *Config) Backend() (string, error) {
	u, err := url.Parse(c.DSN)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		return BackendPostgres, nil
	case "mongodb", "mongodb+srv":
		return BackendMongo, nil
	case "memory":
		return BackendMemory, nil
	default:
		return "", fmt.Errorf("unsupported DATABASE_URL scheme %q", u.Scheme)
	}
}

// Development reports whether ENV selects development mode.
func (c *Config) Development() bool { return c.Env == "development" }

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a default if empty/invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// parseDurationEnv reads an environment variable and parses it as time.Duration.
// If the variable is empty, it falls back to the provided default value.
func parseDurationEnv(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
