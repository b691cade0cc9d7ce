package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

type PaymentConfig struct {
	PublicKey  string
	PrivateKey string
	// SandboxMode accepts the provider's test-mode callback status; keep it
	// off in production so a sandbox callback cannot mark a real order paid.
	SandboxMode bool
}

type EmailConfig struct {
	APIKey       string
	APIBaseURL   string
	FromAddress  string
	OwnerAddress string
}

type AdminConfig struct {
	User         string
	PasswordHash string
}

type Config struct {
	App struct {
		Port string
	}
	Postgres PostgresConfig
	Payment  PaymentConfig
	Email    EmailConfig
	Admin    AdminConfig
	SiteURL  string
}

// Load reads configuration from the environment, optionally preloading a
// .env file. Every required variable is checked here so a misconfigured
// deployment fails at startup rather than on the first payment.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}
	getDefault := func(key, def string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return def
	}

	cfg.App.Port = getDefault("APP_PORT", "8080")

	cfg.Postgres.Host = get("DB_HOST")
	cfg.Postgres.Port = getDefault("DB_PORT", "5432")
	cfg.Postgres.User = get("DB_USER")
	cfg.Postgres.Password = get("DB_PASSWORD")
	cfg.Postgres.DBName = get("DB_NAME")
	cfg.Postgres.SSLMode = getDefault("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = getDefault("DB_MIGRATIONS_PATH", "migrations")
	cfg.Postgres.MaxConns = int32(intDefault("DB_MAX_CONNS", 10))
	cfg.Postgres.MinConns = int32(intDefault("DB_MIN_CONNS", 2))
	cfg.Postgres.MaxConnLifetime = durationDefault("DB_MAX_CONN_LIFETIME", 30*time.Minute)

	cfg.Payment.PublicKey = get("LIQPAY_PUBLIC_KEY")
	cfg.Payment.PrivateKey = get("LIQPAY_PRIVATE_KEY")
	cfg.Payment.SandboxMode = boolDefault("LIQPAY_SANDBOX_MODE", false)

	cfg.Email.APIKey = get("EMAIL_API_KEY")
	cfg.Email.APIBaseURL = getDefault("EMAIL_API_BASE_URL", "https://api.resend.com")
	cfg.Email.FromAddress = get("EMAIL_FROM_ADDRESS")
	cfg.Email.OwnerAddress = get("EMAIL_OWNER_ADDRESS")

	cfg.Admin.User = get("ADMIN_USER")
	cfg.Admin.PasswordHash = get("ADMIN_PASSWORD_HASH")

	cfg.SiteURL = strings.TrimRight(get("SITE_BASE_URL"), "/")

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func intDefault(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func boolDefault(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func durationDefault(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}
