package config

import "time"

// AppConfig holds runtime configuration for the web application.
type AppConfig struct {
	Environment       string
	Addr              string
	DatabaseURL       string
	MigrationsDir     string
	SessionCookieName string
	SessionTTL        time.Duration
	SecureCookies     bool
	SessionRedisAddr  string
	SessionRedisPass  string
	SessionRedisDB    int
	RateLimitSignup   int
	RateLimitLogin    int
	RateLimitWindow   time.Duration
}

// LoadAppConfig constructs an AppConfig from environment variables.
func LoadAppConfig() AppConfig {
	return AppConfig{
		Environment:       GetString("APP_ENV", "development"),
		Addr:              GetString("APP_ADDR", ":4000"),
		DatabaseURL:       GetString("DATABASE_URL", "postgres://todolist:todolist@db:5432/todolist?sslmode=disable"),
		MigrationsDir:     GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		SessionCookieName: GetString("SESSION_COOKIE_NAME", "todolist_session"),
		SessionTTL:        GetDuration("SESSION_TTL", 24*time.Hour),
		SecureCookies:     GetBool("SECURE_COOKIES", false),
		SessionRedisAddr:  GetString("SESSION_REDIS_ADDR", ""),
		SessionRedisPass:  GetString("SESSION_REDIS_PASSWORD", ""),
		SessionRedisDB:    GetInt("SESSION_REDIS_DB", 0),
		RateLimitSignup:   GetInt("RATE_LIMIT_SIGNUP", 5),
		RateLimitLogin:    GetInt("RATE_LIMIT_LOGIN", 12),
		RateLimitWindow:   GetDuration("RATE_LIMIT_WINDOW", time.Minute),
	}
}
