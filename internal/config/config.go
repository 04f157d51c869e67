package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the API process reads from the environment.
// Durations are expressed in minutes to match the token payloads, which
// carry total lifetimes in milliseconds.
type Config struct {
	Addr        string `env:"GATEHOUSE_ADDR" envDefault:":8080"`
	Environment string `env:"GATEHOUSE_ENV" envDefault:"development"`
	DatabaseURL string `env:"GATEHOUSE_PG_DSN"`

	CookieDomain string `env:"GATEHOUSE_COOKIE_DOMAIN"`

	AccessTokenSecret       string `env:"GATEHOUSE_ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret      string `env:"GATEHOUSE_REFRESH_TOKEN_SECRET"`
	AccessTokenMinutes      int    `env:"GATEHOUSE_ACCESS_TOKEN_MINUTES" envDefault:"60"`
	RefreshTokenMinutes     int    `env:"GATEHOUSE_REFRESH_TOKEN_MINUTES" envDefault:"10080"`
	RefreshTokenLongMinutes int    `env:"GATEHOUSE_REFRESH_TOKEN_LONG_MINUTES" envDefault:"43200"`

	OtpMinutes        int `env:"GATEHOUSE_OTP_MINUTES" envDefault:"5"`
	OtpMaxAttempts    int `env:"GATEHOUSE_OTP_MAX_ATTEMPTS" envDefault:"3"`
	OtpLockMinutes    int `env:"GATEHOUSE_OTP_LOCK_MINUTES" envDefault:"15"`
	ResetTokenMinutes int `env:"GATEHOUSE_RESET_TOKEN_MINUTES" envDefault:"15"`

	MailHost     string `env:"GATEHOUSE_MAIL_HOST"`
	MailPort     int    `env:"GATEHOUSE_MAIL_PORT" envDefault:"587"`
	MailUser     string `env:"GATEHOUSE_MAIL_USER"`
	MailPassword string `env:"GATEHOUSE_MAIL_PASSWORD"`
	MailSender   string `env:"GATEHOUSE_MAIL_SENDER" envDefault:"no-reply@gatehouse.org"`

	RateLimitRPS   float64 `env:"GATEHOUSE_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"GATEHOUSE_RATE_LIMIT_BURST" envDefault:"100"`

	// Bootstrap admin, created at startup when absent. Both must be set.
	AdminEmail    string `env:"GATEHOUSE_ADMIN_EMAIL"`
	AdminPassword string `env:"GATEHOUSE_ADMIN_PASSWORD"`
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Secure reports whether auth cookies must carry the Secure attribute.
// Local development runs over plain HTTP, everything else does not.
func (c Config) Secure() bool {
	switch strings.ToLower(c.Environment) {
	case "development", "dev", "test", "":
		return false
	}
	return true
}

// MailConfigured reports whether an SMTP relay is set up. Without one the
// service logs OTP deliveries instead of sending them.
func (c Config) MailConfigured() bool {
	return c.MailHost != ""
}
