// Package config reads the service settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Mail holds the outbound email settings. Mailgun is used when a domain and
// key are set, SMTP otherwise.
type Mail struct {
	MailgunDomain string `env:"MAILGUN_DOMAIN"`
	MailgunKey    string `env:"MAILGUN_PRIVATE_KEY"`
	From          string `env:"MAIL_FROM" envDefault:"payments@archpay.local"`
	SMTPHost      string `env:"SMTP_HOST"`
	SMTPPort      int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser      string `env:"SMTP_USER"`
	SMTPPass      string `env:"SMTP_PASS"`
}

// Config is the process configuration
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	MongoURI string `env:"MONGO_URI,required,notEmpty"`
	MongoDB  string `env:"MONGO_DB" envDefault:"archpay"`
	Secret   string `env:"SECRET,required,notEmpty"`

	// FrontendURL is where buyers land after the hosted payment page
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	// PublicURL is the externally reachable base of this API, used to build
	// provider callback urls
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`

	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
	RedisURL       string        `env:"REDIS_URL"`

	// TrustedProxies are the CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For and X-Real-IP headers are believed
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	ServiceAccountKeyPath string `env:"SERVICE_ACCOUNT_KEY_PATH"`

	Mail Mail
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load returns the Config of the current environment
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	return cfg, nil
}

// CallbackBase is the public base of the provider callback routes
func (c Config) CallbackBase() string {
	return strings.TrimRight(c.PublicURL, "/") + "/api/v1/callbacks"
}
