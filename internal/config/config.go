package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type SessionBackend string

const (
	SessionBackendRedis  SessionBackend = "redis"
	SessionBackendMemory SessionBackend = "memory"
)

type Config struct {
	Port         int            `env:"PORT" envDefault:"8080"`
	DatabaseURL  string         `env:"DATABASE_URL,required"`
	RedisURL     string         `env:"REDIS_URL,required"`
	LogLevel     string         `env:"LOG_LEVEL" envDefault:"info"`
	SessionStore SessionBackend `env:"SESSION_STORE" envDefault:"redis"`

	SessionTTLSeconds int `env:"SESSION_TTL_SECONDS" envDefault:"300"`
	SessionMaxEntries int `env:"SESSION_MAX_ENTRIES" envDefault:"10000"`

	IssuerAPIBase   string `env:"ISSUER_API_BASE" envDefault:"https://issuer-sandbox.wallet.gov.tw"`
	IssuerAPIKey    string `env:"ISSUER_API_KEY"`
	VerifierAPIBase string `env:"VERIFIER_API_BASE" envDefault:"https://verifier-sandbox.wallet.gov.tw"`
	VerifierAPIKey  string `env:"VERIFIER_API_KEY"`
	IssuerVCUID     string `env:"ISSUER_VC_UID" envDefault:"00000000_subsidy_666"`

	IssuerOrganization   string `env:"ISSUER_ORGANIZATION" envDefault:"Disaster Relief Center"`
	VerifierOrganization string `env:"VERIFIER_ORGANIZATION" envDefault:"Relief Kiosk Network"`
	VerifierServiceRef   string `env:"VERIFIER_SERVICE_REF" envDefault:"00000000_subsidy_667"`

	CredentialValidityDays  int `env:"CREDENTIAL_VALIDITY_DAYS" envDefault:"365"`
	AuthorityTimeoutSeconds int `env:"AUTHORITY_TIMEOUT_SECONDS" envDefault:"30"`
	AuthorityRetryMax       int `env:"AUTHORITY_RETRY_MAX" envDefault:"2"`

	SubsidyCredentialTypes  []string `env:"SUBSIDY_CREDENTIAL_TYPES" envSeparator:"," envDefault:"00000000_subsidy_666,00000000_subsidy_667"`
	IdentityCredentialTypes []string `env:"IDENTITY_CREDENTIAL_TYPES" envSeparator:","`
	PropertyCredentialTypes []string `env:"PROPERTY_CREDENTIAL_TYPES" envSeparator:","`

	AdminPasswordHash    string `env:"ADMIN_PASSWORD_HASH"`
	KioskRateLimitPerMin int    `env:"KIOSK_RATE_LIMIT_PER_MIN" envDefault:"30"`
	LoginCallbackURL     string `env:"LOGIN_CALLBACK_URL" envDefault:"http://localhost:8080/v1/sessions"`
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) AuthorityTimeout() time.Duration {
	return time.Duration(c.AuthorityTimeoutSeconds) * time.Second
}

func (c *Config) CredentialValidity() time.Duration {
	return time.Duration(c.CredentialValidityDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// IssuerMock reports whether issuer calls will be served by the local mock.
func (c *Config) IssuerMock() bool {
	return c.IssuerAPIBase == "" || c.IssuerAPIKey == ""
}

// VerifierMock reports whether verifier calls will be served by the local mock.
func (c *Config) VerifierMock() bool {
	return c.VerifierAPIBase == "" || c.VerifierAPIKey == ""
}

func (c *Config) Validate(isProduction bool) error {
	if c.AdminPasswordHash != "" {
		if !strings.HasPrefix(c.AdminPasswordHash, "$2a$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2b$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2y$") {
			return fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <password>)")
		}
	}

	switch c.SessionStore {
	case SessionBackendRedis, SessionBackendMemory:
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", SessionBackendRedis, SessionBackendMemory, c.SessionStore)
	}

	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS must be positive")
	}
	if c.AuthorityTimeoutSeconds <= 0 {
		return fmt.Errorf("AUTHORITY_TIMEOUT_SECONDS must be positive")
	}
	if c.CredentialValidityDays <= 0 {
		return fmt.Errorf("CREDENTIAL_VALIDITY_DAYS must be positive")
	}

	if isProduction {
		if c.AdminPasswordHash == "" {
			return fmt.Errorf("ADMIN_PASSWORD_HASH is required in production")
		}
		if c.IssuerMock() {
			log.Warn().Msg("ISSUER_API_KEY is empty in production: credentials will be issued by the local mock")
		}
		if c.VerifierMock() {
			log.Warn().Msg("VERIFIER_API_KEY is empty in production: presentations will be resolved by the local mock")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
