package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/inboxsift.db"`

	// Sessions
	SessionSecret string        `env:"SESSION_SECRET,required"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"1h"`
	SessionMaxTTL time.Duration `env:"SESSION_MAX_TTL" envDefault:"1h"`

	// Mailbox provider
	MailAPIBaseURL string `env:"MAIL_API_BASE_URL" envDefault:"https://gmail.googleapis.com/gmail/v1"`
	OAuthTokenURL  string `env:"OAUTH_TOKEN_URL" envDefault:"https://oauth2.googleapis.com/token"`
	OAuthClientID  string `env:"OAUTH_CLIENT_ID"`
	OAuthSecret    string `env:"OAUTH_CLIENT_SECRET"`

	// LLM
	LLMBaseURL string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMAPIKey  string `env:"LLM_API_KEY"`
	LLMModel   string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`

	// Remote call behavior
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	RetryBackoff time.Duration `env:"RETRY_BACKOFF" envDefault:"500ms"`

	// Processing
	MaxConcurrentAnalysis int `env:"MAX_CONCURRENT_ANALYSIS" envDefault:"5"`
	QueueWorkers          int `env:"QUEUE_WORKERS" envDefault:"2"`

	// Credentials survive restart when enabled
	CredentialMirror bool `env:"CREDENTIAL_MIRROR" envDefault:"true"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// HMAC secret needs real entropy, refuse short keys
	if len(cfg.SessionSecret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 bytes, got %d", len(cfg.SessionSecret))
	}

	if cfg.SessionTTL > cfg.SessionMaxTTL {
		cfg.SessionTTL = cfg.SessionMaxTTL
	}

	if cfg.MaxConcurrentAnalysis < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_ANALYSIS must be positive, got %d", cfg.MaxConcurrentAnalysis)
	}

	return cfg, nil
}
