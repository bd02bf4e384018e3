// Package config loads SDK settings from the environment and optional .env
// files.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	sdk "github.com/maintdesk/maintdesk/sdk/go"
)

// Prefix is prepended to every variable name, e.g. MAINTDESK_BASE_URL.
const Prefix = "MAINTDESK"

// Settings holds everything a process needs to build an sdk.Client. Field
// names map to MAINTDESK_ plus the upper snake case name, e.g.
// RequestTimeout is MAINTDESK_REQUEST_TIMEOUT. There is no fallback to
// unprefixed names.
type Settings struct {
	BaseURL string `split_words:"true" default:"http://localhost:8000/api/v1"`

	// Either credentials for SignIn or a stored token pair for SetSession.
	Username     string `split_words:"true"`
	Password     string `split_words:"true"`
	AccessToken  string `split_words:"true"`
	RefreshToken string `split_words:"true"`

	RequestTimeout time.Duration `split_words:"true" default:"30s"`
	MaxRetries     int           `split_words:"true" default:"2"`
	RetryDelay     time.Duration `split_words:"true" default:"1s"`
	ExpiryBuffer   time.Duration `split_words:"true" default:"60s"`

	CacheDisabled bool          `split_words:"true" default:"false"`
	CacheTTL      time.Duration `split_words:"true" default:"5m"`
	CacheMaxSize  int           `split_words:"true" default:"100"`

	// CSRFToken pins the anti-forgery token; empty fetches it from the API.
	CSRFToken string `split_words:"true"`

	ReconnectDelay       time.Duration `split_words:"true" default:"1s"`
	MaxReconnectAttempts int           `split_words:"true" default:"5"`

	LogLevel string `split_words:"true" default:"info"`
}

// Load reads .env files (".env" when none are named and it exists), then
// the process environment. Variables already set in the environment win
// over file values.
func Load(envFiles ...string) (*Settings, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return nil, err
	}
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func loadDotEnv(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: load env file: %w", err)
	}
	return nil
}

// Validate rejects settings NewClient would silently replace.
func (s *Settings) Validate() error {
	var errs []error
	if s.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if s.MaxRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRIES must not be negative"))
	}
	if s.CacheMaxSize <= 0 {
		errs = append(errs, errors.New("CACHE_MAX_SIZE must be positive"))
	}
	if s.MaxReconnectAttempts <= 0 {
		errs = append(errs, errors.New("MAX_RECONNECT_ATTEMPTS must be positive"))
	}
	if (s.Username == "") != (s.Password == "") {
		errs = append(errs, errors.New("USERNAME and PASSWORD must be set together"))
	}
	if _, err := zerolog.ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// HasCredentials reports whether SignIn can be called with these settings.
func (s *Settings) HasCredentials() bool {
	return s.Username != "" && s.Password != ""
}

// HasSession reports whether a stored token pair is available.
func (s *Settings) HasSession() bool {
	return s.AccessToken != ""
}

// Logger builds a zerolog logger at the configured level.
func (s *Settings) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// SDKConfig maps the settings onto sdk.Config. logger may be nil.
func (s *Settings) SDKConfig(logger *zerolog.Logger) sdk.Config {
	cfg := sdk.Config{
		BaseURL:      s.BaseURL,
		Timeout:      s.RequestTimeout,
		Retry:        &sdk.RetryConfig{MaxRetries: s.MaxRetries, BaseDelay: s.RetryDelay},
		ExpiryBuffer: s.ExpiryBuffer,
		Cache: sdk.CacheConfig{
			Disabled: s.CacheDisabled,
			TTL:      s.CacheTTL,
			MaxSize:  s.CacheMaxSize,
		},
		Realtime: sdk.RealtimeConfig{
			ReconnectDelay:       s.ReconnectDelay,
			MaxReconnectAttempts: s.MaxReconnectAttempts,
		},
		Logger: logger,
	}
	if s.CSRFToken != "" {
		cfg.CSRF = sdk.StaticCSRF(s.CSRFToken)
	}
	return cfg
}
