package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdk "github.com/maintdesk/maintdesk/sdk/go"
)

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(Prefix+"_"+k, v)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, s *Settings)
		wantErr bool
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, "http://localhost:8000/api/v1", s.BaseURL)
				assert.Equal(t, 30*time.Second, s.RequestTimeout)
				assert.Equal(t, 2, s.MaxRetries)
				assert.Equal(t, time.Second, s.RetryDelay)
				assert.Equal(t, time.Minute, s.ExpiryBuffer)
				assert.Equal(t, 5*time.Minute, s.CacheTTL)
				assert.Equal(t, 100, s.CacheMaxSize)
				assert.Equal(t, 5, s.MaxReconnectAttempts)
				assert.False(t, s.HasCredentials())
			},
		},
		{
			name: "custom values",
			envVars: map[string]string{
				"BASE_URL":        "https://maint.example.com/api/v1",
				"USERNAME":        "tech",
				"PASSWORD":        "secret",
				"REQUEST_TIMEOUT": "5s",
				"MAX_RETRIES":     "0",
				"CACHE_DISABLED":  "true",
				"LOG_LEVEL":       "debug",
			},
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, "https://maint.example.com/api/v1", s.BaseURL)
				assert.Equal(t, 5*time.Second, s.RequestTimeout)
				assert.Equal(t, 0, s.MaxRetries)
				assert.True(t, s.CacheDisabled)
				assert.True(t, s.HasCredentials())
			},
		},
		{
			name:    "bad duration",
			envVars: map[string]string{"REQUEST_TIMEOUT": "soon"},
			wantErr: true,
		},
		{
			name:    "username without password",
			envVars: map[string]string{"USERNAME": "tech"},
			wantErr: true,
		},
		{
			name:    "unknown log level",
			envVars: map[string]string{"LOG_LEVEL": "loud"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			setEnv(t, tt.envVars)
			got, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "maintdesk.env")
	require.NoError(t, os.WriteFile(path, []byte("MAINTDESK_CACHE_MAX_SIZE=7\nMAINTDESK_CSRF_TOKEN=from-file\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("MAINTDESK_CACHE_MAX_SIZE")
	})
	// Already-set variables win over the file.
	t.Setenv("MAINTDESK_CSRF_TOKEN", "from-env")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, s.CacheMaxSize)
	assert.Equal(t, "from-env", s.CSRFToken)
}

func TestLoadMissingEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.Error(t, err)
}

func TestSDKConfig(t *testing.T) {
	s := &Settings{
		BaseURL:              "https://maint.example.com/api/v1",
		RequestTimeout:       10 * time.Second,
		MaxRetries:           1,
		RetryDelay:           500 * time.Millisecond,
		ExpiryBuffer:         30 * time.Second,
		CacheTTL:             time.Minute,
		CacheMaxSize:         10,
		CSRFToken:            "pinned",
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 3,
		LogLevel:             "warn",
	}
	cfg := s.SDKConfig(nil)
	assert.Equal(t, s.BaseURL, cfg.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, &sdk.RetryConfig{MaxRetries: 1, BaseDelay: 500 * time.Millisecond}, cfg.Retry)
	assert.Equal(t, sdk.CacheConfig{TTL: time.Minute, MaxSize: 10}, cfg.Cache)
	assert.Equal(t, sdk.RealtimeConfig{ReconnectDelay: 2 * time.Second, MaxReconnectAttempts: 3}, cfg.Realtime)
	assert.Equal(t, sdk.StaticCSRF("pinned"), cfg.CSRF)

	client, err := sdk.NewClient(cfg)
	require.NoError(t, err)
	client.Close()
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	s := &Settings{LogLevel: "warn"}
	logger := s.Logger(&buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
