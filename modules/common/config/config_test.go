package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")
	t.Setenv("SUPABASE_JWT_SECRET", "jwt-secret")
	t.Setenv("RUNWARE_API_KEY", "runware-key")
}

func TestReadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Read()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "flux", cfg.DefaultImageProvider)
	assert.Equal(t, "localhost:6379", cfg.GetRedisAddr())
	assert.Equal(t, 1500*time.Millisecond, cfg.GeminiStaggerDelay())
	assert.False(t, cfg.GeminiAvailable())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestReadMissingSupabase(t *testing.T) {
	setRequired(t)
	t.Setenv("SUPABASE_URL", "")

	_, err := Read()
	assert.ErrorContains(t, err, "SUPABASE_URL")
}

func TestGeminiKeysDeduplicated(t *testing.T) {
	setRequired(t)
	t.Setenv("GEMINI_API_KEY", "key-a")
	t.Setenv("GEMINI_API_KEYS", "key-b, key-a,,key-c")

	cfg, err := Read()
	require.NoError(t, err)

	assert.Equal(t, []string{"key-a", "key-b", "key-c"}, cfg.GeminiKeys())
	assert.True(t, cfg.GeminiAvailable())
}
