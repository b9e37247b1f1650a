package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	retryWait = time.Millisecond
}

func TestWithKeyRotationRotatesOnRateLimit(t *testing.T) {
	var calls []string
	result, err := WithKeyRotation(context.Background(), []string{"k1", "k2"}, func(ctx context.Context, key string) (string, error) {
		calls = append(calls, key)
		if key == "k1" {
			return "", errors.New("Error 429, RESOURCE_EXHAUSTED")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, []string{"k1", "k1", "k1", "k2"}, calls)
}

func TestWithKeyRotationStopsOnOtherErrors(t *testing.T) {
	calls := 0
	_, err := WithKeyRotation(context.Background(), []string{"k1", "k2"}, func(ctx context.Context, key string) (int, error) {
		calls++
		return 0, errors.New("invalid argument")
	})
	assert.EqualError(t, err, "invalid argument")
	assert.Equal(t, 1, calls)
}

func TestWithKeyRotationExhausted(t *testing.T) {
	_, err := WithKeyRotation(context.Background(), []string{"k1"}, func(ctx context.Context, key string) (int, error) {
		return 0, errors.New("quota exceeded")
	})
	assert.ErrorContains(t, err, "all 1 API keys exhausted")

	_, err = WithKeyRotation(context.Background(), nil, func(ctx context.Context, key string) (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrNoAPIKeys)
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, IsRateLimitError(errors.New("rate limit exceeded")))
	assert.False(t, IsRateLimitError(errors.New("bad request")))
	assert.False(t, IsRateLimitError(nil))
}
