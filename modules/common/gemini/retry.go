package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ErrNoAPIKeys - no Gemini key configured
var ErrNoAPIKeys = errors.New("no API keys provided")

const maxRetriesPerKey = 3

// retryWait - pause between 429 retries on the same key
var retryWait = 2 * time.Second

// GenerateContentWithRetry - GenerateContent that rotates through apiKeys on 429
func GenerateContentWithRetry(
	ctx context.Context,
	apiKeys []string,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	return WithKeyRotation(ctx, apiKeys, func(ctx context.Context, apiKey string) (*genai.GenerateContentResponse, error) {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create genai client: %w", err)
		}
		return client.Models.GenerateContent(ctx, model, contents, config)
	})
}

// WithKeyRotation - run call with each key, up to 3 attempts per key on rate limiting
// Any non-429 error is returned immediately.
func WithKeyRotation[T any](ctx context.Context, apiKeys []string, call func(ctx context.Context, apiKey string) (T, error)) (T, error) {
	var zero T
	if len(apiKeys) == 0 {
		return zero, ErrNoAPIKeys
	}

	var lastErr error
	for keyIndex, apiKey := range apiKeys {
		for attempt := 1; attempt <= maxRetriesPerKey; attempt++ {
			result, err := call(ctx, apiKey)
			if err == nil {
				if keyIndex > 0 || attempt > 1 {
					log.Info().Msgf("✅ [Gemini Retry] Success with API key #%d (attempt %d/%d)", keyIndex+1, attempt, maxRetriesPerKey)
				}
				return result, nil
			}
			lastErr = err

			if !IsRateLimitError(err) {
				return zero, err
			}
			log.Warn().Msgf("⚠️  [Gemini Retry] Key #%d hit rate limit (429) on attempt %d/%d", keyIndex+1, attempt, maxRetriesPerKey)

			if attempt < maxRetriesPerKey {
				select {
				case <-ctx.Done():
					return zero, ctx.Err()
				case <-time.After(retryWait):
				}
			}
		}
		log.Warn().Msgf("⚠️  [Gemini Retry] Key #%d exhausted all %d attempts, trying next key...", keyIndex+1, maxRetriesPerKey)
	}

	return zero, fmt.Errorf("all %d API keys exhausted (%d attempts each), last error: %w", len(apiKeys), maxRetriesPerKey, lastErr)
}

// IsRateLimitError - 429 / quota errors from the Gemini API
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "resource_exhausted")
}
