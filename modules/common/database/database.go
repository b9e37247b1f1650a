package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/supabase-go"

	"storyme-server/modules/common/config"
	"storyme-server/modules/common/model"
)

const (
	tableUserProfiles = "user_profiles"
	tableAPIUsageLogs = "api_usage_logs"
)

type Client struct {
	supabase *supabase.Client
}

// NewClient - Database 클라이언트 생성
func NewClient(cfg *config.Config) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &Client{supabase: supabaseClient}, nil
}

// FetchSubscriptionTier - user_profiles.subscription_tier, "" when the profile is missing
func (c *Client) FetchSubscriptionTier(ctx context.Context, userID string) (string, error) {
	var profiles []struct {
		SubscriptionTier *string `json:"subscription_tier"`
	}

	data, _, err := c.supabase.From(tableUserProfiles).
		Select("subscription_tier", "", false).
		Eq("id", userID).
		Execute()
	if err != nil {
		return "", fmt.Errorf("failed to query Supabase: %w", err)
	}
	if err := json.Unmarshal(data, &profiles); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(profiles) == 0 || profiles[0].SubscriptionTier == nil {
		return "", nil
	}
	return *profiles[0].SubscriptionTier, nil
}

// InsertUsageLog - one api_usage_logs row
func (c *Client) InsertUsageLog(ctx context.Context, entry model.UsageEntry) error {
	row := map[string]interface{}{
		"user_id":          entry.UserID,
		"endpoint":         entry.Endpoint,
		"method":           entry.Method,
		"status_code":      entry.StatusCode,
		"response_time_ms": entry.ResponseTimeMs,
		"images_generated": entry.ImagesGenerated,
	}
	if entry.ErrorMessage != "" {
		row["error_message"] = entry.ErrorMessage
	}

	_, _, err := c.supabase.From(tableAPIUsageLogs).
		Insert(row, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert usage log: %w", err)
	}

	log.Debug().Str("user", entry.UserID).Str("endpoint", entry.Endpoint).Int("status", entry.StatusCode).Msg("📝 Usage logged")
	return nil
}
