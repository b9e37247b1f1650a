package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"storyme-server/modules/common/config"
	"storyme-server/modules/common/utils"
)

const webpQuality = 90.0

type Client struct {
	httpClient  *http.Client
	supabaseURL string
	serviceKey  string
	bucket      string
}

// NewClient - Storage 클라이언트 생성
func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		supabaseURL: strings.TrimRight(cfg.SupabaseURL, "/"),
		serviceKey:  cfg.SupabaseServiceKey,
		bucket:      cfg.SupabaseStorageBucket,
	}
}

// UploadDataURL - store an inline data URL image and return its public URL
func (c *Client) UploadDataURL(ctx context.Context, dataURL, userID string) (string, error) {
	imageData, mimeType, err := utils.DecodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	return c.UploadImage(ctx, imageData, mimeType, userID)
}

// UploadImage - WebP-encode (when possible) and upload under generated-images/user-<id>/
func (c *Client) UploadImage(ctx context.Context, imageData []byte, mimeType, userID string) (string, error) {
	ext := extensionFor(mimeType)
	if webpData, err := utils.ConvertToWebP(imageData, webpQuality); err == nil {
		imageData, mimeType, ext = webpData, "image/webp", "webp"
	} else {
		log.Warn().Err(err).Msg("⚠️ [Storage] WebP conversion failed, uploading original")
	}

	filePath := fmt.Sprintf("generated-images/user-%s/%s.%s", userID, uuid.New().String(), ext)
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.supabaseURL, c.bucket, filePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("x-upsert", "false")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, utils.Truncate(string(body), 200))
	}

	log.Info().Str("path", filePath).Int("bytes", len(imageData)).Msg("✅ [Storage] Image uploaded")
	return c.PublicURL(filePath), nil
}

// PublicURL - public object URL for a path in the bucket
func (c *Client) PublicURL(filePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.supabaseURL, c.bucket, filePath)
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
