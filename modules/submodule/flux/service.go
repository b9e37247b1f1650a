package flux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"storyme-server/modules/common/config"
	"storyme-server/modules/common/utils"
	"storyme-server/modules/provider"
)

const (
	defaultWidth  = 1024
	defaultHeight = 768
	defaultSteps  = 28

	negativePrompt = "text, watermark, signature, blurry, deformed hands, extra limbs, scary, violent"
)

// ErrNoImage - Runware answered without an image URL
var ErrNoImage = errors.New("no image generated from Runware")

type Service struct {
	httpClient *http.Client
	apiKey     string
	apiURL     string
	modelID    string
}

// NewService - nil when RUNWARE_API_KEY is not configured
func NewService(cfg *config.Config) *Service {
	if cfg.RunwareAPIKey == "" {
		log.Warn().Msg("⚠️ [Flux] RUNWARE_API_KEY not configured")
		return nil
	}

	log.Info().Str("model", cfg.FluxModelID).Msg("✅ [Flux] Service initialized")
	return &Service{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     cfg.RunwareAPIKey,
		apiURL:     cfg.RunwareAPIURL,
		modelID:    cfg.FluxModelID,
	}
}

// Generate - one scene through Runware imageInference
func (s *Service) Generate(ctx context.Context, in provider.GenerationInput) (*provider.GenerationOutput, error) {
	start := time.Now()
	prompt := BuildPrompt(in)

	req := RunwareRequest{
		TaskType:       "imageInference",
		TaskUUID:       uuid.New().String(),
		PositivePrompt: prompt,
		NegativePrompt: negativePrompt,
		Model:          s.modelID,
		Width:          defaultWidth,
		Height:         defaultHeight,
		NumberResults:  1,
		OutputFormat:   "PNG",
		Steps:          defaultSteps,
		CFGScale:       3.5,
		Seed:           in.Seed,
	}
	for _, c := range in.Characters {
		if c.ReferenceImageURL != "" {
			req.ReferenceImages = []string{c.ReferenceImageURL}
			break
		}
	}

	log.Info().
		Int("scene", in.SceneNumber).
		Int("characters", len(in.Characters)).
		Bool("reference", len(req.ReferenceImages) > 0).
		Msgf("🎨 [Flux] Generating - prompt: %s", utils.Truncate(prompt, 60))

	imageURL, err := s.call(ctx, req)
	if err != nil {
		log.Error().Err(err).Int("scene", in.SceneNumber).Msg("❌ [Flux] Generation failed")
		return nil, err
	}

	elapsed := time.Since(start)
	log.Info().Int("scene", in.SceneNumber).Dur("elapsed", elapsed).Msg("✅ [Flux] Image generated")
	return &provider.GenerationOutput{
		ImageURL:       imageURL,
		Prompt:         prompt,
		GenerationTime: elapsed,
	}, nil
}

func (s *Service) call(ctx context.Context, task RunwareRequest) (string, error) {
	jsonBody, err := json.Marshal([]RunwareRequest{task})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("Runware API error: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Runware API error: status=%d, body=%s", resp.StatusCode, utils.Truncate(string(bodyBytes), 200))
	}

	var runwareResp RunwareResponse
	if err := json.Unmarshal(bodyBytes, &runwareResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if runwareResp.Error != "" {
		return "", fmt.Errorf("Runware API error: %s", runwareResp.Error)
	}
	if len(runwareResp.Errors) > 0 {
		return "", fmt.Errorf("Runware API error: %s", runwareResp.Errors[0].Message)
	}
	if len(runwareResp.Data) == 0 || runwareResp.Data[0].ImageURL == "" {
		return "", ErrNoImage
	}
	return runwareResp.Data[0].ImageURL, nil
}

// BuildPrompt - text prompt for the FLUX model; style variants do not apply here
func BuildPrompt(in provider.GenerationInput) string {
	var b strings.Builder

	artStyle := strings.TrimSpace(in.ArtStyle)
	if artStyle == "" {
		artStyle = "children's storybook illustration, soft colors, friendly characters"
	}
	b.WriteString(artStyle)
	b.WriteString(". ")

	if in.IsCover {
		b.WriteString("Book cover illustration. ")
	}
	b.WriteString(strings.TrimSpace(in.SceneDescription))
	if !strings.HasSuffix(b.String(), ".") {
		b.WriteString(".")
	}

	if in.Setting != "" {
		b.WriteString(" Setting: ")
		b.WriteString(in.Setting)
		b.WriteString(".")
	}

	for _, c := range in.Characters {
		b.WriteString(" ")
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(" (")
			b.WriteString(c.Description)
			b.WriteString(")")
		}
		if outfit := in.OutfitFor(c.Name); outfit != "" && !strings.Contains(c.Description, outfit) {
			b.WriteString(", wearing ")
			b.WriteString(outfit)
		}
		b.WriteString(".")
	}
	return b.String()
}
