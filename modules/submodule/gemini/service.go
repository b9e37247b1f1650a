package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"storyme-server/modules/common/config"
	commongemini "storyme-server/modules/common/gemini"
	"storyme-server/modules/common/model"
	"storyme-server/modules/common/utils"
	"storyme-server/modules/provider"
)

const (
	maxReferenceImages = 3
	referenceMaxSide   = 1024
)

// ErrNoImage - Gemini answered without inline image data
var ErrNoImage = errors.New("no image generated from Gemini")

type contentFunc func(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

type Service struct {
	httpClient  *http.Client
	aspectRatio string
	generate    contentFunc
}

// NewService - nil when no Gemini API key is configured
func NewService(cfg *config.Config) *Service {
	keys := cfg.GeminiKeys()
	if len(keys) == 0 {
		log.Warn().Msg("⚠️ [Gemini] GEMINI_API_KEY not configured")
		return nil
	}

	modelName := cfg.GeminiModel
	log.Info().Str("model", modelName).Int("keys", len(keys)).Msg("✅ [Gemini] Service initialized")
	return newService(cfg.GeminiAspectRatio, func(ctx context.Context, contents []*genai.Content, gc *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return commongemini.GenerateContentWithRetry(ctx, keys, modelName, contents, gc)
	})
}

func newService(aspectRatio string, generate contentFunc) *Service {
	if aspectRatio == "" {
		aspectRatio = "4:3"
	}
	return &Service{
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		aspectRatio: aspectRatio,
		generate:    generate,
	}
}

// Generate - one scene with the characters' reference images attached
func (s *Service) Generate(ctx context.Context, in provider.GenerationInput) (*provider.GenerationOutput, error) {
	start := time.Now()

	refs := make([]model.CharacterPrompt, 0, maxReferenceImages)
	for _, c := range in.Characters {
		if c.ReferenceImageURL != "" && len(refs) < maxReferenceImages {
			refs = append(refs, c)
		}
	}

	parts, attached := s.referenceParts(ctx, refs)
	prompt := BuildScenePrompt(in, attached)

	log.Info().
		Int("scene", in.SceneNumber).
		Str("style", string(provider.EffectiveStyle(in.Style, in.SceneNumber))).
		Int("references", len(attached)).
		Msgf("🎨 [Gemini] Generating - prompt: %s", utils.Truncate(in.SceneDescription, 60))

	imageURL, err := s.render(ctx, prompt, parts, s.aspectRatio)
	if err != nil {
		log.Error().Err(err).Int("scene", in.SceneNumber).Msg("❌ [Gemini] Generation failed")
		return nil, err
	}

	elapsed := time.Since(start)
	log.Info().Int("scene", in.SceneNumber).Dur("elapsed", elapsed).Msg("✅ [Gemini] Image generated")
	return &provider.GenerationOutput{
		ImageURL:       imageURL,
		Prompt:         prompt,
		GenerationTime: elapsed,
	}, nil
}

// GeneratePreview - stylized square avatar for one character, returned as a data URL
func (s *Service) GeneratePreview(ctx context.Context, c model.CharacterPrompt, style provider.Style) (*provider.GenerationOutput, error) {
	start := time.Now()

	var refs []model.CharacterPrompt
	if c.ReferenceImageURL != "" {
		refs = append(refs, c)
	}
	parts, attached := s.referenceParts(ctx, refs)
	if len(attached) == 0 {
		c.ReferenceImageURL = ""
	}
	prompt := BuildPreviewPrompt(c, style)

	log.Info().Str("character", c.Name).Str("style", string(style)).Msg("🎨 [Gemini] Generating character preview")
	imageURL, err := s.render(ctx, prompt, parts, "1:1")
	if err != nil {
		return nil, err
	}
	return &provider.GenerationOutput{
		ImageURL:       imageURL,
		Prompt:         prompt,
		GenerationTime: time.Since(start),
	}, nil
}

// referenceParts - download reference images; characters whose image could not be fetched are dropped
func (s *Service) referenceParts(ctx context.Context, refs []model.CharacterPrompt) ([]*genai.Part, []model.CharacterPrompt) {
	var parts []*genai.Part
	var attached []model.CharacterPrompt
	for _, c := range refs {
		data, mimeType, err := utils.DownloadImage(ctx, s.httpClient, c.ReferenceImageURL)
		if err != nil {
			log.Warn().Err(err).Str("character", c.Name).Msg("⚠️ [Gemini] Failed to load reference image, using text only")
			continue
		}
		if resized, err := utils.FitWithin(data, referenceMaxSide); err == nil && !bytes.Equal(resized, data) {
			data, mimeType = resized, "image/png"
		}
		log.Debug().Str("character", c.Name).Int("bytes", len(data)).Msg("📷 [Gemini] Reference image attached")
		parts = append(parts, genai.NewPartFromBytes(data, mimeType))
		attached = append(attached, c)
	}
	return parts, attached
}

func (s *Service) render(ctx context.Context, prompt string, images []*genai.Part, aspectRatio string) (string, error) {
	parts := append([]*genai.Part{genai.NewPartFromText(prompt)}, images...)
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	result, err := s.generate(ctx, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
		ImageConfig: &genai.ImageConfig{
			AspectRatio: aspectRatio,
		},
		Temperature: floatPtr(0.7),
	})
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return extractImage(result)
}

func extractImage(result *genai.GenerateContentResponse) (string, error) {
	if result == nil {
		return "", ErrNoImage
	}
	for _, candidate := range result.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = "image/png"
				}
				return utils.EncodeDataURL(part.InlineData.Data, mimeType), nil
			}
		}
	}
	return "", ErrNoImage
}

func floatPtr(f float64) *float32 {
	f32 := float32(f)
	return &f32
}
