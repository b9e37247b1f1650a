package characteranalysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"storyme-server/modules/common/config"
)

const systemPrompt = `You describe the appearance of a person or character in a photo so an illustrator can draw them in a children's book.
Answer with a JSON object with exactly these string fields:
"hairColor" (color and style, e.g. "curly dark brown"),
"skinTone" (e.g. "light", "olive", "deep brown"),
"clothing" (what they are wearing),
"age" (approximate age in years as digits, or a short phrase such as "toddler"),
"otherFeatures" (glasses, freckles, accessories; empty string if none).
Never guess identity, ethnicity or names. Use an empty string for anything you cannot see.`

// ErrEmptyAnalysis - the model returned no usable content
var ErrEmptyAnalysis = errors.New("empty analysis from vision model")

// Analysis - description fields used to prefill a character
type Analysis struct {
	HairColor     string `json:"hairColor"`
	SkinTone      string `json:"skinTone"`
	Clothing      string `json:"clothing"`
	Age           string `json:"age"`
	OtherFeatures string `json:"otherFeatures"`
}

type Service struct {
	client *openai.Client
	model  string
}

// NewService - nil when OPENAI_API_KEY is not configured
func NewService(cfg *config.Config) *Service {
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("⚠️ [CharacterAnalysis] OPENAI_API_KEY not configured")
		return nil
	}
	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}
	log.Info().Str("model", cfg.OpenAIVisionModel).Msg("✅ [CharacterAnalysis] Service initialized")
	return &Service{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.OpenAIVisionModel,
	}
}

// Analyze - extract appearance fields from a character photo (http(s) or data URL)
func (s *Service) Analyze(ctx context.Context, imageURL string) (*Analysis, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Describe this character."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    imageURL,
						Detail: openai.ImageURLDetailLow,
					}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		MaxTokens:      300,
		Temperature:    0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyAnalysis
	}

	var a Analysis
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Choices[0].Message.Content)), &a); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	a.HairColor = strings.TrimSpace(a.HairColor)
	a.SkinTone = strings.TrimSpace(a.SkinTone)
	a.Clothing = strings.TrimSpace(a.Clothing)
	a.Age = strings.TrimSpace(a.Age)
	a.OtherFeatures = strings.TrimSpace(a.OtherFeatures)
	return &a, nil
}

// stripCodeFence - some models wrap JSON in ```json fences despite the response format
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
