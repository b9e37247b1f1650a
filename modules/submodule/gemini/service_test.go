package gemini

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"storyme-server/modules/common/model"
	"storyme-server/modules/common/utils"
	"storyme-server/modules/provider"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here you go"},
				{InlineData: &genai.Blob{Data: data, MIMEType: "image/png"}},
			}},
		}},
	}
}

func TestGenerateAttachesReferences(t *testing.T) {
	pngData := testPNG(t)
	ref := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	}))
	defer ref.Close()

	var sentParts []*genai.Part
	var sentConfig *genai.GenerateContentConfig
	svc := newService("4:3", func(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		sentParts = contents[0].Parts
		sentConfig = cfg
		return imageResponse([]byte("fake-image")), nil
	})

	out, err := svc.Generate(context.Background(), provider.GenerationInput{
		Characters: []model.CharacterPrompt{
			{Name: "Mira", ReferenceImageURL: ref.URL + "/mira.png"},
			{Name: "Leo", ReferenceImageURL: ref.URL + "/missing.png"},
		},
		SceneDescription: "Mira and Leo build a sandcastle",
		Style:            provider.Classic,
		SceneNumber:      2,
	})
	require.NoError(t, err)

	data, mimeType, err := utils.DecodeDataURL(out.ImageURL)
	require.NoError(t, err)
	assert.Equal(t, "fake-image", string(data))
	assert.Equal(t, "image/png", mimeType)

	require.Len(t, sentParts, 2, "prompt plus one downloadable reference")
	assert.Contains(t, sentParts[0].Text, "image 1 = Mira")
	assert.NotContains(t, sentParts[0].Text, "image 2")
	assert.Contains(t, out.Prompt, "hand-painted")
	assert.Equal(t, "4:3", sentConfig.ImageConfig.AspectRatio)
}

func TestGenerateColoringCoverIsColorful(t *testing.T) {
	var prompt string
	svc := newService("", func(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		prompt = contents[0].Parts[0].Text
		return imageResponse([]byte("x")), nil
	})

	_, err := svc.Generate(context.Background(), provider.GenerationInput{
		SceneDescription: "The Dragon Book",
		Style:            provider.Coloring,
		SceneNumber:      0,
		IsCover:          true,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, StylePrompt(provider.Pixar)))
	assert.Contains(t, prompt, "front cover")

	_, err = svc.Generate(context.Background(), provider.GenerationInput{
		SceneDescription: "The dragon sleeps",
		Style:            provider.Coloring,
		SceneNumber:      1,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, StylePrompt(provider.Coloring)))
}

func TestGenerateErrors(t *testing.T) {
	svc := newService("", func(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	})
	_, err := svc.Generate(context.Background(), provider.GenerationInput{SceneDescription: "x"})
	assert.ErrorIs(t, err, ErrNoImage)

	svc = newService("", func(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return nil, errors.New("safety block")
	})
	_, err = svc.Generate(context.Background(), provider.GenerationInput{SceneDescription: "x"})
	assert.ErrorContains(t, err, "safety block")
}

func TestGeneratePreview(t *testing.T) {
	var cfgSeen *genai.GenerateContentConfig
	svc := newService("4:3", func(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		cfgSeen = cfg
		return imageResponse([]byte("avatar")), nil
	})
	out, err := svc.GeneratePreview(context.Background(), model.CharacterPrompt{Name: "Mira", Description: "6 years old"}, provider.Pixar)
	require.NoError(t, err)
	assert.True(t, utils.IsDataURL(out.ImageURL))
	assert.Equal(t, "1:1", cfgSeen.ImageConfig.AspectRatio)
	assert.Contains(t, out.Prompt, "Full-body character portrait of Mira")
	assert.NotContains(t, out.Prompt, "attached photo")
}
