package generateimages

import (
	"storyme-server/modules/common/model"
	"storyme-server/modules/provider"
	"storyme-server/modules/scene"
)

// GenerateRequest - POST /api/generate-images body
type GenerateRequest struct {
	Characters          []model.Character `json:"characters"`
	Script              string            `json:"script"`
	ArtStyle            string            `json:"artStyle,omitempty"`
	ImageProvider       string            `json:"imageProvider,omitempty"`       // flux | gemini
	IllustrationStyle   string            `json:"illustrationStyle,omitempty"`   // pixar | classic | coloring
	ClothingConsistency string            `json:"clothingConsistency,omitempty"` // consistent | scene-based
	CoverMetadata       *CoverMetadata    `json:"coverMetadata,omitempty"`
	SessionID           string            `json:"sessionId,omitempty"` // progress websocket session
}

// CoverMetadata - optional cover page; produces scene 0
type CoverMetadata struct {
	Title       string `json:"title"`
	CoverPrompt string `json:"coverPrompt"`
}

// Response - assembled batch result
type Response struct {
	Success          bool                   `json:"success"`
	GeneratedImages  []model.GeneratedImage `json:"generatedImages"`
	Errors           []string               `json:"errors,omitempty"`
	TotalScenes      int                    `json:"totalScenes"`
	SuccessfulScenes int                    `json:"successfulScenes"`
	Limits           model.Limits           `json:"limits"`
	ImageProvider    provider.Provider      `json:"imageProvider"`
	ProviderFallback bool                   `json:"providerFallback,omitempty"`
}

// ErrorResponse - 400 / 500 body
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RateLimitResponse - 429 body
type RateLimitResponse struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Limits  model.Limits `json:"limits"`
}

// Batch - everything the orchestrator needs for one request; read-only once built
type Batch struct {
	UserID              string
	SessionID           string
	Provider            provider.Provider
	Scenes              []model.Scene
	Characters          []model.CharacterPrompt
	ArtStyle            string
	Style               provider.Style
	ClothingConsistency string
	Settings            scene.SceneSettings
	Outfits             scene.OutfitBook
}

// SceneResult - outcome of one scene
type SceneResult struct {
	Success bool
	Image   model.GeneratedImage
}
