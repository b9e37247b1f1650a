package model

import (
	"strconv"
	"time"
)

// Character - a character from the user's character library, sent inline with generation requests
type Character struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	ReferenceImageURL  string `json:"referenceImageUrl,omitempty"`  // raw uploaded photo
	AnimatedPreviewURL string `json:"animatedPreviewUrl,omitempty"` // stylized preview, preferred when present
	HairColor          string `json:"hairColor,omitempty"`
	SkinTone           string `json:"skinTone,omitempty"`
	Clothing           string `json:"clothing,omitempty"`
	Age                string `json:"age,omitempty"`
	OtherFeatures      string `json:"otherFeatures,omitempty"`
	IsPrimary          bool   `json:"isPrimary,omitempty"`
}

// Scene - one illustrated page derived from the script
type Scene struct {
	SceneNumber int      `json:"sceneNumber"` // 0 is reserved for the cover
	Description string   `json:"description"`
	Characters  []string `json:"characterNames"` // empty means all characters apply
	Location    string   `json:"location,omitempty"`
	IsCover     bool     `json:"isCover,omitempty"`
}

// ID - stable scene identifier used to key results
func (s Scene) ID() string {
	if s.IsCover {
		return "cover"
	}
	return "scene-" + strconv.Itoa(s.SceneNumber)
}

// CharacterPrompt - resolved per-character input handed to an image provider
type CharacterPrompt struct {
	Name              string `json:"name"`
	ReferenceImageURL string `json:"referenceImageUrl"`
	Description       string `json:"description"`
}

// CharacterRating - per-character consistency rating, filled in by the reviewer later
type CharacterRating struct {
	CharacterName string `json:"characterName"`
	Rating        int    `json:"rating"`
}

// GeneratedImage - one generated illustration per scene
type GeneratedImage struct {
	SceneID          string            `json:"sceneId"`
	SceneNumber      int               `json:"sceneNumber"`
	SceneDescription string            `json:"sceneDescription"`
	ImageURL         string            `json:"imageUrl"`
	Prompt           string            `json:"prompt"`
	GenerationTime   float64           `json:"generationTime"` // seconds
	Status           string            `json:"status"`
	Error            string            `json:"error,omitempty"`
	CharacterRatings []CharacterRating `json:"characterRatings,omitempty"`
	IsCover          bool              `json:"isCover,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// Limits - the caller's current image quota
type Limits struct {
	Tier           string `json:"tier"`
	HourlyLimit    int    `json:"hourlyLimit"`
	DailyLimit     int    `json:"dailyLimit"`
	UsedThisHour   int    `json:"usedThisHour"`
	UsedToday      int    `json:"usedToday"`
	RemainingToday int    `json:"remainingToday"`
}

// RateLimitResult - outcome of a pre-flight quota check, never persisted
type RateLimitResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Limits  Limits `json:"limits"`
	// ReservedAt - instant whose hour and day windows hold the reservation; zero when nothing was reserved
	ReservedAt time.Time `json:"-"`
}

// UsageEntry - one api_usage_logs row
type UsageEntry struct {
	UserID          string `json:"user_id"`
	Endpoint        string `json:"endpoint"`
	Method          string `json:"method"`
	StatusCode      int    `json:"status_code"`
	ResponseTimeMs  int64  `json:"response_time_ms"`
	ImagesGenerated int    `json:"images_generated"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

const (
	StatusPending    = "pending"
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	ClothingConsistent = "consistent"
	ClothingSceneBased = "scene-based"
)
