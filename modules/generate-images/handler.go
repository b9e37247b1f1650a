package generateimages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"storyme-server/modules/character"
	"storyme-server/modules/common/auth"
	"storyme-server/modules/common/metrics"
	"storyme-server/modules/common/model"
	"storyme-server/modules/provider"
	"storyme-server/modules/scene"
)

const (
	endpoint       = "/api/generate-images"
	maxRequestBody = 4 << 20
	batchCeiling   = 5 * time.Minute
)

// QuotaChecker - pre-flight image quota
type QuotaChecker interface {
	CheckImageGenerationLimit(ctx context.Context, userID string, requested int) (*model.RateLimitResult, error)
	Refund(ctx context.Context, userID string, reservedAt time.Time, count int) error
}

// UsageRecorder - audit trail, never fails the request
type UsageRecorder interface {
	LogAPIUsage(ctx context.Context, entry model.UsageEntry)
}

// Options - handler settings taken from config
type Options struct {
	DefaultProvider provider.Provider
	GeminiAvailable bool
	PublicBaseURL   string
}

type Handler struct {
	orchestrator *Orchestrator
	registry     *provider.Registry
	limiter      QuotaChecker
	usage        UsageRecorder
	opts         Options
}

func NewHandler(orchestrator *Orchestrator, registry *provider.Registry, limiter QuotaChecker, usage UsageRecorder, opts Options) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		registry:     registry,
		limiter:      limiter,
		usage:        usage,
		opts:         opts,
	}
}

// requestLog - what ends up in api_usage_logs
type requestLog struct {
	status int
	images int
	errMsg string
}

// HandleGenerate - POST /api/generate-images
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
		return
	}

	rl := &requestLog{status: http.StatusInternalServerError}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("user", userID).Msg("❌ [GenerateImages] Unhandled error")
			rl.status = http.StatusInternalServerError
			rl.errMsg = fmt.Sprint(p)
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to generate images", Details: rl.errMsg})
		}
		h.usage.LogAPIUsage(r.Context(), model.UsageEntry{
			UserID:          userID,
			Endpoint:        endpoint,
			Method:          r.Method,
			StatusCode:      rl.status,
			ResponseTimeMs:  time.Since(start).Milliseconds(),
			ImagesGenerated: rl.images,
			ErrorMessage:    rl.errMsg,
		})
	}()

	h.generate(w, r, userID, rl)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request, userID string, rl *requestLog) {
	badRequest := func(msg string) {
		rl.status, rl.errMsg = http.StatusBadRequest, msg
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
	}

	var req GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		badRequest("Invalid request format")
		return
	}

	if err := character.Validate(req.Characters); err != nil {
		badRequest(err.Error())
		return
	}
	if strings.TrimSpace(req.Script) == "" {
		badRequest("Script is required")
		return
	}
	scenes, err := scene.ParseScriptIntoScenes(req.Script, req.Characters)
	if err != nil {
		badRequest(err.Error())
		return
	}

	requested, err := provider.ParseProvider(req.ImageProvider)
	if err != nil {
		badRequest(err.Error())
		return
	}
	style, err := provider.ParseStyle(req.IllustrationStyle)
	if err != nil {
		badRequest(err.Error())
		return
	}
	clothing, err := parseClothingConsistency(req.ClothingConsistency)
	if err != nil {
		badRequest(err.Error())
		return
	}

	p, degraded := provider.ResolveProvider(requested, h.opts.DefaultProvider, h.opts.GeminiAvailable && h.registry.Has(provider.Gemini))
	if degraded {
		metrics.ProviderDegraded()
	}

	if cover, ok := coverScene(req.CoverMetadata, req.Characters); ok {
		scenes = append([]model.Scene{cover}, scenes...)
	}

	quota, err := h.limiter.CheckImageGenerationLimit(r.Context(), userID, len(scenes))
	if err != nil {
		rl.errMsg = err.Error()
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to generate images", Details: err.Error()})
		return
	}
	if !quota.Allowed {
		metrics.RateLimited(endpoint)
		rl.status, rl.errMsg = http.StatusTooManyRequests, quota.Reason
		writeJSON(w, http.StatusTooManyRequests, RateLimitResponse{
			Error:   "Rate limit exceeded",
			Message: quota.Reason,
			Limits:  quota.Limits,
		})
		return
	}

	log.Info().
		Str("user", userID).
		Str("provider", string(p)).
		Str("style", string(style)).
		Int("scenes", len(scenes)).
		Int("characters", len(req.Characters)).
		Msg("🎨 [GenerateImages] Processing request")

	batch := Batch{
		UserID:              userID,
		SessionID:           req.SessionID,
		Provider:            p,
		Scenes:              scenes,
		Characters:          character.BuildCharacterPrompts(req.Characters, h.opts.PublicBaseURL),
		ArtStyle:            req.ArtStyle,
		Style:               style,
		ClothingConsistency: clothing,
		Settings:            scene.BuildConsistentSceneSettings(scenes),
		Outfits:             scene.BuildOutfitBook(scenes, req.Characters, clothing),
	}

	// the batch keeps running if the client goes away, bounded by the wall-clock ceiling
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), batchCeiling)
	defer cancel()
	results := h.orchestrator.Generate(ctx, batch)

	resp := Assemble(results, quota.Limits, p)
	resp.ProviderFallback = degraded

	if failed := resp.TotalScenes - resp.SuccessfulScenes; failed > 0 {
		if err := h.limiter.Refund(ctx, userID, quota.ReservedAt, failed); err != nil {
			log.Warn().Err(err).Str("user", userID).Msg("⚠️ [GenerateImages] Failed to refund quota")
		} else {
			resp.Limits.UsedThisHour = max(resp.Limits.UsedThisHour-failed, 0)
			resp.Limits.UsedToday = max(resp.Limits.UsedToday-failed, 0)
			resp.Limits.RemainingToday = max(resp.Limits.DailyLimit-resp.Limits.UsedToday, 0)
		}
	}

	rl.status = http.StatusOK
	rl.images = resp.SuccessfulScenes
	rl.errMsg = strings.Join(resp.Errors, "; ")
	writeJSON(w, http.StatusOK, resp)
}

func parseClothingConsistency(s string) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "":
		return model.ClothingConsistent, nil
	case model.ClothingConsistent, model.ClothingSceneBased:
		return v, nil
	default:
		return "", fmt.Errorf("unknown clothing consistency: %q", s)
	}
}

// coverScene - scene 0 from the cover metadata, featuring the primary character when one is marked
func coverScene(meta *CoverMetadata, characters []model.Character) (model.Scene, bool) {
	if meta == nil {
		return model.Scene{}, false
	}
	title := strings.TrimSpace(meta.Title)
	prompt := strings.TrimSpace(meta.CoverPrompt)
	if title == "" && prompt == "" {
		return model.Scene{}, false
	}
	if prompt == "" {
		prompt = fmt.Sprintf("Cover illustration for the story %q featuring the main characters together", title)
	}

	cover := model.Scene{SceneNumber: 0, Description: prompt, Characters: []string{}, IsCover: true}
	if loc, ok := scene.ExtractSceneLocation(prompt); ok {
		cover.Location = loc
	}
	for _, c := range characters {
		if c.IsPrimary {
			cover.Characters = []string{c.Name}
			break
		}
	}
	return cover, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("❌ Failed to encode response")
	}
}

