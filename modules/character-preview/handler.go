package characterpreview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"storyme-server/modules/character"
	"storyme-server/modules/common/auth"
	"storyme-server/modules/common/metrics"
	"storyme-server/modules/common/model"
	"storyme-server/modules/common/utils"
	"storyme-server/modules/provider"
)

const (
	endpoint       = "/api/generate-character-preview"
	maxRequestBody = 4 << 20
)

var errEmptyPreview = errors.New("preview returned no image")

// Previewer - stylized character avatar backend
type Previewer interface {
	GeneratePreview(ctx context.Context, c model.CharacterPrompt, style provider.Style) (*provider.GenerationOutput, error)
}

// Uploader - persists data URLs and returns a public URL
type Uploader interface {
	UploadDataURL(ctx context.Context, dataURL, userID string) (string, error)
}

// QuotaChecker - a preview counts as one image
type QuotaChecker interface {
	CheckImageGenerationLimit(ctx context.Context, userID string, requested int) (*model.RateLimitResult, error)
	Refund(ctx context.Context, userID string, reservedAt time.Time, count int) error
}

type UsageRecorder interface {
	LogAPIUsage(ctx context.Context, entry model.UsageEntry)
}

type PreviewRequest struct {
	Character         model.Character `json:"character"`
	IllustrationStyle string          `json:"illustrationStyle"`
}

type PreviewResponse struct {
	Success            bool          `json:"success"`
	AnimatedPreviewURL string        `json:"animatedPreviewUrl,omitempty"`
	Prompt             string        `json:"prompt,omitempty"`
	Style              string        `json:"style,omitempty"`
	GenerationTime     float64       `json:"generationTime,omitempty"`
	Limits             *model.Limits `json:"limits,omitempty"`
	Error              string        `json:"error,omitempty"`
	Message            string        `json:"message,omitempty"`
}

type Handler struct {
	previewer     Previewer
	uploader      Uploader
	limiter       QuotaChecker
	usage         UsageRecorder
	publicBaseURL string
}

func NewHandler(previewer Previewer, uploader Uploader, limiter QuotaChecker, usage UsageRecorder, publicBaseURL string) *Handler {
	return &Handler{
		previewer:     previewer,
		uploader:      uploader,
		limiter:       limiter,
		usage:         usage,
		publicBaseURL: publicBaseURL,
	}
}

// HandlePreview - POST /api/generate-character-preview
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, PreviewResponse{Error: "Unauthorized"})
		return
	}

	status, images, errMsg := http.StatusOK, 0, ""
	defer func() {
		h.usage.LogAPIUsage(r.Context(), model.UsageEntry{
			UserID:          userID,
			Endpoint:        endpoint,
			Method:          r.Method,
			StatusCode:      status,
			ResponseTimeMs:  time.Since(start).Milliseconds(),
			ImagesGenerated: images,
			ErrorMessage:    errMsg,
		})
	}()
	fail := func(code int, msg string) {
		status, errMsg = code, msg
		writeJSON(w, code, PreviewResponse{Error: msg})
	}

	if h.previewer == nil {
		fail(http.StatusServiceUnavailable, "Character preview requires Gemini, which is not configured")
		return
	}

	var req PreviewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		fail(http.StatusBadRequest, "Invalid request format")
		return
	}
	if strings.TrimSpace(req.Character.Name) == "" {
		fail(http.StatusBadRequest, "Character name is required")
		return
	}
	style, err := provider.ParseStyle(req.IllustrationStyle)
	if err != nil {
		fail(http.StatusBadRequest, err.Error())
		return
	}

	quota, err := h.limiter.CheckImageGenerationLimit(r.Context(), userID, 1)
	if err != nil {
		fail(http.StatusInternalServerError, "Failed to check rate limit")
		return
	}
	if !quota.Allowed {
		metrics.RateLimited(endpoint)
		status, errMsg = http.StatusTooManyRequests, quota.Reason
		writeJSON(w, http.StatusTooManyRequests, PreviewResponse{
			Error:   "Rate limit exceeded",
			Message: quota.Reason,
			Limits:  &quota.Limits,
		})
		return
	}

	prompts := character.BuildCharacterPrompts([]model.Character{req.Character}, h.publicBaseURL)
	// previews are built from the raw photo, never from an earlier preview
	prompts[0].ReferenceImageURL = character.ResolveReferenceImageURL(model.Character{ReferenceImageURL: req.Character.ReferenceImageURL}, h.publicBaseURL)

	out, err := h.previewer.GeneratePreview(r.Context(), prompts[0], style)
	if err != nil || out == nil || out.ImageURL == "" {
		if err == nil {
			err = errEmptyPreview
		}
		log.Error().Err(err).Str("user", userID).Str("character", req.Character.Name).Msg("❌ [CharacterPreview] Generation failed")
		if rerr := h.limiter.Refund(context.WithoutCancel(r.Context()), userID, quota.ReservedAt, 1); rerr != nil {
			log.Warn().Err(rerr).Str("user", userID).Msg("⚠️ [CharacterPreview] Failed to refund quota")
		}
		fail(http.StatusInternalServerError, "Failed to generate character preview")
		return
	}

	imageURL := out.ImageURL
	if utils.IsDataURL(imageURL) && h.uploader != nil {
		if uploaded, uerr := h.uploader.UploadDataURL(r.Context(), imageURL, userID); uerr != nil {
			metrics.UploadFailed()
			log.Warn().Err(uerr).Str("user", userID).Msg("⚠️ [CharacterPreview] Upload failed, returning inline image")
		} else {
			imageURL = uploaded
		}
	}

	images = 1
	log.Info().
		Str("user", userID).
		Str("character", req.Character.Name).
		Dur("elapsed", out.GenerationTime).
		Msg("✅ [CharacterPreview] Preview generated")
	writeJSON(w, http.StatusOK, PreviewResponse{
		Success:            true,
		AnimatedPreviewURL: imageURL,
		Prompt:             out.Prompt,
		Style:              string(style),
		GenerationTime:     out.GenerationTime.Seconds(),
		Limits:             &quota.Limits,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("❌ Failed to encode response")
	}
}
