package characteranalysis

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"storyme-server/modules/common/auth"
	"storyme-server/modules/common/model"
)

const (
	endpoint       = "/api/analyze-character-image"
	maxRequestBody = 4 << 20
)

// Analyzer - vision backend
type Analyzer interface {
	Analyze(ctx context.Context, imageURL string) (*Analysis, error)
}

// UsageRecorder - audit trail
type UsageRecorder interface {
	LogAPIUsage(ctx context.Context, entry model.UsageEntry)
}

type AnalyzeRequest struct {
	ImageURL string `json:"imageUrl"`
}

type AnalyzeResponse struct {
	Success  bool      `json:"success"`
	Analysis *Analysis `json:"analysis,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type Handler struct {
	analyzer Analyzer
	usage    UsageRecorder
}

func NewHandler(analyzer Analyzer, usage UsageRecorder) *Handler {
	return &Handler{analyzer: analyzer, usage: usage}
}

// HandleAnalyze - POST /api/analyze-character-image
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, AnalyzeResponse{Error: "Unauthorized"})
		return
	}

	status, errMsg := http.StatusOK, ""
	defer func() {
		h.usage.LogAPIUsage(r.Context(), model.UsageEntry{
			UserID:         userID,
			Endpoint:       endpoint,
			Method:         r.Method,
			StatusCode:     status,
			ResponseTimeMs: time.Since(start).Milliseconds(),
			ErrorMessage:   errMsg,
		})
	}()
	fail := func(code int, msg string) {
		status, errMsg = code, msg
		writeJSON(w, code, AnalyzeResponse{Error: msg})
	}

	if h.analyzer == nil {
		fail(http.StatusServiceUnavailable, "Character analysis is not configured")
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		fail(http.StatusBadRequest, "Invalid request format")
		return
	}
	imageURL := strings.TrimSpace(req.ImageURL)
	if !strings.HasPrefix(imageURL, "http://") && !strings.HasPrefix(imageURL, "https://") && !strings.HasPrefix(imageURL, "data:image/") {
		fail(http.StatusBadRequest, "imageUrl must be an http(s) or data:image URL")
		return
	}

	analysis, err := h.analyzer.Analyze(r.Context(), imageURL)
	if err != nil {
		log.Error().Err(err).Str("user", userID).Msg("❌ [CharacterAnalysis] Analysis failed")
		fail(http.StatusInternalServerError, "Failed to analyze image")
		return
	}

	log.Info().Str("user", userID).Msg("✅ [CharacterAnalysis] Image analyzed")
	writeJSON(w, http.StatusOK, AnalyzeResponse{Success: true, Analysis: analysis})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
