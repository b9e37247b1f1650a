package characterpreview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyme-server/modules/common/auth"
	"storyme-server/modules/common/model"
	"storyme-server/modules/provider"
)

type fakePreviewer struct {
	got   model.CharacterPrompt
	style provider.Style
	out   *provider.GenerationOutput
	err   error
	calls int
}

func (f *fakePreviewer) GeneratePreview(ctx context.Context, c model.CharacterPrompt, style provider.Style) (*provider.GenerationOutput, error) {
	f.calls++
	f.got, f.style = c, style
	return f.out, f.err
}

type fakeUploader struct{ err error }

func (f fakeUploader) UploadDataURL(ctx context.Context, dataURL, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.test/" + userID + "/preview.webp", nil
}

type fakeLimiter struct {
	allowed  bool
	err      error
	refunded int
}

func (f *fakeLimiter) CheckImageGenerationLimit(ctx context.Context, userID string, requested int) (*model.RateLimitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	res := &model.RateLimitResult{Allowed: f.allowed, Limits: model.Limits{Tier: "free", DailyLimit: 50}}
	if !f.allowed {
		res.Reason = "Hourly limit reached: 20/20 images. Resets at the top of the hour."
	}
	return res, nil
}

func (f *fakeLimiter) Refund(ctx context.Context, userID string, reservedAt time.Time, count int) error {
	f.refunded += count
	return nil
}

type fakeUsage struct{ entries []model.UsageEntry }

func (f *fakeUsage) LogAPIUsage(ctx context.Context, entry model.UsageEntry) {
	f.entries = append(f.entries, entry)
}

const body = `{"character":{"name":"Mira","referenceImageUrl":"/uploads/mira.jpg","animatedPreviewUrl":"https://cdn.test/old.png","hairColor":"red"},"illustrationStyle":"classic"}`

func do(h *Handler, user, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, endpoint, bytes.NewBufferString(payload))
	if user != "" {
		req = req.WithContext(auth.WithUserID(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	h.HandlePreview(rec, req)
	return rec
}

func TestPreviewSuccess(t *testing.T) {
	prev := &fakePreviewer{out: &provider.GenerationOutput{ImageURL: "data:image/png;base64,AAAA", Prompt: "portrait", GenerationTime: 2 * time.Second}}
	usage := &fakeUsage{}
	h := NewHandler(prev, fakeUploader{}, &fakeLimiter{allowed: true}, usage, "https://storyme.test")

	rec := do(h, "u1", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PreviewResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "https://cdn.test/u1/preview.webp", resp.AnimatedPreviewURL)
	assert.Equal(t, "classic", resp.Style)
	assert.Equal(t, 2.0, resp.GenerationTime)

	assert.Equal(t, "https://storyme.test/uploads/mira.jpg", prev.got.ReferenceImageURL)
	assert.Equal(t, provider.Classic, prev.style)

	require.Len(t, usage.entries, 1)
	assert.Equal(t, 1, usage.entries[0].ImagesGenerated)
}

func TestPreviewUploadFailureKeepsInlineImage(t *testing.T) {
	prev := &fakePreviewer{out: &provider.GenerationOutput{ImageURL: "data:image/png;base64,AAAA"}}
	h := NewHandler(prev, fakeUploader{err: errors.New("bucket missing")}, &fakeLimiter{allowed: true}, &fakeUsage{}, "")

	rec := do(h, "u1", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp PreviewResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "data:image/png;base64,AAAA", resp.AnimatedPreviewURL)
}

func TestPreviewRateLimited(t *testing.T) {
	prev := &fakePreviewer{}
	usage := &fakeUsage{}
	h := NewHandler(prev, fakeUploader{}, &fakeLimiter{allowed: false}, usage, "")

	rec := do(h, "u1", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Zero(t, prev.calls)
	require.Len(t, usage.entries, 1)
	assert.Equal(t, http.StatusTooManyRequests, usage.entries[0].StatusCode)
}

func TestPreviewFailureRefunds(t *testing.T) {
	limiter := &fakeLimiter{allowed: true}
	h := NewHandler(&fakePreviewer{err: errors.New("safety block")}, fakeUploader{}, limiter, &fakeUsage{}, "")

	rec := do(h, "u1", body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, limiter.refunded)
}

func TestPreviewRejections(t *testing.T) {
	cases := []struct {
		name      string
		previewer Previewer
		user      string
		payload   string
		status    int
	}{
		{"unauthorized", &fakePreviewer{}, "", body, http.StatusUnauthorized},
		{"gemini not configured", nil, "u1", body, http.StatusServiceUnavailable},
		{"missing name", &fakePreviewer{}, "u1", `{"character":{"name":" "}}`, http.StatusBadRequest},
		{"bad style", &fakePreviewer{}, "u1", `{"character":{"name":"Mira"},"illustrationStyle":"anime"}`, http.StatusBadRequest},
		{"bad json", &fakePreviewer{}, "u1", `nope`, http.StatusBadRequest},
		{"oversized body", &fakePreviewer{}, "u1", `{"character":{"name":"Mira","referenceImageUrl":"data:image/png;base64,` + strings.Repeat("A", maxRequestBody) + `"}}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(tc.previewer, fakeUploader{}, &fakeLimiter{allowed: true}, &fakeUsage{}, "")
			assert.Equal(t, tc.status, do(h, tc.user, tc.payload).Code)
		})
	}
}
