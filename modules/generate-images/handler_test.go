package generateimages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyme-server/modules/common/auth"
	"storyme-server/modules/common/model"
	"storyme-server/modules/provider"
)

type fakeLimiter struct {
	result   *model.RateLimitResult
	err      error
	panics   interface{}
	checked  []int
	refunded int
}

func (l *fakeLimiter) CheckImageGenerationLimit(ctx context.Context, userID string, requested int) (*model.RateLimitResult, error) {
	l.checked = append(l.checked, requested)
	if l.panics != nil {
		panic(l.panics)
	}
	if l.err != nil {
		return nil, l.err
	}
	if l.result != nil {
		return l.result, nil
	}
	return &model.RateLimitResult{Allowed: true, Limits: model.Limits{Tier: "free", HourlyLimit: 20, DailyLimit: 50, UsedThisHour: requested, UsedToday: requested, RemainingToday: 50 - requested}}, nil
}

func (l *fakeLimiter) Refund(ctx context.Context, userID string, reservedAt time.Time, count int) error {
	l.refunded += count
	return nil
}

type fakeUsage struct {
	mu      sync.Mutex
	entries []model.UsageEntry
}

func (u *fakeUsage) LogAPIUsage(ctx context.Context, entry model.UsageEntry) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = append(u.entries, entry)
}

type handlerFixture struct {
	handler *Handler
	flux    *recordingGenerator
	gemini  *recordingGenerator
	limiter *fakeLimiter
	usage   *fakeUsage
}

func newFixture(geminiAvailable bool) *handlerFixture {
	f := &handlerFixture{
		flux:    &recordingGenerator{},
		gemini:  &recordingGenerator{},
		limiter: &fakeLimiter{},
		usage:   &fakeUsage{},
	}
	reg := provider.NewRegistry()
	reg.Register(provider.Flux, f.flux, provider.Policy{UsesSeed: true})
	if geminiAvailable {
		reg.Register(provider.Gemini, f.gemini, provider.Policy{})
	}
	f.handler = NewHandler(NewOrchestrator(reg, nil, nil), reg, f.limiter, f.usage, Options{
		DefaultProvider: provider.Flux,
		GeminiAvailable: geminiAvailable,
		PublicBaseURL:   "https://app.kindlewood.test",
	})
	return f
}

func (f *handlerFixture) do(t *testing.T, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/generate-images", bytes.NewReader(raw))
	if userID != "" {
		req = req.WithContext(auth.WithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	f.handler.HandleGenerate(rec, req)
	return rec
}

func mira() []model.Character {
	return []model.Character{{ID: "c1", Name: "Mira", ReferenceImageURL: "/uploads/mira.png", IsPrimary: true}}
}

func TestUnauthorized(t *testing.T) {
	f := newFixture(false)
	rec := f.do(t, "", GenerateRequest{Characters: mira(), Script: "Mira waves."})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.flux.calls)
	assert.Empty(t, f.limiter.checked)
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		req     GenerateRequest
		message string
	}{
		{"no characters", GenerateRequest{Script: "Mira waves."}, "At least one character is required"},
		{"empty script", GenerateRequest{Characters: mira(), Script: "   \n  "}, "Script is required"},
		{"only markers", GenerateRequest{Characters: mira(), Script: "-\n*\n3."}, "No valid scenes found"},
		{"unknown provider", GenerateRequest{Characters: mira(), Script: "x", ImageProvider: "dalle"}, "unknown image provider"},
		{"unknown style", GenerateRequest{Characters: mira(), Script: "x", IllustrationStyle: "anime"}, "unknown illustration style"},
		{"unknown clothing mode", GenerateRequest{Characters: mira(), Script: "x", ClothingConsistency: "random"}, "unknown clothing consistency"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(false)
			rec := f.do(t, "u1", tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.message)
			assert.Empty(t, f.flux.calls)
			assert.Empty(t, f.limiter.checked)

			require.Len(t, f.usage.entries, 1)
			assert.Equal(t, http.StatusBadRequest, f.usage.entries[0].StatusCode)
			assert.Equal(t, "u1", f.usage.entries[0].UserID)
		})
	}
}

func TestRateLimitedMakesNoProviderCalls(t *testing.T) {
	f := newFixture(true)
	f.limiter.result = &model.RateLimitResult{
		Allowed: false,
		Reason:  "Daily limit reached: 50 of 50 images used today, 2 requested",
		Limits:  model.Limits{Tier: "free", DailyLimit: 50, UsedToday: 50},
	}

	rec := f.do(t, "u1", GenerateRequest{Characters: mira(), Script: "One.\nTwo.", ImageProvider: "gemini"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body RateLimitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body.Error)
	assert.Equal(t, f.limiter.result.Reason, body.Message)
	assert.Equal(t, 50, body.Limits.UsedToday)

	assert.Empty(t, f.flux.calls)
	assert.Empty(t, f.gemini.calls)
	assert.Equal(t, []int{2}, f.limiter.checked)
	require.Len(t, f.usage.entries, 1)
	assert.Equal(t, http.StatusTooManyRequests, f.usage.entries[0].StatusCode)
	assert.Equal(t, 0, f.usage.entries[0].ImagesGenerated)
}

func TestDragonStoryEndToEnd(t *testing.T) {
	f := newFixture(false)
	rec := f.do(t, "u1", GenerateRequest{
		Characters: []model.Character{{Name: "Mira", ReferenceImageURL: "https://cdn.test/mira.png"}},
		Script:     "A dragon flies over the castle.\nThe dragon lands in the park.",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.TotalScenes)
	assert.Equal(t, 2, resp.SuccessfulScenes)
	assert.Equal(t, provider.Flux, resp.ImageProvider)
	require.Len(t, resp.GeneratedImages, 2)
	assert.Equal(t, "scene-1", resp.GeneratedImages[0].SceneID)
	assert.Equal(t, "scene-2", resp.GeneratedImages[1].SceneID)

	for n := 1; n <= 2; n++ {
		c, ok := f.flux.callFor(n)
		require.True(t, ok)
		require.Len(t, c.in.Characters, 1, "no name in the scene means every character applies")
		assert.Equal(t, "Mira", c.in.Characters[0].Name)
		assert.NotNil(t, c.in.Seed)
	}
	c2, _ := f.flux.callFor(2)
	assert.NotEmpty(t, c2.in.Setting)

	require.Len(t, f.usage.entries, 1)
	assert.Equal(t, http.StatusOK, f.usage.entries[0].StatusCode)
	assert.Equal(t, 2, f.usage.entries[0].ImagesGenerated)
	assert.Empty(t, f.usage.entries[0].ErrorMessage)
	assert.Zero(t, f.limiter.refunded)
}

func TestColoringCoverStaysColorful(t *testing.T) {
	f := newFixture(true)
	rec := f.do(t, "u1", GenerateRequest{
		Characters:        mira(),
		Script:            "Mira reads a book.",
		ImageProvider:     "gemini",
		IllustrationStyle: "coloring",
		CoverMetadata:     &CoverMetadata{Title: "Mira's Big Day"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	cover, ok := f.gemini.callFor(0)
	require.True(t, ok)
	assert.True(t, cover.in.IsCover)
	assert.Equal(t, provider.Pixar, cover.in.Style)
	assert.Contains(t, cover.in.SceneDescription, "Mira's Big Day")

	page, ok := f.gemini.callFor(1)
	require.True(t, ok)
	assert.Equal(t, provider.Coloring, page.in.Style)
	assert.Nil(t, page.in.Seed)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalScenes)
	assert.True(t, resp.GeneratedImages[0].IsCover)
	assert.Equal(t, []int{2}, f.limiter.checked, "the cover counts against the quota")
	assert.Empty(t, f.flux.calls)
}

func TestGeminiUnavailableFallsBackToFlux(t *testing.T) {
	f := newFixture(false)
	rec := f.do(t, "u1", GenerateRequest{Characters: mira(), Script: "Mira waves.", ImageProvider: "gemini"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, provider.Flux, resp.ImageProvider)
	assert.True(t, resp.ProviderFallback)
	assert.Len(t, f.flux.calls, 1)
}

func TestPartialFailureResponse(t *testing.T) {
	f := newFixture(false)
	f.flux.fail = func(n int) error {
		if n == 2 {
			return errors.New("Runware API error: status=500")
		}
		return nil
	}

	rec := f.do(t, "u1", GenerateRequest{Characters: mira(), Script: "One.\nTwo.\nThree."})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, 3, resp.TotalScenes)
	assert.Equal(t, 2, resp.SuccessfulScenes)
	assert.Equal(t, []string{"Scene 2: Runware API error: status=500"}, resp.Errors)
	assert.Equal(t, model.StatusFailed, resp.GeneratedImages[1].Status)
	assert.Equal(t, 2, resp.Limits.UsedToday, "failed scene is refunded")

	assert.Equal(t, 1, f.limiter.refunded)
	require.Len(t, f.usage.entries, 1)
	assert.Equal(t, 2, f.usage.entries[0].ImagesGenerated)
	assert.Contains(t, f.usage.entries[0].ErrorMessage, "Scene 2")
}

func TestLimiterErrorIs500(t *testing.T) {
	f := newFixture(false)
	f.limiter.err = errors.New("redis: nil client")

	rec := f.do(t, "u1", GenerateRequest{Characters: mira(), Script: "Mira waves."})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "redis: nil client", body.Details)
	assert.Empty(t, f.flux.calls)
	require.Len(t, f.usage.entries, 1)
	assert.Equal(t, http.StatusInternalServerError, f.usage.entries[0].StatusCode)
}

func TestUnhandledErrorIs500AndLogged(t *testing.T) {
	f := newFixture(false)
	f.limiter.panics = "quota store exploded"

	var rec *httptest.ResponseRecorder
	require.NotPanics(t, func() {
		rec = f.do(t, "u1", GenerateRequest{Characters: mira(), Script: "Mira waves."})
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Failed to generate images", body.Error)
	assert.Equal(t, "quota store exploded", body.Details)
	assert.Empty(t, f.flux.calls)

	require.Len(t, f.usage.entries, 1)
	assert.Equal(t, http.StatusInternalServerError, f.usage.entries[0].StatusCode)
	assert.Equal(t, "quota store exploded", f.usage.entries[0].ErrorMessage)
	assert.Equal(t, "u1", f.usage.entries[0].UserID)
}

func TestCoverScene(t *testing.T) {
	_, ok := coverScene(nil, nil)
	assert.False(t, ok)
	_, ok = coverScene(&CoverMetadata{}, nil)
	assert.False(t, ok)

	sc, ok := coverScene(&CoverMetadata{Title: "T", CoverPrompt: "Mira and Leo in the forest"}, []model.Character{{Name: "Leo", IsPrimary: true}})
	require.True(t, ok)
	assert.Equal(t, 0, sc.SceneNumber)
	assert.True(t, sc.IsCover)
	assert.Equal(t, "cover", sc.ID())
	assert.Equal(t, "Mira and Leo in the forest", sc.Description)
	assert.Equal(t, []string{"Leo"}, sc.Characters)
	assert.Equal(t, "forest", sc.Location)
}
