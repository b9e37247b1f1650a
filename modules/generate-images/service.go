package generateimages

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"storyme-server/modules/character"
	"storyme-server/modules/common/metrics"
	"storyme-server/modules/common/model"
	"storyme-server/modules/common/utils"
	"storyme-server/modules/progress"
	"storyme-server/modules/provider"
)

// Uploader - durable storage for inline image data
type Uploader interface {
	UploadDataURL(ctx context.Context, dataURL, userID string) (string, error)
}

// Notifier - progress sink; ownerID is the user the batch runs for
type Notifier interface {
	Publish(sessionID, ownerID string, ev progress.Event)
}

// Orchestrator - fans one batch out to a provider and collects per-scene results
type Orchestrator struct {
	registry *provider.Registry
	uploader Uploader
	notifier Notifier
	randN    func(n int64) int64
}

func NewOrchestrator(registry *provider.Registry, uploader Uploader, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		uploader: uploader,
		notifier: notifier,
		randN:    rand.Int63n,
	}
}

// StorySeed - one seed per story, biased by the character names so the same cast looks alike across runs
func StorySeed(characters []model.CharacterPrompt, randN func(n int64) int64) int64 {
	var nameBias int64
	for _, c := range characters {
		nameBias += int64(len(c.Name))
	}
	return nameBias*1000 + randN(1000)
}

// Generate - one result per scene, in input order
// A failing or panicking scene never cancels or blocks the others.
func (o *Orchestrator) Generate(ctx context.Context, b Batch) []SceneResult {
	results := make([]SceneResult, len(b.Scenes))

	gen, policy, err := o.registry.Lookup(b.Provider)
	if err != nil {
		for i, sc := range b.Scenes {
			results[i] = failedResult(sc, err)
		}
		return results
	}

	var seed *int64
	if policy.UsesSeed {
		s := StorySeed(b.Characters, o.randN)
		seed = &s
	}

	log.Info().
		Str("provider", string(b.Provider)).
		Int("scenes", len(b.Scenes)).
		Dur("stagger", policy.StaggerDelay).
		Bool("seeded", seed != nil).
		Msg("🚀 [GenerateImages] Starting batch")

	start := time.Now()
	var g errgroup.Group
	for i, sc := range b.Scenes {
		g.Go(func() error {
			results[i] = o.runScene(ctx, b, gen, start.Add(time.Duration(i)*policy.StaggerDelay), sc, seed)
			return nil
		})
	}
	g.Wait()

	completed, failed := 0, 0
	for _, r := range results {
		if r.Success {
			completed++
		} else {
			failed++
		}
	}
	o.publish(b, progress.Event{Type: progress.EventBatchCompleted, Completed: completed, Failed: failed, Total: len(results)})

	log.Info().
		Int("completed", completed).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("🏁 [GenerateImages] Batch finished")
	return results
}

func (o *Orchestrator) runScene(ctx context.Context, b Batch, gen provider.Generator, notBefore time.Time, sc model.Scene, seed *int64) (res SceneResult) {
	sceneStart := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("scene", sc.SceneNumber).Msg("❌ [GenerateImages] Scene panicked")
			res = failedResult(sc, fmt.Errorf("unexpected error: %v", r))
		}
		metrics.ObserveScene(string(b.Provider), res.Image.Status, time.Since(sceneStart))
	}()

	if wait := time.Until(notBefore); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return failedResult(sc, ctx.Err())
		case <-timer.C:
		}
	}

	o.publish(b, progress.Event{Type: progress.EventSceneStarted, SceneID: sc.ID(), SceneNumber: sc.SceneNumber})

	in := provider.GenerationInput{
		Characters:          character.ForScene(b.Characters, sc.Characters),
		SceneDescription:    sc.Description,
		ArtStyle:            b.ArtStyle,
		Style:               provider.EffectiveStyle(b.Style, sc.SceneNumber),
		ClothingConsistency: b.ClothingConsistency,
		Setting:             b.Settings.For(sc),
		Outfits:             b.Outfits,
		Seed:                seed,
		SceneNumber:         sc.SceneNumber,
		IsCover:             sc.IsCover,
	}

	out, err := gen.Generate(ctx, in)
	if err == nil && (out == nil || out.ImageURL == "") {
		err = errors.New("provider returned no image")
	}
	if err != nil {
		log.Warn().Err(err).Int("scene", sc.SceneNumber).Msg("⚠️ [GenerateImages] Scene failed")
		res = failedResult(sc, err)
		if out != nil {
			res.Image.Prompt = out.Prompt
		}
		o.publish(b, progress.Event{Type: progress.EventSceneFailed, SceneID: sc.ID(), SceneNumber: sc.SceneNumber, Error: res.Image.Error})
		return res
	}

	imageURL := out.ImageURL
	if utils.IsDataURL(imageURL) && o.uploader != nil {
		if stored, err := o.uploader.UploadDataURL(ctx, imageURL, b.UserID); err != nil {
			log.Warn().Err(err).Int("scene", sc.SceneNumber).Msg("⚠️ [GenerateImages] Upload failed, keeping inline image")
			metrics.UploadFailed()
		} else {
			imageURL = stored
		}
	}

	res = SceneResult{
		Success: true,
		Image: model.GeneratedImage{
			SceneID:          sc.ID(),
			SceneNumber:      sc.SceneNumber,
			SceneDescription: sc.Description,
			ImageURL:         imageURL,
			Prompt:           out.Prompt,
			GenerationTime:   out.GenerationTime.Seconds(),
			Status:           model.StatusCompleted,
			IsCover:          sc.IsCover,
			CreatedAt:        time.Now(),
		},
	}
	o.publish(b, progress.Event{Type: progress.EventSceneCompleted, SceneID: sc.ID(), SceneNumber: sc.SceneNumber, ImageURL: publishableURL(imageURL)})
	return res
}

func (o *Orchestrator) publish(b Batch, ev progress.Event) {
	if o.notifier == nil || b.SessionID == "" {
		return
	}
	o.notifier.Publish(b.SessionID, b.UserID, ev)
}

// publishableURL - inline images are too large for progress events
func publishableURL(imageURL string) string {
	if utils.IsDataURL(imageURL) {
		return ""
	}
	return imageURL
}

func failedResult(sc model.Scene, err error) SceneResult {
	return SceneResult{
		Success: false,
		Image: model.GeneratedImage{
			SceneID:          sc.ID(),
			SceneNumber:      sc.SceneNumber,
			SceneDescription: sc.Description,
			Status:           model.StatusFailed,
			Error:            err.Error(),
			IsCover:          sc.IsCover,
			CreatedAt:        time.Now(),
		},
	}
}
