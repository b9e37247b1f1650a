package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"storyme-server/modules/common/model"
)

var (
	ErrUnknownProvider  = errors.New("unknown image provider")
	ErrUnknownStyle     = errors.New("unknown illustration style")
	ErrProviderNotReady = errors.New("image provider not registered")
)

// Provider - image generation backend
type Provider string

const (
	Flux   Provider = "flux"
	Gemini Provider = "gemini"
)

// ParseProvider - "" is allowed and means "not specified"
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case "", Flux, Gemini:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// Style - illustration style, only meaningful for gemini
type Style string

const (
	Pixar    Style = "pixar"    // 3D
	Classic  Style = "classic"  // 2D painterly
	Coloring Style = "coloring" // black & white line art
)

// ParseStyle - "" defaults to pixar
func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return Pixar, nil
	case Pixar, Classic, Coloring:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStyle, s)
	}
}

// ResolveProvider - request > env default > flux; gemini without credentials degrades to flux
func ResolveProvider(requested, envDefault Provider, geminiAvailable bool) (p Provider, degraded bool) {
	p = requested
	if p == "" {
		p = envDefault
	}
	if p != Flux && p != Gemini {
		p = Flux
	}
	if p == Gemini && !geminiAvailable {
		log.Warn().Msg("⚠️  [Dispatcher] gemini requested but not configured, falling back to flux")
		return Flux, true
	}
	return p, false
}

// EffectiveStyle - coloring books keep a colorful cover
func EffectiveStyle(style Style, sceneNumber int) Style {
	if style == Coloring && sceneNumber == 0 {
		return Pixar
	}
	return style
}

// GenerationInput - everything a provider needs for one scene
type GenerationInput struct {
	Characters          []model.CharacterPrompt
	SceneDescription    string
	ArtStyle            string
	Style               Style
	ClothingConsistency string
	Setting             string            // canonical location phrase, may be empty
	Outfits             map[string]string // locked outfits keyed by lowercase name, read-only
	Seed                *int64
	SceneNumber         int
	IsCover             bool
}

// OutfitFor - locked outfit for a character, empty when none
func (in GenerationInput) OutfitFor(name string) string {
	return in.Outfits[strings.ToLower(strings.TrimSpace(name))]
}

// GenerationOutput - provider result; ImageURL is http(s) or a base64 data URL
type GenerationOutput struct {
	ImageURL       string
	Prompt         string
	GenerationTime time.Duration
}

// Generator - one image generation backend
type Generator interface {
	Generate(ctx context.Context, in GenerationInput) (*GenerationOutput, error)
}

// GeneratorFunc - adapter for plain functions
type GeneratorFunc func(ctx context.Context, in GenerationInput) (*GenerationOutput, error)

func (f GeneratorFunc) Generate(ctx context.Context, in GenerationInput) (*GenerationOutput, error) {
	return f(ctx, in)
}

// Policy - dispatch rules for a provider
type Policy struct {
	StaggerDelay time.Duration // scene i starts no earlier than i*StaggerDelay
	UsesSeed     bool          // story-wide seed is forwarded
}

type entry struct {
	generator Generator
	policy    Policy
}

// Registry - lookup table from provider to generator and policy
type Registry struct {
	entries map[Provider]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[Provider]entry{}}
}

// Register - add or replace a provider
func (r *Registry) Register(p Provider, g Generator, policy Policy) {
	r.entries[p] = entry{generator: g, policy: policy}
}

// Has - whether the provider is usable
func (r *Registry) Has(p Provider) bool {
	_, ok := r.entries[p]
	return ok
}

// Lookup - generator and policy for a provider
func (r *Registry) Lookup(p Provider) (Generator, Policy, error) {
	e, ok := r.entries[p]
	if !ok {
		return nil, Policy{}, fmt.Errorf("%w: %s", ErrProviderNotReady, p)
	}
	return e.generator, e.policy, nil
}
