package character

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"storyme-server/modules/common/model"
)

var (
	// ErrNoCharacters - generation needs at least one character
	ErrNoCharacters = errors.New("At least one character is required")
	// ErrMultiplePrimary - only one character may be marked primary per request
	ErrMultiplePrimary = errors.New("Only one character can be marked as primary")
)

// Validate - request-level checks on the character list
func Validate(characters []model.Character) error {
	if len(characters) == 0 {
		return ErrNoCharacters
	}
	primary := 0
	for i, c := range characters {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("character %d has no name", i+1)
		}
		if c.IsPrimary {
			primary++
		}
	}
	if primary > 1 {
		return ErrMultiplePrimary
	}
	return nil
}

// ResolveReferenceImageURL - the single best reference image for a provider
// Priority: animated preview, then raw photo, then "" (text-only). Relative
// paths are made absolute against baseURL since providers cannot fetch them.
func ResolveReferenceImageURL(c model.Character, baseURL string) string {
	ref := strings.TrimSpace(c.AnimatedPreviewURL)
	if ref == "" {
		ref = strings.TrimSpace(c.ReferenceImageURL)
	}
	if ref == "" {
		return ""
	}
	return absoluteURL(ref, baseURL)
}

func absoluteURL(ref, baseURL string) string {
	if strings.HasPrefix(ref, "data:") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || !base.IsAbs() {
		return ref
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(u).String()
}

// Describe - one-line appearance description from the character's fields
func Describe(c model.Character) string {
	var parts []string
	if age := strings.TrimSpace(c.Age); age != "" {
		if isDigits(age) {
			age += " years old"
		}
		parts = append(parts, age)
	}
	if hair := strings.TrimSpace(c.HairColor); hair != "" {
		parts = append(parts, hair+" hair")
	}
	if skin := strings.TrimSpace(c.SkinTone); skin != "" {
		parts = append(parts, skin+" skin")
	}
	if clothing := strings.TrimSpace(c.Clothing); clothing != "" {
		parts = append(parts, "wearing "+clothing)
	}
	if other := strings.TrimSpace(c.OtherFeatures); other != "" {
		parts = append(parts, other)
	}
	return strings.Join(parts, ", ")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// BuildCharacterPrompts - resolve every character independently; order is preserved
func BuildCharacterPrompts(characters []model.Character, baseURL string) []model.CharacterPrompt {
	prompts := make([]model.CharacterPrompt, 0, len(characters))
	for _, c := range characters {
		prompts = append(prompts, model.CharacterPrompt{
			Name:              strings.TrimSpace(c.Name),
			ReferenceImageURL: ResolveReferenceImageURL(c, baseURL),
			Description:       Describe(c),
		})
	}
	return prompts
}

// ForScene - characters named in the scene, or everyone when none are named
// or the names do not match any resolved character.
func ForScene(all []model.CharacterPrompt, names []string) []model.CharacterPrompt {
	if len(names) == 0 {
		return all
	}
	wanted := map[string]bool{}
	for _, n := range names {
		wanted[strings.ToLower(strings.TrimSpace(n))] = true
	}
	var out []model.CharacterPrompt
	for _, c := range all {
		if wanted[strings.ToLower(c.Name)] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}
