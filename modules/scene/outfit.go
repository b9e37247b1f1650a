package scene

import (
	"regexp"
	"strings"

	"storyme-server/modules/common/model"
)

// OutfitBook - outfits locked for one generation request, keyed by lowercase character name
// Built before any scene is dispatched and only read afterwards.
type OutfitBook map[string]string

// BuildOutfitBook - lock each character's outfit for the whole story
// In "consistent" mode the declared clothing wins, otherwise the first
// "<name> ... wearing X" phrase in the script. "scene-based" yields an empty book.
func BuildOutfitBook(scenes []model.Scene, characters []model.Character, mode string) OutfitBook {
	book := OutfitBook{}
	if mode == model.ClothingSceneBased {
		return book
	}

	for _, c := range characters {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, done := book[key]; done {
			continue
		}
		if clothing := strings.TrimSpace(c.Clothing); clothing != "" {
			book[key] = clothing
			continue
		}

		re := regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(name) + `(?:$|[^\p{L}\p{N}_])[^.!?]*?\bwearing\s+([^.,;!?]+)`)
		for _, sc := range scenes {
			if m := re.FindStringSubmatch(sc.Description); m != nil {
				book[key] = strings.TrimSpace(m[1])
				break
			}
		}
	}
	return book
}

// For - locked outfit for a character, empty when none
func (b OutfitBook) For(name string) string {
	return b[strings.ToLower(strings.TrimSpace(name))]
}
