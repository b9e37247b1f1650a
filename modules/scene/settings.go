package scene

import (
	"regexp"
	"sort"
	"strings"

	"storyme-server/modules/common/model"
)

// descriptive phrases for the settings children's stories use most
var canonicalSettings = map[string]string{
	"park":       "a sunny park with green grass, tall leafy trees and a winding path",
	"castle":     "a grand stone castle with tall towers and colorful flags",
	"forest":     "a lush green forest with tall trees and dappled sunlight",
	"beach":      "a sandy beach with gentle blue waves and seashells",
	"school":     "a friendly school building with a bright classroom",
	"classroom":  "a bright classroom with small desks and colorful posters",
	"house":      "a cozy house with a warm, welcoming living room",
	"home":       "a cozy house with a warm, welcoming living room",
	"kitchen":    "a warm kitchen with wooden cabinets and a big table",
	"bedroom":    "a cozy bedroom with a soft bed and toys on the shelves",
	"garden":     "a colorful garden full of flowers and buzzing bees",
	"farm":       "a cheerful farm with a red barn and open fields",
	"zoo":        "a lively zoo with animal enclosures and shady paths",
	"library":    "a quiet library with tall wooden bookshelves",
	"playground": "a playground with slides, swings and a sandbox",
	"mountain":   "tall snowy mountains under a clear blue sky",
	"cave":       "a mysterious cave with glowing crystals",
	"jungle":     "a dense jungle with giant leaves and hanging vines",
	"ocean":      "a wide sparkling blue ocean",
	"sea":        "a wide sparkling blue ocean",
	"lake":       "a calm lake surrounded by pine trees",
	"river":      "a gentle river winding through green hills",
	"space":      "outer space full of twinkling stars and colorful planets",
	"moon":       "the silvery surface of the moon with craters",
	"village":    "a small village with cobblestone streets and little cottages",
	"city":       "a busy city with tall buildings and bustling streets",
	"meadow":     "a wide meadow full of wildflowers",
	"backyard":   "a backyard with a wooden fence and a big tree",
}

// location nouns recognised without a canonical phrase; the first wording seen is kept
var otherLocations = []string{
	"woods", "island", "desert", "town", "street", "market", "museum", "field",
	"pond", "bakery", "shop", "store", "hospital", "palace", "tower", "bridge",
	"sky", "yard", "attic", "treehouse", "barn", "hill", "valley", "station",
	"airport", "restaurant", "cafe", "pool", "aquarium", "circus", "tent",
}

var (
	locationPattern *regexp.Regexp
	pluralAliases   = map[string]string{"mountains": "mountain", "clouds": "sky", "stars": "space"}
)

func init() {
	var nouns []string
	for k := range canonicalSettings {
		nouns = append(nouns, k)
	}
	nouns = append(nouns, otherLocations...)
	for k := range pluralAliases {
		nouns = append(nouns, k)
	}
	sort.Slice(nouns, func(i, j int) bool {
		if len(nouns[i]) != len(nouns[j]) {
			return len(nouns[i]) > len(nouns[j])
		}
		return nouns[i] < nouns[j]
	})
	locationPattern = regexp.MustCompile(
		`(?i)\b(?:in|at|on|inside|into|near|by|under|through|across|over|to|around|behind|beside|toward|towards|from)\s+` +
			`((?:(?:the|a|an|her|his|their|our|my|its)\s+)?(?:[a-z'-]+\s+){0,2}?(` + strings.Join(nouns, "|") + `))\b`)
}

// ExtractSceneLocation - best-effort location key for a scene description
// Returns false when no recognised location phrase is present; it never fails.
func ExtractSceneLocation(description string) (string, bool) {
	key, _, ok := extractLocation(description)
	return key, ok
}

func extractLocation(description string) (key, phrase string, ok bool) {
	m := locationPattern.FindStringSubmatch(description)
	if m == nil {
		return "", "", false
	}
	key = strings.ToLower(m[2])
	if alias, found := pluralAliases[key]; found {
		key = alias
	}
	return key, strings.ToLower(strings.TrimSpace(m[1])), true
}

// SceneSettings - normalized location key → canonical setting phrase, one entry per key
type SceneSettings map[string]string

// BuildConsistentSceneSettings - first canonical phrase per location wins across the story
func BuildConsistentSceneSettings(scenes []model.Scene) SceneSettings {
	settings := SceneSettings{}
	for _, sc := range scenes {
		key, phrase, ok := extractLocation(sc.Description)
		if !ok {
			continue
		}
		if _, exists := settings[key]; exists {
			continue
		}
		if canonical, known := canonicalSettings[key]; known {
			phrase = canonical
		}
		settings[key] = phrase
	}
	return settings
}

// For - canonical phrase for the scene's location, empty when it has none
func (s SceneSettings) For(sc model.Scene) string {
	key := sc.Location
	if key == "" {
		key, _ = ExtractSceneLocation(sc.Description)
	}
	if key == "" {
		return ""
	}
	return s[key]
}
