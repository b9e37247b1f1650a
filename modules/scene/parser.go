package scene

import (
	"errors"
	"regexp"
	"strings"

	"storyme-server/modules/common/model"
)

// ErrNoValidScenes - the script produced no usable scene lines
var ErrNoValidScenes = errors.New("No valid scenes found")

// scene markers such as "Scene 3:", "Page 2 -", "3.", "3)", "-", "*", "•"
var sceneMarker = regexp.MustCompile(`(?i)^\s*(?:(?:scene|page)\s*\d+\s*[:.)\-]?|\d+\s*[.):\-]|[-*•])\s*`)

// ParseScriptIntoScenes - one scene per non-empty script line, numbered from 1
// Character names are matched as whole words, case-insensitively. A scene
// naming nobody gets an empty list, meaning every character applies.
func ParseScriptIntoScenes(script string, characters []model.Character) ([]model.Scene, error) {
	matchers := nameMatchers(characters)

	var scenes []model.Scene
	for _, line := range strings.Split(strings.ReplaceAll(script, "\r\n", "\n"), "\n") {
		text := strings.TrimSpace(sceneMarker.ReplaceAllString(line, ""))
		if text == "" {
			continue
		}

		sc := model.Scene{
			SceneNumber: len(scenes) + 1,
			Description: text,
			Characters:  []string{},
		}
		for _, m := range matchers {
			if m.re.MatchString(text) {
				sc.Characters = append(sc.Characters, m.name)
			}
		}
		if loc, ok := ExtractSceneLocation(text); ok {
			sc.Location = loc
		}
		scenes = append(scenes, sc)
	}

	if len(scenes) == 0 {
		return nil, ErrNoValidScenes
	}
	return scenes, nil
}

type nameMatcher struct {
	name string
	re   *regexp.Regexp
}

func nameMatchers(characters []model.Character) []nameMatcher {
	var out []nameMatcher
	seen := map[string]bool{}
	for _, c := range characters {
		name := strings.TrimSpace(c.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, nameMatcher{name: name, re: wordPattern(name)})
	}
	return out
}

// wordPattern - case-insensitive whole-word match that also works for non-ASCII names
func wordPattern(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(word) + `(?:$|[^\p{L}\p{N}_])`)
}
