package character

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storyme-server/modules/common/model"
)

const baseURL = "https://app.kindlewood.test"

func TestResolveReferenceImageURL(t *testing.T) {
	cases := []struct {
		name     string
		c        model.Character
		expected string
	}{
		{
			name:     "both present prefers preview",
			c:        model.Character{AnimatedPreviewURL: "https://cdn.test/preview.png", ReferenceImageURL: "https://cdn.test/photo.jpg"},
			expected: "https://cdn.test/preview.png",
		},
		{
			name:     "preview only",
			c:        model.Character{AnimatedPreviewURL: "https://cdn.test/preview.png"},
			expected: "https://cdn.test/preview.png",
		},
		{
			name:     "photo only",
			c:        model.Character{ReferenceImageURL: "https://cdn.test/photo.jpg"},
			expected: "https://cdn.test/photo.jpg",
		},
		{
			name:     "neither",
			c:        model.Character{},
			expected: "",
		},
		{
			name:     "blank preview falls through to photo",
			c:        model.Character{AnimatedPreviewURL: "   ", ReferenceImageURL: "https://cdn.test/photo.jpg"},
			expected: "https://cdn.test/photo.jpg",
		},
		{
			name:     "relative path resolved against base",
			c:        model.Character{ReferenceImageURL: "/uploads/mira.png"},
			expected: "https://app.kindlewood.test/uploads/mira.png",
		},
		{
			name:     "relative path without leading slash",
			c:        model.Character{AnimatedPreviewURL: "previews/mira.png"},
			expected: "https://app.kindlewood.test/previews/mira.png",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ResolveReferenceImageURL(tc.c, baseURL))
		})
	}
}

func TestDescribe(t *testing.T) {
	c := model.Character{
		Name:          "Mira",
		Age:           "6",
		HairColor:     "curly brown",
		SkinTone:      "light",
		Clothing:      "a red dress",
		OtherFeatures: "freckles",
	}
	assert.Equal(t, "6 years old, curly brown hair, light skin, wearing a red dress, freckles", Describe(c))
	assert.Empty(t, Describe(model.Character{Name: "Leo"}))
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(nil), ErrNoCharacters)
	assert.ErrorIs(t, Validate([]model.Character{{Name: "A", IsPrimary: true}, {Name: "B", IsPrimary: true}}), ErrMultiplePrimary)
	assert.Error(t, Validate([]model.Character{{Name: " "}}))
	assert.NoError(t, Validate([]model.Character{{Name: "A", IsPrimary: true}, {Name: "B"}}))
}

func TestForScene(t *testing.T) {
	all := BuildCharacterPrompts([]model.Character{{Name: "Mira"}, {Name: "Leo"}}, baseURL)

	assert.Equal(t, all, ForScene(all, nil))
	assert.Equal(t, []model.CharacterPrompt{all[1]}, ForScene(all, []string{"leo"}))
	assert.Equal(t, all, ForScene(all, []string{"Nobody"}), "unmatched names fall back to everyone")
}
