package gemini

import (
	"fmt"
	"strings"

	"storyme-server/modules/common/model"
	"storyme-server/modules/provider"
)

var stylePrompts = map[provider.Style]string{
	provider.Pixar: "3D animated movie style illustration in the spirit of Pixar, vibrant saturated colors, " +
		"soft global illumination, rounded friendly shapes, expressive faces.",
	provider.Classic: "Classic 2D hand-painted storybook illustration, watercolor and gouache textures, " +
		"warm gentle palette, visible brush strokes, timeless picture-book feel.",
	provider.Coloring: "Black and white coloring book page. Clean bold black outlines on a pure white background, " +
		"no color, no shading, no gray fills, large simple shapes a child can color in.",
}

// StylePrompt - opening style instruction for a style, pixar when unknown
func StylePrompt(style provider.Style) string {
	if p, ok := stylePrompts[style]; ok {
		return p
	}
	return stylePrompts[provider.Pixar]
}

// BuildScenePrompt - multimodal prompt; refs are the characters whose reference images are attached, in order
func BuildScenePrompt(in provider.GenerationInput, refs []model.CharacterPrompt) string {
	style := provider.EffectiveStyle(in.Style, in.SceneNumber)

	var b strings.Builder
	b.WriteString(StylePrompt(style))
	b.WriteString("\n\n")

	if in.IsCover {
		b.WriteString("This is the front cover of a children's picture book. Compose a single striking, joyful image with room at the top for a title. Do not draw any text.\n")
	}
	fmt.Fprintf(&b, "Scene: %s\n", strings.TrimSpace(in.SceneDescription))
	if in.Setting != "" {
		fmt.Fprintf(&b, "Setting (keep identical across pages): %s\n", in.Setting)
	}
	if extra := strings.TrimSpace(in.ArtStyle); extra != "" {
		fmt.Fprintf(&b, "Additional art direction: %s\n", extra)
	}

	if len(in.Characters) > 0 {
		b.WriteString("\nCharacters:\n")
		for _, c := range in.Characters {
			fmt.Fprintf(&b, "- %s", c.Name)
			if c.Description != "" {
				fmt.Fprintf(&b, ": %s", c.Description)
			}
			if outfit := in.OutfitFor(c.Name); outfit != "" && !strings.Contains(c.Description, outfit) {
				fmt.Fprintf(&b, "; wearing %s in every scene", outfit)
			}
			b.WriteString("\n")
		}
	}

	if len(refs) > 0 {
		b.WriteString("\nReference images are attached in this order: ")
		names := make([]string, 0, len(refs))
		for i, c := range refs {
			names = append(names, fmt.Sprintf("image %d = %s", i+1, c.Name))
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(". Keep each character's face, hair and proportions consistent with their reference.\n")
	}

	if in.ClothingConsistency == model.ClothingConsistent {
		b.WriteString("Characters keep the same outfit they wear in their reference image unless an outfit is given above.\n")
	}
	if style == provider.Coloring {
		b.WriteString("Output must remain pure black line art even if reference images are in color.\n")
	}
	b.WriteString("Do not include any text, letters or captions in the image.")
	return b.String()
}

// BuildPreviewPrompt - single-character avatar used as the stylized reference for later scenes
func BuildPreviewPrompt(c model.CharacterPrompt, style provider.Style) string {
	var b strings.Builder
	b.WriteString(StylePrompt(style))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Full-body character portrait of %s, standing and smiling, facing the viewer, plain light background.\n", c.Name)
	if c.Description != "" {
		fmt.Fprintf(&b, "Appearance: %s\n", c.Description)
	}
	if c.ReferenceImageURL != "" {
		b.WriteString("Match the face, hair and skin tone of the person in the attached photo.\n")
	}
	b.WriteString("Do not include any text.")
	return b.String()
}
