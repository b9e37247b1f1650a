package generateimages

import (
	"fmt"

	"storyme-server/modules/common/model"
	"storyme-server/modules/provider"
)

// Assemble - success means zero scene errors; partial batches still carry every usable image
func Assemble(results []SceneResult, limits model.Limits, p provider.Provider) Response {
	resp := Response{
		GeneratedImages: make([]model.GeneratedImage, 0, len(results)),
		TotalScenes:     len(results),
		Limits:          limits,
		ImageProvider:   p,
	}
	for _, r := range results {
		resp.GeneratedImages = append(resp.GeneratedImages, r.Image)
		if r.Success {
			resp.SuccessfulScenes++
			continue
		}
		resp.Errors = append(resp.Errors, sceneError(r.Image))
	}
	resp.Success = len(resp.Errors) == 0
	return resp
}

func sceneError(img model.GeneratedImage) string {
	if img.IsCover {
		return "Cover: " + img.Error
	}
	return fmt.Sprintf("Scene %d: %s", img.SceneNumber, img.Error)
}
