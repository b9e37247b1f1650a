package utils

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder
	"image/png"
	"io"
	"math"
	"net/http"
	"strings"

	_ "github.com/kolesa-team/go-webp/decoder" // WebP decoder
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog/log"
)

// ErrNotDataURL - the string is not a base64 data URL
var ErrNotDataURL = errors.New("not a base64 data URL")

// maxImageDownloadBytes - reference images larger than this are rejected
const maxImageDownloadBytes = 20 << 20

// IsDataURL - whether the string carries inline base64 image data
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:") && strings.Contains(s, ";base64,")
}

// EncodeDataURL - wrap raw bytes as data:<mime>;base64,...
func EncodeDataURL(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL - split a data URL into raw bytes and its mime type
func DecodeDataURL(s string) ([]byte, string, error) {
	if !IsDataURL(s) {
		return nil, "", ErrNotDataURL
	}
	header, payload, _ := strings.Cut(s, ",")
	mimeType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode base64 payload: %w", err)
	}
	return data, mimeType, nil
}

// ConvertToWebP - re-encode PNG/JPEG/WebP bytes as lossy WebP
func ConvertToWebP(imageData []byte, quality float32) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var webpBuffer bytes.Buffer
	if err := webp.Encode(&webpBuffer, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}

	webpData := webpBuffer.Bytes()
	log.Debug().Msgf("🔄 %s converted to WebP: %d bytes → %d bytes", format, len(imageData), len(webpData))
	return webpData, nil
}

// FitWithin - downscale so the longest side is at most maxSide, re-encoded as PNG
// Images already small enough are returned untouched.
func FitWithin(imageData []byte, maxSide int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return imageData, nil
	}

	scale := math.Min(float64(maxSide)/float64(b.Dx()), float64(maxSide)/float64(b.Dy()))
	resized := resizeImage(img, int(float64(b.Dx())*scale), int(float64(b.Dy())*scale))

	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

// resizeImage - nearest neighbour resize to exactly width x height
func resizeImage(src image.Image, width, height int) image.Image {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	sb := src.Bounds()
	scaleX := float64(sb.Dx()) / float64(width)
	scaleY := float64(sb.Dy()) / float64(height)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			srcX := sb.Min.X + int(float64(x)*scaleX)
			srcY := sb.Min.Y + int(float64(y)*scaleY)
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}

// DownloadImage - fetch an image over HTTP(S), or decode it if it is a data URL
func DownloadImage(ctx context.Context, client *http.Client, imageURL string) ([]byte, string, error) {
	if IsDataURL(imageURL) {
		return DecodeDataURL(imageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) > maxImageDownloadBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageDownloadBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// Truncate - shorten long prompts for log lines
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
