package engine

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract runs OCR locally through gosseract for deployments without a
// model sidecar. It ignores the prompt and never emits grounding markup, so
// results carry text only.
type Tesseract struct {
	languages []string
}

// NewTesseract constructs the local engine with optional language hints.
func NewTesseract(languages ...string) *Tesseract {
	return &Tesseract{languages: languages}
}

func (t *Tesseract) Name() string { return "tesseract" }

// Ready is always true: the trained data is loaded per call.
func (t *Tesseract) Ready(context.Context) bool { return true }

// Infer recognizes the image with a fresh client per call, the cheapest way
// to keep gosseract's cgo state off shared goroutines.
func (t *Tesseract) Infer(ctx context.Context, _ string, imagePath string, _ Params) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if len(t.languages) > 0 {
		if err := client.SetLanguage(t.languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return text, nil
}
