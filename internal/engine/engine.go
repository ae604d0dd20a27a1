// Package engine defines the inference collaborator contract and its two
// providers: a remote model sidecar and a local Tesseract engine.
package engine

import (
	"context"
	"errors"
)

// ErrNotReady is returned while the backing model is still loading. The API
// maps it to a 503 without creating a task.
var ErrNotReady = errors.New("inference engine not ready")

// Params carries the decoding knobs forwarded to the model.
type Params struct {
	BaseSize  int
	ImageSize int
	CropMode  bool
}

// Engine is the inference contract the orchestration core depends on.
type Engine interface {
	Name() string
	// Ready reports whether the engine can serve inference now.
	Ready(ctx context.Context) bool
	// Infer runs OCR over the image at imagePath and returns the raw model
	// output, grounding markup included.
	Infer(ctx context.Context, prompt, imagePath string, params Params) (string, error)
}
