// Package grounding parses the inline detection markup the OCR model emits.
//
// Grounded output interleaves text with reference/detection pairs:
//
//	<|ref|>title<|/ref|><|det|>[[120, 80, 880, 140]]<|/det|>
//
// Coordinates are expressed on a 0-999 grid and scale to the pixel dimensions
// of the source image.
package grounding

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/pagelens/pagelens/internal/payload"
)

const coordGrid = 999

var (
	detectionRe = regexp.MustCompile(`<\|ref\|>(.*?)<\|/ref\|><\|det\|>(\[\[.*?\]\])<\|/det\|>`)
	strayTagRe  = regexp.MustCompile(`<\|/?(?:ref|det|grounding)\|>`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// HasGrounding reports whether text carries detection markup.
func HasGrounding(text string) bool {
	return strings.Contains(text, "<|ref|>") && strings.Contains(text, "<|det|>")
}

// ParseDetections extracts bounding boxes from grounded text, scaled to the
// given pixel dimensions. A reference with several coordinate quads yields one
// box per quad under the same label. Malformed coordinate blocks are skipped.
func ParseDetections(text string, width, height int) []payload.BoundingBox {
	if width <= 0 || height <= 0 {
		return nil
	}
	var boxes []payload.BoundingBox
	for _, match := range detectionRe.FindAllStringSubmatch(text, -1) {
		label := strings.TrimSpace(match[1])
		var quads [][]float64
		if err := json.Unmarshal([]byte(match[2]), &quads); err != nil {
			continue
		}
		for _, quad := range quads {
			if len(quad) != 4 {
				continue
			}
			boxes = append(boxes, payload.BoundingBox{
				Label: label,
				Box: []int{
					scale(quad[0], width),
					scale(quad[1], height),
					scale(quad[2], width),
					scale(quad[3], height),
				},
			})
		}
	}
	return boxes
}

func scale(v float64, dim int) int {
	px := int(math.Round(v * float64(dim) / coordGrid))
	if px < 0 {
		return 0
	}
	if px > dim {
		return dim
	}
	return px
}

// Strip removes grounding markup, keeping each reference's label text in
// place, and collapses the blank runs the removal leaves behind.
func Strip(text string) string {
	cleaned := detectionRe.ReplaceAllString(text, "$1")
	cleaned = strayTagRe.ReplaceAllString(cleaned, "")
	cleaned = blankRunRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
