package grounding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelens/pagelens/internal/payload"
)

const grounded = "Intro.\n<|ref|>title<|/ref|><|det|>[[100, 50, 900, 120]]<|/det|>\nOutro."

func TestHasGrounding(t *testing.T) {
	assert.True(t, HasGrounding(grounded))
	assert.False(t, HasGrounding("plain text"))
	assert.False(t, HasGrounding("<|ref|>label only"))
}

func TestParseDetectionsScalesToPixels(t *testing.T) {
	boxes := ParseDetections(grounded, 999, 999)
	require.Len(t, boxes, 1)
	assert.Equal(t, payload.BoundingBox{Label: "title", Box: []int{100, 50, 900, 120}}, boxes[0])

	// Halve the grid: coordinates scale with the image dimensions.
	boxes = ParseDetections(grounded, 1998, 999)
	require.Len(t, boxes, 1)
	assert.Equal(t, []int{200, 50, 1800, 120}, boxes[0].Box)
}

func TestParseDetectionsMultipleQuads(t *testing.T) {
	text := "<|ref|>cell<|/ref|><|det|>[[0, 0, 10, 10], [20, 20, 30, 30]]<|/det|>"
	boxes := ParseDetections(text, 999, 999)
	require.Len(t, boxes, 2)
	assert.Equal(t, "cell", boxes[0].Label)
	assert.Equal(t, "cell", boxes[1].Label)
	assert.Equal(t, []int{20, 20, 30, 30}, boxes[1].Box)
}

func TestParseDetectionsSkipsMalformed(t *testing.T) {
	text := "<|ref|>bad<|/ref|><|det|>[[1, 2, 3]]<|/det|>" +
		"<|ref|>worse<|/ref|><|det|>[[not json]]<|/det|>"
	assert.Empty(t, ParseDetections(text, 999, 999))
	assert.Empty(t, ParseDetections(grounded, 0, 0))
}

func TestParseDetectionsClampsToBounds(t *testing.T) {
	text := "<|ref|>edge<|/ref|><|det|>[[-50, 0, 1200, 999]]<|/det|>"
	boxes := ParseDetections(text, 640, 480)
	require.Len(t, boxes, 1)
	assert.Equal(t, []int{0, 0, 640, 480}, boxes[0].Box)
}

func TestStripKeepsLabels(t *testing.T) {
	assert.Equal(t, "Intro.\ntitle\nOutro.", Strip(grounded))
}

func TestStripRemovesStrayTags(t *testing.T) {
	assert.Equal(t, "Convert this", Strip("<|grounding|>Convert this"))
	assert.Equal(t, "", Strip("<|grounding|>"))
}
