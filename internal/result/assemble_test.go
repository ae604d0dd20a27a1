package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelens/pagelens/internal/payload"
)

func TestAssembleImageVariantYieldsNoResult(t *testing.T) {
	// A succeeded image task has text and boxes but no downloadable artifacts.
	doc := payload.Document{Image: &payload.ImageResult{Text: "hello", Boxes: []payload.BoundingBox{}}}
	assert.Nil(t, Assemble("T", doc))
}

func TestAssembleEmptyPayload(t *testing.T) {
	assert.Nil(t, Assemble("T", payload.Document{}))
	assert.Nil(t, Assemble("T", payload.Document{PDF: &payload.PDFResult{}}))
}

func TestAssembleArtifactURLs(t *testing.T) {
	doc := payload.Document{PDF: &payload.PDFResult{
		MarkdownFile: "out.md",
		RawJSONFile:  "out.json",
		ArchiveFile:  "out.zip",
		Images:       []string{"pages/page-01.png", "pages/page-02.png"},
	}}
	res := Assemble("T", doc)
	require.NotNil(t, res)
	assert.Equal(t, "/api/tasks/T/download/out.md", res.MarkdownURL)
	assert.Equal(t, "/api/tasks/T/download/out.json", res.RawJSONURL)
	assert.Equal(t, "/api/tasks/T/download/out.zip", res.ArchiveURL)
	assert.Equal(t, []string{
		"/api/tasks/T/download/pages/page-01.png",
		"/api/tasks/T/download/pages/page-02.png",
	}, res.ImageURLs)
}

func TestAssembleAbsentKeysYieldNoURL(t *testing.T) {
	doc := payload.Document{PDF: &payload.PDFResult{MarkdownFile: "out.md"}}
	res := Assemble("T", doc)
	require.NotNil(t, res)
	assert.Equal(t, "/api/tasks/T/download/out.md", res.MarkdownURL)
	assert.Empty(t, res.RawJSONURL)
	assert.Empty(t, res.ArchiveURL)
	assert.Empty(t, res.ImageURLs)
}

func TestAssemblePagesPreserved(t *testing.T) {
	doc := payload.Document{PDF: &payload.PDFResult{
		Pages: []payload.Page{
			{Index: 0, Markdown: "# one", RawText: "one", ImageAssets: []string{"pages/page-01.png"}},
			{Index: 1, Markdown: "# two", RawText: "two"},
		},
	}}
	res := Assemble("T", doc)
	require.NotNil(t, res)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, 0, res.Pages[0].Index)
	assert.Equal(t, "# two", res.Pages[1].Markdown)
}
