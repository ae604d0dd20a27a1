package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTrip(t *testing.T) {
	doc := Document{
		PDF: &PDFResult{
			MarkdownFile: "result.md",
			Pages: []Page{{
				Index:       1,
				Markdown:    "# hi",
				RawText:     "raw",
				ImageAssets: []string{"pages/page-01.png"},
				Boxes:       []BoundingBox{{Label: "title", Box: []int{0, 0, 10, 10}}},
			}},
		},
		Progress: &Progress{Current: 1, Total: 1, Percent: 100, Message: "done"},
	}
	raw, err := doc.Encode()
	require.NoError(t, err)

	decoded := Decode(raw)
	require.NotNil(t, decoded.PDF)
	assert.Equal(t, "result.md", decoded.PDF.MarkdownFile)
	require.Len(t, decoded.PDF.Pages, 1)
	assert.Equal(t, doc.PDF.Pages[0], decoded.PDF.Pages[0])
	require.NotNil(t, decoded.Progress)
	assert.Equal(t, *doc.Progress, *decoded.Progress)
}

func TestDecodeMalformedInput(t *testing.T) {
	assert.True(t, Decode(nil).Empty())
	assert.True(t, Decode([]byte(`not json`)).Empty())
	assert.True(t, Decode([]byte(`[]`)).Empty())
}

func TestDecodeProgressCoercion(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want *Progress
	}{
		{"not an object", "50%", nil},
		{"nil", nil, nil},
		{"defaults", map[string]any{}, &Progress{}},
		{
			"well formed",
			map[string]any{"current": 3.0, "total": 10.0, "percent": 30.0, "message": "page 3/10"},
			&Progress{Current: 3, Total: 10, Percent: 30, Message: "page 3/10"},
		},
		{
			"malformed numbers fall back to zero",
			map[string]any{"current": "three", "total": []any{}, "percent": "fast", "message": 7.0},
			&Progress{},
		},
		{
			"numeric strings are accepted",
			map[string]any{"current": "3", "percent": "12.5"},
			&Progress{Current: 3, Percent: 12.5},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DecodeProgress(tc.in))
		})
	}
}

func TestDecodeBoxFiltering(t *testing.T) {
	raw := []byte(`{"pdf":{"pages":[{"index":0,"boxes":[
		{"label":"a","box":[0,0,10,10]},
		{"label":"b"},
		{"box":[1,2,3,4]},
		{"label":"c","box":[1,2,3]},
		{"label":"d","box":[1,"x",3,4]},
		"junk"
	]}]}}`)
	doc := Decode(raw)
	require.NotNil(t, doc.PDF)
	require.Len(t, doc.PDF.Pages, 1)
	boxes := doc.PDF.Pages[0].Boxes
	require.Len(t, boxes, 1)
	assert.Equal(t, BoundingBox{Label: "a", Box: []int{0, 0, 10, 10}}, boxes[0])
}

func TestDecodeSkipsMalformedPages(t *testing.T) {
	raw := []byte(`{"pdf":{"pages":["junk",{"markdown":"ok"}]}}`)
	doc := Decode(raw)
	require.NotNil(t, doc.PDF)
	require.Len(t, doc.PDF.Pages, 1)
	assert.Equal(t, 0, doc.PDF.Pages[0].Index)
	assert.Equal(t, "ok", doc.PDF.Pages[0].Markdown)
}
