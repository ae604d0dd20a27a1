// Package payload models the task result payload as a tagged union: an image
// variant for the synchronous path and a pdf variant for the queued path, plus
// a progress snapshot the worker patches in while pages complete.
//
// Decoding is deliberately permissive. The payload column is written by a
// separate worker process and is treated as untrusted input: malformed numbers
// coerce to zero, malformed box entries are skipped, and a payload that decodes
// to nothing yields an empty Document rather than an error.
package payload

import "encoding/json"

// BoundingBox is one detection: a label plus [x1, y1, x2, y2] in pixels.
type BoundingBox struct {
	Label string `json:"label"`
	Box   []int  `json:"box"`
}

// Dims carries the pixel dimensions of the source image.
type Dims struct {
	W int `json:"w"`
	H int `json:"h"`
}

// ImageResult is the payload variant produced by the synchronous image path.
type ImageResult struct {
	Text      string        `json:"text"`
	RawText   string        `json:"raw_text"`
	Boxes     []BoundingBox `json:"boxes"`
	ImageDims *Dims         `json:"image_dims,omitempty"`
}

// Page is one page of a PDF result.
type Page struct {
	Index       int           `json:"index"`
	Markdown    string        `json:"markdown"`
	RawText     string        `json:"raw_text"`
	ImageAssets []string      `json:"image_assets"`
	Boxes       []BoundingBox `json:"boxes"`
}

// PDFResult is the payload variant produced by the PDF worker. File references
// are relative to the task output directory.
type PDFResult struct {
	MarkdownFile string   `json:"markdown_file,omitempty"`
	RawJSONFile  string   `json:"raw_json_file,omitempty"`
	ArchiveFile  string   `json:"archive_file,omitempty"`
	Images       []string `json:"images,omitempty"`
	Pages        []Page   `json:"pages,omitempty"`
}

// Progress is the worker's incremental progress snapshot.
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Message string  `json:"message,omitempty"`
}

// Document is the persisted union. At most one result variant is set; Progress
// may accompany either or stand alone while a PDF task is still running.
type Document struct {
	Image    *ImageResult `json:"image,omitempty"`
	PDF      *PDFResult   `json:"pdf,omitempty"`
	Progress *Progress    `json:"progress,omitempty"`
}

// Empty reports whether the document carries neither variant nor progress.
func (d Document) Empty() bool {
	return d.Image == nil && d.PDF == nil && d.Progress == nil
}

// Encode marshals the document for persistence.
func (d Document) Encode() (json.RawMessage, error) {
	return json.Marshal(d)
}

// Decode parses a stored payload. It never fails: unparseable input produces
// an empty Document.
func Decode(raw json.RawMessage) Document {
	if len(raw) == 0 {
		return Document{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Document{}
	}
	doc := Document{Progress: DecodeProgress(m["progress"])}
	if img, ok := m["image"].(map[string]any); ok {
		doc.Image = decodeImage(img)
	}
	if pdf, ok := m["pdf"].(map[string]any); ok {
		doc.PDF = decodePDF(pdf)
	}
	return doc
}

// DecodeProgress coerces a loosely typed progress object. Anything that is not
// an object yields nil; malformed fields fall back to zero values.
func DecodeProgress(v any) *Progress {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	p := &Progress{
		Current: asInt(m["current"]),
		Total:   asInt(m["total"]),
		Percent: asFloat(m["percent"]),
	}
	if msg, ok := m["message"].(string); ok {
		p.Message = msg
	}
	return p
}

func decodeImage(m map[string]any) *ImageResult {
	res := &ImageResult{
		Text:    asString(m["text"]),
		RawText: asString(m["raw_text"]),
		Boxes:   decodeBoxes(m["boxes"]),
	}
	if dims, ok := m["image_dims"].(map[string]any); ok {
		res.ImageDims = &Dims{W: asInt(dims["w"]), H: asInt(dims["h"])}
	}
	return res
}

func decodePDF(m map[string]any) *PDFResult {
	res := &PDFResult{
		MarkdownFile: asString(m["markdown_file"]),
		RawJSONFile:  asString(m["raw_json_file"]),
		ArchiveFile:  asString(m["archive_file"]),
		Images:       asStrings(m["images"]),
	}
	if pages, ok := m["pages"].([]any); ok {
		for _, entry := range pages {
			pm, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			res.Pages = append(res.Pages, Page{
				Index:       asInt(pm["index"]),
				Markdown:    asString(pm["markdown"]),
				RawText:     asString(pm["raw_text"]),
				ImageAssets: asStrings(pm["image_assets"]),
				Boxes:       decodeBoxes(pm["boxes"]),
			})
		}
	}
	return res
}

// decodeBoxes keeps only structured entries carrying both a string label and a
// four-integer box; everything else is skipped silently.
func decodeBoxes(v any) []BoundingBox {
	entries, ok := v.([]any)
	if !ok {
		return nil
	}
	var boxes []BoundingBox
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		label, ok := m["label"].(string)
		if !ok {
			continue
		}
		coords, ok := m["box"].([]any)
		if !ok || len(coords) != 4 {
			continue
		}
		box := make([]int, 4)
		valid := true
		for i, c := range coords {
			f, ok := c.(float64)
			if !ok {
				valid = false
				break
			}
			box[i] = int(f)
		}
		if !valid {
			continue
		}
		boxes = append(boxes, BoundingBox{Label: label, Box: box})
	}
	return boxes
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	entries, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, entry := range entries {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		var parsed float64
		if err := json.Unmarshal([]byte(n), &parsed); err == nil {
			return int(parsed)
		}
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		var parsed float64
		if err := json.Unmarshal([]byte(n), &parsed); err == nil {
			return parsed
		}
	}
	return 0
}
