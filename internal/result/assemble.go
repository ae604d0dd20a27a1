// Package result builds the client-facing result view from a task's stored
// payload, including download URLs for generated artifacts.
package result

import (
	"fmt"

	"github.com/pagelens/pagelens/internal/payload"
)

// TaskResult is the normalized view of a finished task's artifacts.
type TaskResult struct {
	MarkdownURL string       `json:"markdown_url,omitempty"`
	RawJSONURL  string       `json:"raw_json_url,omitempty"`
	ArchiveURL  string       `json:"archive_url,omitempty"`
	ImageURLs   []string     `json:"image_urls,omitempty"`
	Pages       []PageResult `json:"pages,omitempty"`
}

// PageResult is one page of a multi-page result.
type PageResult struct {
	Index       int                   `json:"index"`
	Markdown    string                `json:"markdown"`
	RawText     string                `json:"raw_text"`
	ImageAssets []string              `json:"image_assets"`
	Boxes       []payload.BoundingBox `json:"boxes"`
}

// DownloadURL maps a task-relative artifact path to its download route. Empty
// paths map to an empty URL.
func DownloadURL(taskID, relative string) string {
	if relative == "" {
		return ""
	}
	return fmt.Sprintf("/api/tasks/%s/download/%s", taskID, relative)
}

// Assemble renders the result view for a task. It returns nil when the payload
// yields nothing displayable, which is distinct from "task not finished": a
// succeeded image task with no artifact files still has no downloadable result.
func Assemble(taskID string, doc payload.Document) *TaskResult {
	if doc.PDF == nil {
		return nil
	}
	pdf := doc.PDF
	res := &TaskResult{
		MarkdownURL: DownloadURL(taskID, pdf.MarkdownFile),
		RawJSONURL:  DownloadURL(taskID, pdf.RawJSONFile),
		ArchiveURL:  DownloadURL(taskID, pdf.ArchiveFile),
	}
	for _, rel := range pdf.Images {
		if url := DownloadURL(taskID, rel); url != "" {
			res.ImageURLs = append(res.ImageURLs, url)
		}
	}
	for _, page := range pdf.Pages {
		res.Pages = append(res.Pages, PageResult{
			Index:       page.Index,
			Markdown:    page.Markdown,
			RawText:     page.RawText,
			ImageAssets: page.ImageAssets,
			Boxes:       page.Boxes,
		})
	}
	if res.MarkdownURL == "" && res.RawJSONURL == "" && res.ArchiveURL == "" &&
		len(res.ImageURLs) == 0 && len(res.Pages) == 0 {
		return nil
	}
	return res
}
