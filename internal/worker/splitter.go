package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// Splitter renders a PDF into one image per page. The rendering pipeline is a
// collaborator: the processor only needs ordered page image paths back.
type Splitter interface {
	Split(ctx context.Context, pdfPath, destDir string) ([]string, error)
}

// PopplerSplitter shells out to pdftoppm, the same pattern the rest of the
// stack uses for ffmpeg-style external binaries.
type PopplerSplitter struct {
	// DPI controls render resolution; zero means 144.
	DPI int
}

// Split renders every page of the PDF into destDir as page-N.png and returns
// the paths in page order.
func (s *PopplerSplitter) Split(ctx context.Context, pdfPath, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pages dir: %w", err)
	}
	dpi := s.DPI
	if dpi <= 0 {
		dpi = 144
	}
	prefix := filepath.Join(destDir, "page")
	cmd := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", fmt.Sprint(dpi), pdfPath, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, out)
	}
	pages, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("list rendered pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no pages for %s", pdfPath)
	}
	// pdftoppm zero-pads page numbers, so lexical order is page order.
	sort.Strings(pages)
	return pages, nil
}
