// Package pdfinfo inspects uploaded PDFs with ledongthuc/pdf.
package pdfinfo

import (
	"fmt"

	pdf "github.com/ledongthuc/pdf"
)

// PageCount returns the number of pages in the PDF at path. The worker uses
// it to seed the progress total before any page has been rendered.
func PageCount(path string) (int, error) {
	f, doc, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return doc.NumPage(), nil
}
