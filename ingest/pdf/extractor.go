// Package pdf extracts text from PDF documents.
//
// It uses ledongthuc/pdf (BSD-3, pure Go, no CGO). This is a separate
// subpackage so that the dependency is only pulled in by users who need
// PDF support; register it with ingest.WithExtractor(ingest.TypePDF, ...).
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/nevindra/tideline/ingest"
)

var _ ingest.Extractor = (*Extractor)(nil)

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxPages stops extraction after n pages. Zero means no limit.
func WithMaxPages(n int) Option {
	return func(e *Extractor) { e.maxPages = n }
}

// Extractor reads the plain text of every page, separated by blank lines.
// Unreadable pages are skipped.
type Extractor struct {
	maxPages int
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Extractor) Extract(content []byte) (text string, err error) {
	if len(content) == 0 {
		return "", errors.New("empty PDF content")
	}
	// The parser panics on some malformed files.
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", p)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	pages := r.NumPage()
	if e.maxPages > 0 {
		pages = min(pages, e.maxPages)
	}

	var out strings.Builder
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(pageText)
	}
	return out.String(), nil
}
