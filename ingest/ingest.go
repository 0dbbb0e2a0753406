// Package ingest turns document bytes into plain text for the chat model.
//
// A Router sniffs the content and dispatches to the extractor registered
// for its type. HTML, DOCX, JSON and plain text are built in; PDF support
// lives in ingest/pdf so the dependency is only pulled in when registered:
//
//	docs := ingest.NewRouter(ingest.WithExtractor(ingest.TypePDF, pdf.NewExtractor()))
//	session, _ := tideline.NewSession(ctx, store, models, id, tideline.WithDocumentExtractor(docs))
package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Extractor converts raw content to plain text.
type Extractor interface {
	Extract(content []byte) (string, error)
}

// ContentType identifies the MIME type of content for extraction.
type ContentType string

const (
	TypePlainText ContentType = "text/plain"
	TypeHTML      ContentType = "text/html"
	TypeJSON      ContentType = "application/json"
	TypeDOCX      ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypePDF       ContentType = "application/pdf"
	TypeUnknown   ContentType = "application/octet-stream"
)

// Detect sniffs the content type from the leading bytes.
func Detect(content []byte) ContentType {
	switch {
	case bytes.HasPrefix(content, []byte("%PDF-")):
		return TypePDF
	case bytes.HasPrefix(content, []byte("PK\x03\x04")):
		if isDOCX(content) {
			return TypeDOCX
		}
		return TypeUnknown
	}
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf")))
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		return TypeJSON
	}
	sniffed := http.DetectContentType(content)
	switch {
	case strings.HasPrefix(sniffed, "text/html"):
		return TypeHTML
	case strings.HasPrefix(sniffed, "text/"), utf8.Valid(content):
		return TypePlainText
	}
	return TypeUnknown
}

func isDOCX(content []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithExtractor registers e for content type ct, replacing any built-in.
func WithExtractor(ct ContentType, e Extractor) RouterOption {
	return func(r *Router) { r.extractors[ct] = e }
}

// Router dispatches extraction by detected content type. It satisfies
// tideline.DocumentExtractor.
type Router struct {
	extractors map[ContentType]Extractor
}

func NewRouter(opts ...RouterOption) *Router {
	r := &Router{extractors: map[ContentType]Extractor{
		TypePlainText: PlainTextExtractor{},
		TypeHTML:      HTMLExtractor{},
		TypeJSON:      NewJSONExtractor(),
		TypeDOCX:      NewDOCXExtractor(),
	}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Extract returns the text of content, or an error when its type has no
// registered extractor.
func (r *Router) Extract(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty content")
	}
	ct := Detect(content)
	e, ok := r.extractors[ct]
	if !ok {
		return "", fmt.Errorf("unsupported content type %s", ct)
	}
	text, err := e.Extract(content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", ct, err)
	}
	return text, nil
}

// PlainTextExtractor returns content as-is, minus a UTF-8 byte order mark.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(content []byte) (string, error) {
	return string(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))), nil
}

// HTMLExtractor strips HTML tags, scripts and styles.
type HTMLExtractor struct{}

func (HTMLExtractor) Extract(content []byte) (string, error) {
	return StripHTML(string(content)), nil
}
