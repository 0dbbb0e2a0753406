package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxZipEntrySize limits the decompressed size of word/document.xml
// (100 MB).
const maxZipEntrySize = 100 << 20

// DOCXExtractor extracts paragraphs and tables from DOCX documents by
// streaming the OOXML tokens of word/document.xml. Table rows become
// "Header: Value" lines keyed by the first row.
type DOCXExtractor struct{}

func NewDOCXExtractor() *DOCXExtractor { return &DOCXExtractor{} }

func (e *DOCXExtractor) Extract(content []byte) (string, error) {
	if len(content) == 0 {
		return "", errors.New("empty docx content")
	}
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("missing word/document.xml")
	}
	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	var w docxWriter
	if err := w.parse(io.LimitReader(rc, maxZipEntrySize)); err != nil {
		return "", err
	}
	return strings.TrimSpace(w.out.String()), nil
}

// docxWriter accumulates text while walking document.xml.
type docxWriter struct {
	out strings.Builder

	paragraph strings.Builder
	inRun     bool

	tableDepth int
	header     []string
	row        []string
	cell       strings.Builder
	rowIndex   int
}

func (w *docxWriter) parse(r io.Reader) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			w.start(t.Name.Local)
		case xml.EndElement:
			w.end(t.Name.Local)
		case xml.CharData:
			if !w.inRun {
				continue
			}
			if w.tableDepth > 0 {
				w.cell.Write(t)
			} else {
				w.paragraph.Write(t)
			}
		}
	}
}

func (w *docxWriter) start(name string) {
	switch name {
	case "r":
		w.inRun = true
	case "tab":
		if w.tableDepth == 0 {
			w.paragraph.WriteByte('\t')
		}
	case "tbl":
		w.tableDepth++
		if w.tableDepth == 1 {
			w.header = nil
			w.rowIndex = 0
		}
	case "tr":
		w.row = w.row[:0]
	case "tc":
		w.cell.Reset()
	}
}

func (w *docxWriter) end(name string) {
	switch name {
	case "r":
		w.inRun = false
	case "p":
		if w.tableDepth > 0 {
			w.cell.WriteByte(' ')
			return
		}
		w.block(strings.TrimSpace(w.paragraph.String()))
		w.paragraph.Reset()
	case "tc":
		w.row = append(w.row, strings.Join(strings.Fields(w.cell.String()), " "))
	case "tr":
		if w.tableDepth != 1 {
			return
		}
		if w.rowIndex == 0 {
			w.header = append([]string(nil), w.row...)
		} else {
			w.block(w.labelRow())
		}
		w.rowIndex++
	case "tbl":
		w.tableDepth--
	}
}

func (w *docxWriter) labelRow() string {
	var fields []string
	for i, v := range w.row {
		if v == "" {
			continue
		}
		if i < len(w.header) && w.header[i] != "" {
			fields = append(fields, w.header[i]+": "+v)
		} else {
			fields = append(fields, v)
		}
	}
	return strings.Join(fields, ", ")
}

func (w *docxWriter) block(text string) {
	if text == "" {
		return
	}
	if w.out.Len() > 0 {
		w.out.WriteString("\n\n")
	}
	w.out.WriteString(text)
}
