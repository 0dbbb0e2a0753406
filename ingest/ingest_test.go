package ingest

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func para(text string) string {
	return `<w:p><w:r><w:t>` + text + `</w:t></w:r></w:p>`
}

func cell(text string) string {
	return `<w:tc>` + para(text) + `</w:tc>`
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want ContentType
	}{
		{"pdf", []byte("%PDF-1.7\n..."), TypePDF},
		{"docx", buildDOCX(t, para("x")), TypeDOCX},
		{"json", []byte(`  {"a": 1}`), TypeJSON},
		{"html", []byte("<!DOCTYPE html><html><body>hi</body></html>"), TypeHTML},
		{"text", []byte("just some notes\nline two"), TypePlainText},
		{"bracketed text", []byte("[draft] notes"), TypePlainText},
		{"binary", []byte{0x00, 0xff, 0xfe, 0x01, 0x80}, TypeUnknown},
	}
	for _, tt := range tests {
		if got := Detect(tt.in); got != tt.want {
			t.Errorf("%s: Detect = %s, want %s", tt.name, got, tt.want)
		}
	}
}

type stubExtractor string

func (s stubExtractor) Extract([]byte) (string, error) { return string(s), nil }

func TestRouter(t *testing.T) {
	r := NewRouter(WithExtractor(TypePDF, stubExtractor("pdf text")))

	got, err := r.Extract([]byte("%PDF-1.4 body"))
	if err != nil || got != "pdf text" {
		t.Errorf("pdf = %q, %v", got, err)
	}
	got, _ = r.Extract([]byte(`{"city":"Osaka"}`))
	if got != "city: Osaka" {
		t.Errorf("json = %q", got)
	}
	if _, err := r.Extract(nil); err == nil {
		t.Error("empty content should fail")
	}
	if _, err := NewRouter().Extract([]byte("%PDF-1.4")); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("unregistered pdf err = %v", err)
	}
}

func TestStripHTML(t *testing.T) {
	in := `<html><head><title>T</title><style>p{color:red}</style></head><body>` +
		`<h1>Tom &amp; Jerry</h1><p>Hello   <b>world</b></p>` +
		`<script>alert('x')</script><p>Bye&nbsp;now</p></body></html>`
	got := StripHTML(in)
	want := "Tom & Jerry\nHello world\nBye now"
	if got != want {
		t.Errorf("StripHTML = %q, want %q", got, want)
	}
}

func TestDOCXExtractor(t *testing.T) {
	body := para("Quarterly report") +
		`<w:tbl>` +
		`<w:tr>` + cell("Region") + cell("Sales") + `</w:tr>` +
		`<w:tr>` + cell("North") + cell("120") + `</w:tr>` +
		`<w:tr>` + cell("South") + cell("") + `</w:tr>` +
		`</w:tbl>` +
		para("End")
	got, err := NewDOCXExtractor().Extract(buildDOCX(t, body))
	if err != nil {
		t.Fatal(err)
	}
	want := "Quarterly report\n\nRegion: North, Sales: 120\n\nRegion: South\n\nEnd"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDOCXExtractorInvalid(t *testing.T) {
	e := NewDOCXExtractor()
	if _, err := e.Extract(nil); err == nil {
		t.Error("expected error for empty content")
	}
	if _, err := e.Extract([]byte("not a zip")); err == nil {
		t.Error("expected error for invalid zip")
	}
}
