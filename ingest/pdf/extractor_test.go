package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// buildPDF writes a one-font PDF with one page per text, computing the
// cross-reference offsets.
func buildPDF(texts ...string) []byte {
	var objs []string
	kids := make([]string, len(texts))
	for i := range texts {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(texts)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)
	for i, text := range texts {
		stream := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	out, err := NewExtractor().Extract(buildPDF("Hello PDF", "Second page"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Hello") || !strings.Contains(out, "Second") {
		t.Errorf("missing page text: %q", out)
	}
}

func TestExtractMaxPages(t *testing.T) {
	out, err := NewExtractor(WithMaxPages(1)).Extract(buildPDF("Hello PDF", "Second page"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "Second") {
		t.Errorf("page limit ignored: %q", out)
	}
}

func TestExtractInvalid(t *testing.T) {
	e := NewExtractor()
	if _, err := e.Extract(nil); err == nil {
		t.Error("expected error for empty content")
	}
	if _, err := e.Extract([]byte("%PDF-1.4 truncated")); err == nil {
		t.Error("expected error for malformed content")
	}
}
