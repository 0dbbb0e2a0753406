package recognize

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

func TestQRRecognizeCode(t *testing.T) {
	img, err := qrcode.NewQRCodeWriter().Encode("https://example.com/menu", gozxing.BarcodeFormat_QR_CODE, 200, 200, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := NewQR().RecognizeCode(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://example.com/menu" {
		t.Errorf("got %q", got)
	}
}

func TestQRNoCode(t *testing.T) {
	blank := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}
	got, err := NewQR().RecognizeCode(context.Background(), blank)
	if err != nil || got != "" {
		t.Errorf("blank image = %q, %v", got, err)
	}
}

// fakeTesseract writes a script standing in for the tesseract binary.
func fakeTesseract(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts unavailable")
	}
	path := filepath.Join(t.TempDir(), "tesseract")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTesseract(t *testing.T) {
	bin := fakeTesseract(t, `cat >/dev/null; echo "args: $*"; echo "  "`)
	ocr := NewTesseract(WithBinary(bin), WithLanguages("eng+jpn"))
	if !ocr.Available() {
		t.Fatal("fake binary should be available")
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.Black)
	got, err := ocr.RecognizeText(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if got != "args: stdin stdout -l eng+jpn" {
		t.Errorf("got %q", got)
	}
}

func TestTesseractFailure(t *testing.T) {
	bin := fakeTesseract(t, `echo "bad image" >&2; exit 1`)
	_, err := NewTesseract(WithBinary(bin)).RecognizeText(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestTesseractMissing(t *testing.T) {
	ocr := NewTesseract(WithBinary(filepath.Join(t.TempDir(), "missing")))
	if ocr.Available() {
		t.Error("missing binary reported available")
	}
	if _, err := ocr.RecognizeText(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2))); err == nil {
		t.Error("expected error for missing binary")
	}
}
