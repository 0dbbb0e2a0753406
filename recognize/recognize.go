// Package recognize provides the image recognizers used when describing
// image attachments: QR decoding with gozxing and OCR through the
// tesseract command line tool.
package recognize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/nevindra/tideline"
)

var (
	_ tideline.CodeRecognizer = (*QR)(nil)
	_ tideline.TextRecognizer = (*Tesseract)(nil)
)

// QR decodes the first QR code in an image.
type QR struct {
	hints map[gozxing.DecodeHintType]any
}

func NewQR() *QR {
	return &QR{hints: map[gozxing.DecodeHintType]any{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}}
}

// RecognizeCode returns the decoded text, or "" when the image holds no
// readable QR code.
func (q *QR) RecognizeCode(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("qr bitmap: %w", err)
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, q.hints)
	if err != nil {
		var notFound gozxing.NotFoundException
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("qr decode: %w", err)
	}
	return res.GetText(), nil
}

// TesseractOption configures a Tesseract recognizer.
type TesseractOption func(*Tesseract)

// WithBinary sets the tesseract executable (default "tesseract" on PATH).
func WithBinary(path string) TesseractOption {
	return func(t *Tesseract) { t.binary = path }
}

// WithLanguages sets the -l argument, e.g. "eng+jpn".
func WithLanguages(langs string) TesseractOption {
	return func(t *Tesseract) { t.languages = langs }
}

// Tesseract runs the tesseract CLI, feeding the image as PNG on stdin.
type Tesseract struct {
	binary    string
	languages string
}

func NewTesseract(opts ...TesseractOption) *Tesseract {
	t := &Tesseract{binary: "tesseract", languages: "eng"}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Available reports whether the tesseract binary can be found.
func (t *Tesseract) Available() bool {
	_, err := exec.LookPath(t.binary)
	return err == nil
}

func (t *Tesseract) RecognizeText(ctx context.Context, img image.Image) (string, error) {
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.binary, "stdin", "stdout", "-l", t.languages)
	cmd.Stdin = &in
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
