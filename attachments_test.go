package tideline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fakeText struct {
	text string
	err  error
}

func (f fakeText) RecognizeText(context.Context, image.Image) (string, error) { return f.text, f.err }

type fakeCode struct {
	code string
	err  error
}

func (f fakeCode) RecognizeCode(context.Context, image.Image) (string, error) { return f.code, f.err }

func TestImageDescriber_Describe(t *testing.T) {
	visual := &streamProvider{rounds: []streamRound{{deltas: []StreamDelta{
		{Reasoning: "A red dot "},
		{Content: "on a white canvas."},
	}}}}
	d := NewImageDescriber(visual,
		WithTextRecognizer(fakeText{text: " EXIT \n"}),
		WithCodeRecognizer(fakeCode{code: "https://example.com"}),
	)

	var outputs []string
	got, err := d.Describe(context.Background(), testPNG(t), func(s string) { outputs = append(outputs, s) })
	if err != nil {
		t.Fatal(err)
	}
	want := "[Image Description]\nA red dot on a white canvas.\n" +
		"[Image Optical Character Recognition Result]\nEXIT\n" +
		"[QRCode Recognition]\nhttps://example.com\n"
	if got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
	if len(outputs) != 2 || outputs[1] != "A red dot on a white canvas." {
		t.Errorf("outputs = %q", outputs)
	}

	req := visual.recorded()[0]
	if len(req.Messages) != 3 || req.Messages[0].Role != "system" {
		t.Fatalf("request = %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, "7. Any other details") {
		t.Error("system prompt should carry the analytical questions")
	}
	parts := req.Messages[1].Parts
	if len(parts) != 1 || !strings.HasPrefix(parts[0].ImageURL, "data:image/png;base64,") {
		t.Errorf("image part = %+v", parts)
	}
	if req.Messages[2].Content != describeImageInstruction {
		t.Errorf("instruction = %q", req.Messages[2].Content)
	}
}

func TestImageDescriber_Placeholders(t *testing.T) {
	tests := []struct {
		name   string
		visual Provider
		data   func(*testing.T) []byte
		want   string
	}{
		{
			name:   "no visual model",
			visual: nil,
			data:   testPNG,
			want:   "[Image Description]\n" + imageUnidentified + "\n",
		},
		{
			name:   "undecodable",
			visual: &streamProvider{},
			data:   func(*testing.T) []byte { return []byte("not an image") },
			want:   imageDecodeFailed,
		},
		{
			name:   "stream failure",
			visual: &streamProvider{rounds: []streamRound{{err: errors.New("boom")}}},
			data:   testPNG,
			want:   "[Image Description]\n" + imageUnidentified + "\n",
		},
		{
			name:   "empty output",
			visual: &streamProvider{rounds: []streamRound{{deltas: []StreamDelta{{Content: "  "}}}}},
			data:   testPNG,
			want:   "[Image Description]\n" + imageUnidentified + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewImageDescriber(tt.visual).Describe(context.Background(), tt.data(t), nil)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestImageDescriber_RecognizerFailuresSwallowed(t *testing.T) {
	d := NewImageDescriber(nil,
		WithTextRecognizer(fakeText{err: errors.New("no tesseract")}),
		WithCodeRecognizer(fakeCode{err: errors.New("no code")}),
	)
	got, err := d.Describe(context.Background(), testPNG(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "Optical") || strings.Contains(got, "QRCode") {
		t.Errorf("failed recognizers should add no sections: %q", got)
	}
}

func TestImageDescriber_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	visual := &streamProvider{
		rounds:  []streamRound{{deltas: []StreamDelta{{Reasoning: "thinking"}}, hold: true}},
		holding: make(chan struct{}, 1),
	}
	go func() {
		<-visual.holding
		cancel(ErrUserCancelled)
	}()
	_, err := NewImageDescriber(visual).Describe(ctx, testPNG(t), nil)
	if !errors.Is(err, ErrUserCancelled) {
		t.Errorf("err = %v, want ErrUserCancelled", err)
	}
}

func TestAttachmentPredicates(t *testing.T) {
	if !needsDescription(Attachment{Type: AttachmentImage, TextRepresentation: " \n"}) {
		t.Error("blank image text should need a description")
	}
	if needsDescription(Attachment{Type: AttachmentImage, TextRepresentation: "described"}) {
		t.Error("described image should be skipped")
	}
	if !needsExtraction(Attachment{Type: AttachmentText, RawData: []byte("%PDF")}) {
		t.Error("raw document without text should need extraction")
	}
	if needsExtraction(Attachment{Type: AttachmentText}) {
		t.Error("document without bytes cannot be extracted")
	}
}
