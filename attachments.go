package tideline

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"strings"
)

const imageDescriptionPrompt = `Please provide a detailed description of the following image. The description should include the main elements in the image, the scene, colors, objects, people, and any significant details. Aim to give comprehensive information to help understand the meaning or context of the image.

1. What is the overall theme or setting of the image?
2. Are there any specific objects, buildings, or natural landscapes in the image? If so, please describe them.
3. Are there any people in the image? If yes, describe their appearance, expressions, actions, and their relation to other elements.
4. How do the colors and lighting in the image appear? Are there any prominent colors or contrasts?
5. What is in the foreground and background of the image? Are there any important details to note?
6. Does the image convey any specific emotions or atmosphere? If so, describe the mood or feeling.
7. Any other details that you find important or interesting, please include them.

If you are unable to describe the image, you may output [Unable to Identify the image.].`

const (
	describeImageInstruction = "Please describe the image."
	imageDecodeFailed        = "Unable to decode image."
	imageUnidentified        = "Unable to identify the image with tool model."

	// ImageRecognizedPlaceholder is the document of the assistant message
	// that carries an image description as its reasoning.
	ImageRecognizedPlaceholder = "I have recognized this image."
)

// TextRecognizer extracts printed text from an image. Implementations are
// best effort; errors are logged and ignored.
type TextRecognizer interface {
	RecognizeText(ctx context.Context, img image.Image) (string, error)
}

// CodeRecognizer decodes a QR code from an image.
type CodeRecognizer interface {
	RecognizeCode(ctx context.Context, img image.Image) (string, error)
}

// DocumentExtractor extracts plain text from document bytes, e.g. a PDF.
type DocumentExtractor interface {
	Extract(content []byte) (string, error)
}

// ImageDescriber turns image bytes into the labeled text representation the
// chat model sees.
type ImageDescriber struct {
	visual Provider
	text   TextRecognizer
	code   CodeRecognizer
	logger *slog.Logger
}

// DescriberOption configures an ImageDescriber.
type DescriberOption func(*ImageDescriber)

func WithTextRecognizer(r TextRecognizer) DescriberOption {
	return func(d *ImageDescriber) { d.text = r }
}

func WithCodeRecognizer(r CodeRecognizer) DescriberOption {
	return func(d *ImageDescriber) { d.code = r }
}

func WithDescriberLogger(l *slog.Logger) DescriberOption {
	return func(d *ImageDescriber) { d.logger = l }
}

// NewImageDescriber creates a describer. visual may be nil when no
// visual-capable auxiliary model is configured; the description then
// becomes a placeholder.
func NewImageDescriber(visual Provider, opts ...DescriberOption) *ImageDescriber {
	d := &ImageDescriber{visual: visual, logger: nopLogger}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Describe returns the text representation of the encoded image in data.
// onOutput receives the cumulative visual model output while it streams.
// Only cancellation is returned as an error; every other failure is
// downgraded to placeholder text.
func (d *ImageDescriber) Describe(ctx context.Context, data []byte, onOutput func(string)) (string, error) {
	if ctx.Err() != nil {
		return "", context.Cause(ctx)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		d.logger.Warn("image decode failed", "error", err)
		return imageDecodeFailed, nil
	}

	var description string
	if d.visual != nil {
		description, err = d.stream(ctx, img, onOutput)
		if err != nil {
			if ctx.Err() != nil {
				return "", context.Cause(ctx)
			}
			d.logger.Warn("image description failed", "provider", d.visual.Name(), "error", err)
		}
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = imageUnidentified
	}

	var out strings.Builder
	fmt.Fprintf(&out, "[Image Description]\n%s\n", description)

	if d.text != nil {
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		switch text, err := d.text.RecognizeText(ctx, img); {
		case err != nil:
			d.logger.Warn("text recognition failed", "error", err)
		case strings.TrimSpace(text) != "":
			fmt.Fprintf(&out, "[Image Optical Character Recognition Result]\n%s\n", strings.TrimSpace(text))
		}
	}
	if d.code != nil {
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		switch code, err := d.code.RecognizeCode(ctx, img); {
		case err != nil:
			d.logger.Debug("qr recognition found nothing", "error", err)
		case code != "":
			fmt.Fprintf(&out, "[QRCode Recognition]\n%s\n", code)
		}
	}
	return out.String(), nil
}

func (d *ImageDescriber) stream(ctx context.Context, img image.Image, onOutput func(string)) (string, error) {
	url, err := pngDataURL(img)
	if err != nil {
		return "", err
	}
	req := ChatRequest{Messages: []ChatMessage{
		SystemMessage(imageDescriptionPrompt),
		UserParts(ImagePart(url)),
		UserMessage(describeImageInstruction),
	}}

	ch := make(chan StreamDelta, 16)
	errc := make(chan error, 1)
	go func() {
		_, err := d.visual.ChatStream(ctx, req, ch)
		errc <- err
	}()

	var text strings.Builder
	for delta := range ch {
		if delta.Reasoning == "" && delta.Content == "" {
			continue
		}
		text.WriteString(delta.Reasoning)
		text.WriteString(delta.Content)
		if onOutput != nil {
			onOutput(text.String())
		}
	}
	return text.String(), <-errc
}

// pngDataURL re-encodes img as a base64 PNG data URL.
func pngDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// needsDescription reports whether a is an image without text.
func needsDescription(a Attachment) bool {
	return a.Type == AttachmentImage && strings.TrimSpace(a.TextRepresentation) == ""
}

// needsExtraction reports whether a is a document whose text has not been
// extracted yet.
func needsExtraction(a Attachment) bool {
	return a.Type == AttachmentText && strings.TrimSpace(a.TextRepresentation) == "" && len(a.RawData) > 0
}
