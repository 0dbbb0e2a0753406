// Package tiktoken adapts pkoukk/tiktoken-go to tideline.Encoder.
//
// The first use of an encoding downloads its BPE ranks unless
// TIKTOKEN_CACHE_DIR points at a populated cache.
package tiktoken

import (
	"fmt"
	"sync"

	tk "github.com/pkoukk/tiktoken-go"

	"github.com/nevindra/tideline"
)

// DefaultEncoding is used when neither an encoding nor a known model is given.
const DefaultEncoding = "cl100k_base"

var _ tideline.Encoder = (*Encoder)(nil)

// Encoder counts tokens with a byte-pair encoding.
type Encoder struct {
	mu  sync.Mutex
	bpe *tk.Tiktoken
}

// New returns an encoder for a named encoding such as "o200k_base".
func New(encoding string) (*Encoder, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	bpe, err := tk.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tiktoken encoding %q: %w", encoding, err)
	}
	return &Encoder{bpe: bpe}, nil
}

// ForModel returns the encoder of a model name, falling back to
// DefaultEncoding for models tiktoken does not know.
func ForModel(model string) (*Encoder, error) {
	bpe, err := tk.EncodingForModel(model)
	if err != nil {
		return New(DefaultEncoding)
	}
	return &Encoder{bpe: bpe}, nil
}

// Count returns the number of tokens in text. Special token markers are
// counted as ordinary text.
func (e *Encoder) Count(text string) int {
	if text == "" {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bpe.EncodeOrdinary(text))
}

// Fallback returns enc, or the heuristic encoder when enc could not be built.
func Fallback(enc *Encoder, err error) tideline.Encoder {
	if err != nil || enc == nil {
		return tideline.HeuristicEncoder{}
	}
	return enc
}
