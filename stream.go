package tideline

import (
	"context"
	"time"
)

// DefaultPacing is the delay between revealed slices of a streamed delta.
const DefaultPacing = 10 * time.Millisecond

// pacer reveals streamed text in slices of roughly 1/50th of each delta,
// at least one rune, sleeping interval between slices. A zero interval
// reveals each delta at once.
type pacer struct {
	interval time.Duration
}

// reveal passes text to apply slice by slice. When ctx is cancelled the
// remainder is applied at once and the context's cause is returned.
func (p pacer) reveal(ctx context.Context, text string, apply func(string)) error {
	if text == "" {
		return nil
	}
	if p.interval <= 0 {
		apply(text)
		return nil
	}
	runes := []rune(text)
	step := max(1, len(runes)/50)
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	for i := 0; i < len(runes); i += step {
		end := min(len(runes), i+step)
		apply(string(runes[i:end]))
		if end == len(runes) {
			break
		}
		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			apply(string(runes[end:]))
			return context.Cause(ctx)
		case <-timer.C:
		}
	}
	return nil
}
