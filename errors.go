package tideline

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUserCancelled aborts a turn through cooperative cancellation. It is a
	// clean abort, not a failure to report to the user.
	ErrUserCancelled = errors.New("user cancelled the operation")

	// ErrContextExhausted matches any *ContextExhaustedError.
	ErrContextExhausted = errors.New("context window exhausted")

	// ErrNoSearchResults is returned when a web search ran its queries but
	// gathered no documents.
	ErrNoSearchResults = errors.New("no web search results")

	// ErrInferenceFailed matches any *InferenceError.
	ErrInferenceFailed = errors.New("inference failed")

	// ErrNotFound is wrapped by stores when a conversation or memory does
	// not exist.
	ErrNotFound = errors.New("not found")
)

// ContextExhaustedError reports that trimming removed every removable
// message and the request still exceeds the context limit.
type ContextExhaustedError struct {
	Estimated int
	Limit     int
}

func (e *ContextExhaustedError) Error() string {
	return fmt.Sprintf("unable to remove any more messages: estimated %d tokens exceeds limit %d", e.Estimated, e.Limit)
}

func (e *ContextExhaustedError) Is(target error) bool { return target == ErrContextExhausted }

// InferenceError reports a stream that ended with no content, no reasoning
// and no tool calls. Diagnostics carries whatever text the client collected.
type InferenceError struct {
	Model       string
	Diagnostics string
	Err         error
}

func (e *InferenceError) Error() string {
	switch {
	case e.Diagnostics != "":
		return fmt.Sprintf("%s: %s", e.Model, e.Diagnostics)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("%s: no response from model", e.Model)
}

func (e *InferenceError) Is(target error) bool { return target == ErrInferenceFailed }

func (e *InferenceError) Unwrap() error { return e.Err }

type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

type ErrHTTP struct {
	Status int
	Body   string
	// RetryAfter is the parsed Retry-After header, zero when absent.
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
