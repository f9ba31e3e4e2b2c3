package generate

import (
	"context"
	"errors"

	"github.com/kerna-app/kerna/pkg/plans"
)

var (
	// ErrOutOfCredits is returned when the reconciled balance cannot
	// cover any generation at all
	ErrOutOfCredits = errors.New("out of credits")

	// ErrUpstreamGeneration is returned when the model produced no
	// usable output; no credits are charged
	ErrUpstreamGeneration = errors.New("upstream generation failed")

	// ErrEmptyInput is returned when there is no source text to work
	// from
	ErrEmptyInput = errors.New("empty input text")
)

// FinishReason explains how a generation ended
type FinishReason string

const (
	// FinishStop means the model completed naturally
	FinishStop FinishReason = "stop"
	// FinishLength means the token cap was hit and the output is
	// truncated
	FinishLength FinishReason = "length"
	// FinishError means the model failed mid-stream
	FinishError FinishReason = "error"
)

// Request is one prompt submitted to a text model
type Request struct {
	Model     plans.Model
	Prompt    string
	MaxTokens int64
}

// Result reports completed token usage. TokensUsed drives billing, so it
// must reflect actual consumption even on the truncation path.
type Result struct {
	TokensUsed   int64
	FinishReason FinishReason
}

// Generator produces streamed text completions. Implementations call the
// sink once per output chunk, in order, and return usage afterwards. A
// sink error stops delivery but not accounting: whatever was consumed
// upstream comes back as a partial result with FinishError so the caller
// can settle it.
type Generator interface {
	Generate(ctx context.Context, req Request, sink func(chunk string) error) (*Result, error)
}
