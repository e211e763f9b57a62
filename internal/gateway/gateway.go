// Package gateway is the boundary to the external text-generation service.
package gateway

import (
	"context"
	"errors"
	"iter"
)

// ErrGenerationFailed matches every *GenerationError.
var ErrGenerationFailed = errors.New("generation failed")

// errEmptyResponse is returned when the model answers with no text.
var errEmptyResponse = errors.New("model returned an empty response")

// Request is a single generation call.
type Request struct {
	Model  string
	Prompt string
}

// Gateway generates text for a prompt.
type Gateway interface {
	// Generate returns the complete response.
	Generate(ctx context.Context, req Request) (string, error)

	// Stream yields response fragments in order. The sequence is finite and
	// cannot be restarted; an error ends it.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// GenerationError reports that neither the streaming nor the plain call
// produced a response.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	return "generation failed: " + e.Reason
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGenerationFailed, e.Err}
}
