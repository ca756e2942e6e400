// Package llm defines the outbound text-generation call.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model answers successfully but with
// no usable text.
var ErrEmptyResponse = errors.New("empty response from model")

// ErrBlocked is returned when the provider refuses the prompt or stops the
// reply for a safety reason.
var ErrBlocked = errors.New("response blocked by model")

// Generator turns one prompt into one reply.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Params are the sampling settings sent with every request.
type Params struct {
	Model           string
	Temperature     float32
	TopK            float32
	TopP            float32
	MaxOutputTokens int32
}

// DefaultParams returns the settings the bot was tuned with.
func DefaultParams() Params {
	return Params{
		Model:           "gemini-2.5-flash",
		Temperature:     0.9,
		TopK:            40,
		TopP:            0.95,
		MaxOutputTokens: 1024,
	}
}
