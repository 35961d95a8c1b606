package service

import (
	"context"
	"errors"

	"morado/model"
)

// ErrEmptyCompletion means the provider answered but no reply text could
// be extracted from the response.
var ErrEmptyCompletion = errors.New("empty completion")

// PromptMessage is one turn of conversation context sent to the provider.
type PromptMessage struct {
	Sender  model.Sender
	Content string
}

// CompletionRequest carries everything a provider needs for one call:
// the system persona, the full ordered history ending with the newest
// user message, and the sampling options.
type CompletionRequest struct {
	System      string
	History     []PromptMessage
	Model       string
	Temperature float64
}

// Provider is the LLM collaborator. CompleteStream calls onDelta for
// each token chunk and returns the accumulated reply.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	CompleteStream(ctx context.Context, req CompletionRequest, onDelta func(string) error) (string, error)
}
