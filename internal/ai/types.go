package ai

import (
	"context"
	"errors"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a single upstream LLM endpoint bound to one deployment/model.
type Provider interface {
	Chat(ctx context.Context, messages []Message, temperature float64) (string, error)
}

var (
	// ErrUnknownModel: a model name was given but no active configuration has it.
	ErrUnknownModel = errors.New("ai: the specified model does not exist or is inactive")
	// ErrNoModelAvailable: no model name was given and no configuration is active.
	ErrNoModelAvailable = errors.New("ai: no active models are available")
	// ErrUpstreamUnavailable classifies transport failures talking to the LLM.
	// The gateway never retries; callers decide what to surface.
	ErrUpstreamUnavailable = errors.New("ai: upstream unavailable")
)
