package chat

import "errors"

var (
	// ErrNotFound covers both a missing session and one owned by somebody
	// else; callers never learn which.
	ErrNotFound = errors.New("chat: session not found")

	ErrInvalidInput = errors.New("chat: invalid input")

	// ErrAlreadyProcessing means the single-flight guard for this session is
	// held by another in-flight request.
	ErrAlreadyProcessing = errors.New("chat: another request is already in progress")

	// ErrNoRegenerableMessage: the session has no non-regenerated ai message.
	ErrNoRegenerableMessage = errors.New("chat: no message available to regenerate")

	// ErrNoPromptAvailable: the context window holds no user message to reuse
	// as the regeneration prompt.
	ErrNoPromptAvailable = errors.New("chat: no prompt available for regeneration")
)
