package model

import "errors"

// Error taxonomy shared by every layer. Wrap with fmt.Errorf("...: %w", Err...)
// and test with errors.Is.
var (
	// ErrValidation means the caller sent bad input and can retry after fixing it.
	ErrValidation = errors.New("validation error")
	// ErrSessionNotFound means the session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidIndex means an answer was submitted out of sequence.
	ErrInvalidIndex = errors.New("invalid question index")
	// ErrUpstreamUnavailable means the model could not be reached or timed out.
	ErrUpstreamUnavailable = errors.New("upstream model unavailable")
	// ErrGenerationFailure means the model answered but no questions could be salvaged.
	ErrGenerationFailure = errors.New("question generation failed")
)
