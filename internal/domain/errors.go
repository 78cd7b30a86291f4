package domain

import "errors"

// Failure taxonomy for the chat session core. Every error here is
// recoverable: it is either absorbed locally or rendered as a conversation
// entry, never fatal to the process.
var (
	// ErrNotConnected is returned for a send attempted while the
	// connection is not open.
	ErrNotConnected = errors.New("not connected")

	// ErrBusy is returned when the agent is still working on the previous
	// message (the thinking period has not ended).
	ErrBusy = errors.New("agent is busy")

	// ErrEmptyInput is returned for input that is blank after trimming.
	ErrEmptyInput = errors.New("empty input")

	// ErrMalformedPayload marks inbound data that cannot be parsed as a
	// message. Such frames are dropped, not surfaced.
	ErrMalformedPayload = errors.New("malformed payload")
)
