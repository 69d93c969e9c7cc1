package core

import "errors"

var (
	// ErrInvalidMessage marks a ContextMessage that violates the role /
	// tool-call invariants.
	ErrInvalidMessage = errors.New("invalid context message")

	// ErrEmptyEmbedText is returned when an empty string is submitted for
	// embedding.
	ErrEmptyEmbedText = errors.New("cannot embed empty text")

	// ErrNotFound is returned by stores when an entity does not exist.
	ErrNotFound = errors.New("not found")
)

// ProtocolError marks a violation of the completion-stream or tool-call
// pairing contract. It is fatal to the current turn and surfaced to the
// caller, which may run the refresh/reset/apologize recovery ladder.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

func NewProtocolError(reason string) *ProtocolError {
	return &ProtocolError{Reason: reason}
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
