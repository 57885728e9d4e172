package chat

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrPermissionDenied  = errors.New("not the session owner")
	ErrCharacterNotFound = errors.New("character not found")
	ErrPresetNotFound    = errors.New("persona preset not found")
	ErrInvalidMode       = errors.New("unknown chat mode")
)

// ContentRejectedError is a moderation block, of either the user's input or
// the model's output. Reason is safe to show to the end user.
type ContentRejectedError struct {
	Reason   string
	Category string
	// Output is true when the model's own reply was blocked.
	Output bool
}

func (e *ContentRejectedError) Error() string {
	if e.Output {
		return fmt.Sprintf("response rejected: %s", e.Reason)
	}
	return fmt.Sprintf("content rejected: %s", e.Reason)
}
