// Package syncerr holds the error kinds shared by the sync components.
package syncerr

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientRead is a retryable store read failure (load or pagination).
	ErrTransientRead = fmt.Errorf("transient read failure")
	// ErrWrite is a failed send or mirror write. Part of the fan-out may have landed.
	ErrWrite = fmt.Errorf("write failure")
	// ErrInvalidConversation is a malformed or foreign conversation id.
	ErrInvalidConversation = fmt.Errorf("invalid conversation")
	// ErrValidation is a locally rejected input that never reaches the store.
	ErrValidation = fmt.Errorf("validation rejected")
)

// Retryable reports whether the user can retry the failed action as is.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientRead) || errors.Is(err, ErrWrite)
}

// Kind names the error kind for transport, or "" for unknown errors.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrTransientRead):
		return "transient_read"
	case errors.Is(err, ErrWrite):
		return "write"
	case errors.Is(err, ErrInvalidConversation):
		return "invalid_conversation"
	case errors.Is(err, ErrValidation):
		return "validation"
	}
	return ""
}
