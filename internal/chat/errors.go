package chat

import (
	"errors"
	"fmt"

	"github.com/roelfdiedericks/chatrelay/internal/site"
)

var (
	// ErrElementNotFound means no locator for a required role matched.
	ErrElementNotFound = errors.New("element not found")
	// ErrResponseTimeout means no answer content appeared within the budget.
	ErrResponseTimeout = errors.New("no response within timeout")
	// ErrAttachmentFailed means the image never made it into the compose box.
	ErrAttachmentFailed = errors.New("image attachment failed")
	// ErrSubmissionUncertain is logged when no send signal fired. It is never
	// returned from a turn: completion waiting decides the outcome.
	ErrSubmissionUncertain = errors.New("submission not confirmed")
)

// ElementNotFoundError names the role that could not be resolved.
type ElementNotFoundError struct {
	Role site.Role
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element not found for role %s", e.Role)
}

func (e *ElementNotFoundError) Unwrap() error { return ErrElementNotFound }

// AttachmentError describes why an image could not be attached.
type AttachmentError struct {
	Path   string
	Reason string
	Err    error
}

func (e *AttachmentError) Error() string {
	msg := fmt.Sprintf("attach %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *AttachmentError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAttachmentFailed}
	}
	return []error{ErrAttachmentFailed, e.Err}
}
