package publisher

import (
	"fmt"
	"strings"
)

// Phase names the publishing step an error occurred in.
type Phase string

const (
	PhaseValidation       Phase = "validation"
	PhaseAttachmentUpload Phase = "attachment_upload"
	PhasePostCreation     Phase = "post_creation"
	PhaseCommentCreation  Phase = "comment_creation"
	PhaseStatusUpdate     Phase = "status_update"
)

// Error wraps a publishing failure with the phase it happened in.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publishing failed during %s: %s", e.Phase, e.Err)
}

func (e *Error) Cause() error {
	return e.Err
}

// PhaseOf returns the failing phase of a publish error, or an empty phase
// for other errors.
func PhaseOf(err error) Phase {
	publishErr, ok := err.(*Error)
	if !ok {
		return ""
	}

	return publishErr.Phase
}

// ValidationError indicates a post does not satisfy the publishing
// preconditions.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "post cannot be published: " + strings.Join(e.Reasons, ", ")
}

// IsValidation reports whether err is a precondition failure.
func IsValidation(err error) bool {
	publishErr, ok := err.(*Error)
	if ok {
		err = publishErr.Err
	}

	_, ok = err.(*ValidationError)
	return ok
}
