// ABOUTME: Error taxonomy for conversation runs
// ABOUTME: Collaborator failures wrap their cause; illegal transitions are contract violations

package engine

import (
	"errors"
	"fmt"

	"github.com/2389/coven-council/internal/roster"
)

var (
	// ErrIllegalTransition is returned when a selected speaker is not a graph-legal
	// successor of the current speaker.
	ErrIllegalTransition = errors.New("illegal speaker transition")

	// ErrInvalidState is returned for a state change that would leave a terminal state.
	ErrInvalidState = errors.New("invalid conversation state change")

	// ErrDeadEnd is returned when the current speaker has no allowed successor.
	ErrDeadEnd = errors.New("speaker has no allowed successor")
)

// CollaboratorError reports a failed call to the turn producer or speaker selector.
type CollaboratorError struct {
	Speaker roster.RoleID
	Op      string
	Err     error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s for %s failed: %v", e.Op, e.Speaker, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// IsCollaboratorFailure reports whether err came from an external collaborator.
func IsCollaboratorFailure(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}
