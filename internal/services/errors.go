package services

import (
	"errors"
	"fmt"
)

// Request-scoped error taxonomy of the synchronization engine. None of these
// are fatal; handlers map them onto HTTP statuses and persisted state stays
// consistent when they occur.
var (
	// ErrPermissionDenied means the actor's effective role is insufficient
	// for the attempted action, or the operation is not in an editable state.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStaleRevision means the commit baseline no longer matches the head
	// revision. The caller must refetch and retry.
	ErrStaleRevision = errors.New("stale revision: baseline does not match head")

	// Not-found conditions, mapped to 404.
	ErrOperationNotFound = errors.New("operation not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrRevisionNotFound  = errors.New("revision not found")
	ErrMessageNotFound   = errors.New("chat message not found")

	// ErrInvalidTransition rejects an illegal lifecycle status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrBusy means the per-operation sequencer could not be acquired within
	// the bounded wait. Retryable.
	ErrBusy = errors.New("operation busy, retry")
)

// InvalidWaypointError rejects a waypoint sequence that would crash the
// downstream plotting code: fewer than two points, or two consecutive points
// at identical coordinates.
type InvalidWaypointError struct {
	Index  int
	Reason string
}

func (e *InvalidWaypointError) Error() string {
	return fmt.Sprintf("invalid waypoint sequence at index %d: %s", e.Index, e.Reason)
}

// GroupPropagationError reports the subset of target operations that could
// not be updated during inheritance fan-out. Successful targets remain
// committed; the failed ones are retried by the sweep.
type GroupPropagationError struct {
	Category string
	Failed   []uint
}

func (e *GroupPropagationError) Error() string {
	return fmt.Sprintf("group propagation for category %q failed for %d operation(s)", e.Category, len(e.Failed))
}
