package validator

import (
	"github.com/rotisserie/eris"

	"github.com/transferdesk/slipcheck/internal/model"
)

// ErrInvalidTransition is returned when a requested status change is not
// allowed by the slip lifecycle.
var ErrInvalidTransition = eris.New("invalid status transition")

// CanTransition reports whether a slip may move from one status to another.
// Terminal statuses are only entered from processing; staff can reopen any
// non-processing slip back to pending, and a pending slip can be queued for
// another validation pass.
func CanTransition(from, to model.SlipStatus) bool {
	switch {
	case from == model.StatusProcessing && to.Terminal():
		return true
	case to == model.StatusPending && from != model.StatusProcessing:
		return true
	case from == model.StatusPending && to == model.StatusProcessing:
		return true
	}
	return false
}

// CheckTransition validates a status change, returning ErrInvalidTransition
// with both endpoints when the move is not allowed.
func CheckTransition(from, to model.SlipStatus) error {
	if !to.Valid() {
		return eris.Wrapf(ErrInvalidTransition, "unknown status %q", to)
	}
	if !CanTransition(from, to) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return nil
}
