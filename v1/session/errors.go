package session

import (
	"errors"
	"fmt"

	turnerrors "github.com/iamanmiglani/Image-to-text/v1/errors"
)

// MaxFiles is the largest batch a participant may submit.
const MaxFiles = 10

var (
	ErrNoFiles       = fmt.Errorf("%w: no files submitted", turnerrors.ErrValidation)
	ErrTooManyFiles  = fmt.Errorf("%w: at most %d files may be submitted", turnerrors.ErrValidation, MaxFiles)
	ErrOutOfOrder    = fmt.Errorf("%w: action not allowed in the current state", turnerrors.ErrValidation)
	ErrUnknownFormat = fmt.Errorf("%w: unknown output format", turnerrors.ErrValidation)
)

// TransitionError reports an action attempted from a state that does not
// allow it.
type TransitionError struct {
	Action string
	From   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: %s not allowed from %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrOutOfOrder }

// IsOutOfOrder reports whether err is a rejected transition.
func IsOutOfOrder(err error) bool {
	return errors.Is(err, ErrOutOfOrder)
}
