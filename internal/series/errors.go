package series

import (
	"errors"
	"fmt"
)

// #region data-error

// ErrData is matched by every DataError via errors.Is.
var ErrData = errors.New("data error")

// DataError reports input data that cannot support a fit: nothing left after
// filtering, a missing mandatory covariate, or too few usable time points.
type DataError struct {
	Op     string
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Is reports whether target is ErrData.
func (e *DataError) Is(target error) bool {
	return target == ErrData
}

// NewDataError builds a DataError for the given operation.
func NewDataError(op, format string, args ...any) error {
	return &DataError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// #endregion data-error
