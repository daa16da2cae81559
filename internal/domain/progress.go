package domain

// ProgressFunc receives fractional progress and a status message.
// A negative fraction reports failure; 1.0 reports completion.
type ProgressFunc func(fraction float64, message string)

// Progress markers shared by long-running operations.
const (
	ProgressFailed = -1.0
	ProgressDone   = 1.0
)

// Report calls fn if it is non-nil.
func (fn ProgressFunc) Report(fraction float64, message string) {
	if fn != nil {
		fn(fraction, message)
	}
}
