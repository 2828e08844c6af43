package demand

import "errors"

var (
	// ErrInvalidParameter is returned for malformed bucket ids, a day count
	// outside (0, 100) or a non-positive multiplier.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrEmptyHistory is returned when there is no history at all.
	ErrEmptyHistory = errors.New("no login history")

	// ErrInsufficientHistory is returned when history does not cover one full week.
	ErrInsufficientHistory = errors.New("not enough history to predict demand")

	// ErrDegenerateClass marks a class whose filtered data is empty or has
	// zero variance. It is absorbed by fallbacks and only surfaces in
	// Diagnostics and logs.
	ErrDegenerateClass = errors.New("degenerate class")
)
