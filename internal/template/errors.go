package template

import (
	"errors"
	"fmt"
)

// Error kinds. None of them is fatal: the worst outcome of any of them is
// no prediction for one change.
var (
	// ErrExtractionAmbiguous means a value matched in more than one place
	ErrExtractionAmbiguous = errors.New("extraction ambiguous")
	// ErrExtractionUnverified means a candidate did not reproduce the observed output
	ErrExtractionUnverified = errors.New("extraction unverified")
	// ErrPredictionMiss means there is no template, or no branch, for the change
	ErrPredictionMiss = errors.New("prediction miss")
	// ErrPredictionMismatch means a prediction disagreed with the authoritative patches
	ErrPredictionMismatch = errors.New("prediction mismatch")
	// ErrMalformedTransform means a transform outside the whitelist was requested
	ErrMalformedTransform = errors.New("malformed transform")
	// ErrUnsupported means the observation has a shape no rule generalizes
	ErrUnsupported = errors.New("unsupported change")
)

// ExtractionError records which rule rejected an observation and where
type ExtractionError struct {
	Rule string
	Path []int
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Path != nil {
		return fmt.Sprintf("%s at %v: %v", e.Rule, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Rule, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Reason maps an error to the kind label used in statistics
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrExtractionAmbiguous):
		return "ambiguous"
	case errors.Is(err, ErrExtractionUnverified):
		return "unverified"
	case errors.Is(err, ErrMalformedTransform):
		return "malformed_transform"
	case errors.Is(err, ErrPredictionMiss):
		return "miss"
	case errors.Is(err, ErrPredictionMismatch):
		return "mismatch"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	}
	return "other"
}
