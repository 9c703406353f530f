package livepredict

import (
	"errors"

	"github.com/livefir/livepredict/internal/store"
	"github.com/livefir/livepredict/internal/template"
)

// Error kinds. None of them is fatal to the host: the worst outcome is no
// prediction for one change.
var (
	ErrExtractionAmbiguous  = template.ErrExtractionAmbiguous
	ErrExtractionUnverified = template.ErrExtractionUnverified
	ErrPredictionMiss       = template.ErrPredictionMiss
	ErrPredictionMismatch   = template.ErrPredictionMismatch
	ErrMalformedTransform   = template.ErrMalformedTransform
	ErrUnsupported          = template.ErrUnsupported

	ErrStaleHandle = store.ErrStaleHandle
	ErrCapacity    = store.ErrCapacity
	ErrMemoryLimit = store.ErrMemoryLimit

	// ErrUnauthorized is wrapped by an Authenticator refusing a connection
	ErrUnauthorized = errors.New("unauthorized")
)

// ExtractionError records which extraction rule rejected an observation
type ExtractionError = template.ExtractionError
