package usecase

import (
	"errors"

	"github.com/example/catdog-api/internal/imageprocessor"
	"github.com/example/catdog-api/internal/kserve"
)

// ErrorKind is the coarse classification of a failed request.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindInvalidMetadata   ErrorKind = "invalid_metadata"
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	KindInferenceService  ErrorKind = "inference_service"
	KindInvalidResponse   ErrorKind = "invalid_response"
	KindInternal          ErrorKind = "internal"
)

// ValidationError reports a request that carries no usable payload.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string { return e.Details }

// ErrNoImage is returned when no image bytes were supplied.
var ErrNoImage = &ValidationError{Details: "No file uploaded."}

// ErrMetricsDisabled is returned by GetMetricsSummary without a repository.
var ErrMetricsDisabled = errors.New("metrics require a configured database")

// Classify maps err to its ErrorKind.
func Classify(err error) ErrorKind {
	var (
		validation  *ValidationError
		metadata    *imageprocessor.InvalidMetadataError
		unsupported *imageprocessor.UnsupportedFormatError
		service     *kserve.ServiceError
		invalid     *kserve.InvalidResponseError
	)
	switch {
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &unsupported):
		return KindUnsupportedFormat
	case errors.As(err, &metadata):
		return KindInvalidMetadata
	case errors.As(err, &service):
		return KindInferenceService
	case errors.As(err, &invalid):
		return KindInvalidResponse
	default:
		return KindInternal
	}
}

// IsClientError reports whether the kind is caused by the uploaded payload.
func (k ErrorKind) IsClientError() bool {
	switch k {
	case KindValidation, KindInvalidMetadata, KindUnsupportedFormat:
		return true
	}
	return false
}
