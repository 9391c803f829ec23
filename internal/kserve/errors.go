package kserve

import "fmt"

// ServiceError reports a failed exchange with the inference backend: either
// the request never completed or the backend answered with a non-2xx status.
type ServiceError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("inference service returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("inference service request failed: %v", e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// InvalidResponseError reports a backend answer that lacks the expected fields
// or cannot be decoded.
type InvalidResponseError struct {
	Reason string
	Err    error
}

func (e *InvalidResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid inference response: %s: %v", e.Reason, e.Err)
	}
	return "invalid inference response: " + e.Reason
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }
