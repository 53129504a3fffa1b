package api

import "fmt"

// StatusError is a non-200 response from an auth endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("erpauth/api: endpoint returned %d: %s", e.Status, e.Body)
}

// ValidationError reports that the server returned well-formed HTTP but a
// malformed payload. Callers can distinguish it from network or status
// failures with errors.As.
type ValidationError struct {
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("erpauth/api: %s: %v", e.Detail, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
