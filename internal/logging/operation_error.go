package logging

import "fmt"

// OperationError annotates a pipeline failure with the operation that raised it
// and the request it belongs to.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

// Error returns the underlying message prefixed by the operation. The request
// id is left out so the message can be handed back to API clients verbatim.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps an error with structured context about where it occurred.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}
