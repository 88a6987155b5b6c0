package upstream

import "fmt"

// ConnectionError reports that the upstream socket could not be opened, was
// not ready for the attempted operation, or dropped unexpectedly.
type ConnectionError struct {
	Message string
	Cause   error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream connection: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("upstream connection: %s", e.Message)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}
