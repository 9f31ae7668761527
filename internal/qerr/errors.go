// Package qerr holds the error taxonomy shared by the ordering index, the
// transport adapters and the priority queue facade.
//
// Callers distinguish the cases with errors.Is and errors.As:
//
//	ErrNotConnected     - call Connect first
//	ErrInvalidPriority  - fix the priority value
//	*BackendError       - the ordering index store failed
//	*TransportError     - the durable transport failed
//
// Nothing in this module retries on these errors.
package qerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by any index or facade operation attempted
	// before a session with the backing store has been established.
	ErrNotConnected = errors.New("spqs: not connected")

	// ErrInvalidPriority is returned when a priority is outside
	// [0, priorityLevels). It is raised before any transport or index write.
	ErrInvalidPriority = errors.New("spqs: invalid priority")
)

// BackendError wraps a failure from the ordering index store.
type BackendError struct {
	Op  string
	Key string
	Err error
}

func (e *BackendError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("index backend %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("index backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Backend wraps err as a BackendError. A nil err stays nil and errors that
// already carry the taxonomy are returned unchanged.
func Backend(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConnected) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Key: key, Err: err}
}

// TransportError wraps a failure from the durable transport. Code carries the
// service error code when the transport reports one.
type TransportError struct {
	Op   string
	Code string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transport %s (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError with an optional service code.
func Transport(op, code string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Code: code, Err: err}
}

// IsBackend reports whether err came from the ordering index store.
func IsBackend(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// IsTransport reports whether err came from the durable transport.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
