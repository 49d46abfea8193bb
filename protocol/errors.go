package protocol

import "fmt"

// The core never aborts the process on a failed operation. Every failure is
// classified into one of four categories so boundary callers can decide on
// retry and surfacing policy.

// ValidationError reports bad input at a boundary: a malformed token or
// report, or a setter argument outside its declared range. Recoverable by
// the caller; the operation had no effect.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Msg)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// Validationf builds a ValidationError for a named field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// StorageError reports that the durable store is unavailable or corrupt.
// Bootstrap fails closed on it rather than degrading to in-memory operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storagef wraps err as a StorageError for the named operation.
func Storagef(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// NetworkError reports a failed fetch or post. The core performs no retries;
// retry policy belongs to the scheduling layer above it.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Networkf wraps err as a NetworkError for the named operation.
func Networkf(op string, err error) error {
	return &NetworkError{Op: op, Err: err}
}

// ProtocolError reports a structurally invalid report from the network: an
// inverted index range, a segment exceeding the maximum disclosure window,
// or a bad signature. Such reports are rejected before matching.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s", e.Msg)
}

// Protocolf builds a ProtocolError.
func Protocolf(format string, args ...any) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}
