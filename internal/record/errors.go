package record

import (
	"errors"
	"fmt"
)

// ErrNotFound marks operations that require an existing record.
var ErrNotFound = errors.New("record not found")

// StorageError is returned for any database failure: unreachable file,
// schema mismatch, constraint violation or a missing row where one must exist.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DispatchError is returned when the notification endpoint could not be
// reached or its response could not be read. A non-2xx status is not an error.
type DispatchError struct {
	ID       string
	Method   Method
	Endpoint string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s %s for %q: %v", e.Method, e.Endpoint, e.ID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ConfigError rejects malformed input before any I/O happens.
type ConfigError struct {
	Field string
	Value string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Msg)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsStorage, IsDispatch and IsConfig classify errors returned by kvlet.
func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}

func IsDispatch(err error) bool {
	var e *DispatchError
	return errors.As(err, &e)
}

func IsConfig(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}
