package termdict

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexNotFound indicates an unknown index name
	ErrIndexNotFound = errors.New("index not found")
	// ErrInvalidField indicates a field the index does not hold
	ErrInvalidField = errors.New("invalid field")
	// ErrInvalidArgument indicates a malformed query
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoPredecessor indicates no key exists before the target
	ErrNoPredecessor = errors.New("no predecessor")
	// ErrStorage indicates a dictionary I/O or corruption failure
	ErrStorage = errors.New("storage error")
	// ErrClosed is returned by cursors and dictionaries used after Close
	ErrClosed = errors.New("dictionary closed")
)

// StorageError records a failed storage operation on a dictionary
type StorageError struct {
	Op         string
	Dictionary string
	Field      string
	Err        error
}

// Error returns the error string
func (e *StorageError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Dictionary, e.Field, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Dictionary, e.Err)
}

// Unwrap returns the wrapped error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes every StorageError match ErrStorage
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NewStorageError wraps err as a StorageError. A nil err yields nil.
func NewStorageError(op, dictionary, field string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Dictionary: dictionary, Field: field, Err: err}
}

// IsStorageError reports whether err is a storage failure
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}

func invalidField(dictionary, field string) error {
	return fmt.Errorf("%w: %q is not a field of %s", ErrInvalidField, field, dictionary)
}
