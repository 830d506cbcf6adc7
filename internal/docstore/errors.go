package docstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNamespaceNotFound means the bucket, scope or collection does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrIndexNotFound means the configured search or query index does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrUnsupportedDistance means the distance strategy does not match the index
	// or is not offered by the backend.
	ErrUnsupportedDistance = errors.New("unsupported distance strategy")

	// ErrStoreUnavailable is a transient failure: timeout, network, open circuit.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDocumentNotFound is returned by a Session for a missing key.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrPartialWrite means some documents of a batched upsert failed.
	ErrPartialWrite = errors.New("partial write")

	// ErrInvalidFilter means a filter value is not a supported scalar.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidConfig is returned by constructors for unusable settings.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// StoreError wraps errors with the backend operation that produced them.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("docstore: %v", e.Err)
	}
	return fmt.Sprintf("docstore: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsConfigError reports whether err is a configuration-time failure that
// should stop the process rather than degrade to a cache miss.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNamespaceNotFound) ||
		errors.Is(err, ErrIndexNotFound) ||
		errors.Is(err, ErrUnsupportedDistance) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsTransient reports whether retrying the operation may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
