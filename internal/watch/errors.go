package watch

import "errors"

var (
	// ErrNotFound is returned when a resource or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrFetch marks a failed retrieval.
	ErrFetch = errors.New("fetch failed")
	// ErrStorage marks a failed registry or history operation.
	ErrStorage = errors.New("storage failed")
	// ErrDuplicate is returned when adding a resource whose URL is already watched.
	ErrDuplicate = errors.New("resource already exists")
)
