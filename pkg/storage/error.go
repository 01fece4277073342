package storage

import "fmt"

// NotFoundError is returned when a record doesn't exist in the store.
type NotFoundError struct {
	CID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record not found: %s", e.CID)
}

// PathNotFoundError is returned when a named path has never been seeded.
type PathNotFoundError struct {
	Name string
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("path not found: %s", e.Name)
}

// ConflictError is returned when a compare-and-swap head advancement loses
// a race: the head moved between read and write.
type ConflictError struct {
	Name     string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("concurrent write on path %s: already seeded at %s", e.Name, e.Actual)
	}
	return fmt.Sprintf("concurrent write on path %s: expected head %s, found %s", e.Name, e.Expected, e.Actual)
}

// UnavailableError wraps a backend failure (connection loss, corrupt file)
// so callers can distinguish infrastructure trouble from domain errors.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
