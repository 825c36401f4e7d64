package memory

import (
	"errors"
	"fmt"
)

var (
	errNotFound = errors.New("not found")
	errConflict = errors.New("conflict")
)

type repoError struct {
	op  string
	err error
}

func (e *repoError) Error() string {
	return fmt.Sprintf("memory: %s: %v", e.op, e.err)
}

func (e *repoError) Unwrap() error { return e.err }

func (e *repoError) IsNotFound() bool { return errors.Is(e.err, errNotFound) }

func (e *repoError) IsConflict() bool { return errors.Is(e.err, errConflict) }

func (e *repoError) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &repoError{op: op, err: fmt.Errorf("%w: %s", errNotFound, fmt.Sprintf(format, args...))}
}

func conflict(op, format string, args ...any) error {
	return &repoError{op: op, err: fmt.Errorf("%w: %s", errConflict, fmt.Sprintf(format, args...))}
}
