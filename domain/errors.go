package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures of a verification run.
type Kind string

const (
	KindInputMissing       Kind = "input_missing"
	KindExtractionFailure  Kind = "extraction_failure"
	KindMalformedRecord    Kind = "malformed_record"
	KindPersistenceFailure Kind = "persistence_failure"
	KindSystemFailure      Kind = "system_failure"
)

var (
	ErrInputMissing       = errors.New("input missing")
	ErrExtractionFailure  = errors.New("extraction failure")
	ErrMalformedRecord    = errors.New("malformed record")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrSystemFailure      = errors.New("system failure")
	ErrFolderNotFound     = errors.New("candidate folder not found")
	ErrFolderBusy         = errors.New("candidate folder is being verified")
	ErrRunNotFound        = errors.New("verification run not found")
)

var sentinels = map[Kind]error{
	KindInputMissing:       ErrInputMissing,
	KindExtractionFailure:  ErrExtractionFailure,
	KindMalformedRecord:    ErrMalformedRecord,
	KindPersistenceFailure: ErrPersistenceFailure,
	KindSystemFailure:      ErrSystemFailure,
}

// Error carries the kind of failure and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindSystemFailure for anything unclassified.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindSystemFailure
}
