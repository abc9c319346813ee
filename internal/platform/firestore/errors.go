package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a failed store operation.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

var (
	// ErrPartitionMismatch marks an item that exists under another partition key than the one
	// requested. Callers see it as not found.
	ErrPartitionMismatch = errors.New("partition key mismatch")
	// ErrNoMatch marks a lookup that matched no item.
	ErrNoMatch = errors.New("no matching item")
	// ErrUnchanged marks a conditional write whose item already holds the requested state.
	ErrUnchanged = errors.New("item already in requested state")
)

// Error records the failed store operation and its classification. It satisfies
// repositories.RepositoryError.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// Classify maps store sentinels and gRPC status codes onto a Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrPartitionMismatch), errors.Is(err, ErrNoMatch):
		return KindNotFound
	case errors.Is(err, ErrUnchanged):
		return KindConflict
	}
	switch status.Code(err) {
	case codes.NotFound:
		return KindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return KindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// WrapError attaches op and a classification to err. Cancellation, including its gRPC form, is
// returned as the plain context error so callers can test it with errors.Is.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var storeErr *Error
	if errors.As(err, &storeErr) {
		if storeErr.Op == "" {
			storeErr.Op = op
		}
		return storeErr
	}
	return &Error{Op: op, Kind: Classify(err), Err: err}
}
