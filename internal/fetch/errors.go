package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrDigestMismatch is wrapped by integrity errors.
	ErrDigestMismatch = errors.New("fetch: digest mismatch")

	// ErrSizeMismatch is wrapped by network errors when the file on disk
	// does not have the size the server announced.
	ErrSizeMismatch = errors.New("fetch: size mismatch")
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindNetwork covers connection failures, timeouts and non-success statuses.
	KindNetwork Kind = iota + 1
	// KindIntegrity is a digest mismatch after a completed stream.
	KindIntegrity
	// KindIO is a local filesystem failure.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindIntegrity:
		return "integrity"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is a classified failure of a single fetch attempt.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error for %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FailedError is returned when every attempt for a file failed.
type FailedError struct {
	Path     string
	Attempts int
	Err      error // last attempt's failure
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("download of %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

func networkError(path string, err error) error {
	return &Error{Kind: KindNetwork, Path: path, Err: err}
}

func integrityError(path string, err error) error {
	return &Error{Kind: KindIntegrity, Path: path, Err: err}
}

func ioError(path string, err error) error {
	return &Error{Kind: KindIO, Path: path, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsNetwork reports whether err is a network failure.
func IsNetwork(err error) bool { return KindOf(err) == KindNetwork }

// IsIntegrity reports whether err is a digest mismatch.
func IsIntegrity(err error) bool { return KindOf(err) == KindIntegrity }

// IsIO reports whether err is a local filesystem failure.
func IsIO(err error) bool { return KindOf(err) == KindIO }

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindNetwork || k == KindIntegrity
}
