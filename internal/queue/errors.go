package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// Kind classifies a queue failure by the response it requires.
type Kind int

const (
	// KindUnknown is the conservative default for unrecognized faults.
	// Never retried, so an unforeseen bug is not masked as transient noise.
	KindUnknown Kind = iota
	// KindTransient covers conditions expected to clear on retry:
	// lock/permission contention, network blips, timeouts.
	KindTransient
	// KindPermanent covers conditions retrying cannot fix, such as
	// corrupt JSON content. Quarantine and move on.
	KindPermanent
	// KindHealth covers systemic resource exhaustion (disk full). Must
	// propagate to the alerting path, never be silently retried.
	KindHealth
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindHealth:
		return "health"
	default:
		return "unknown"
	}
}

// Error is a classified queue failure carrying the operation context
// needed to inspect it later.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Time time.Time
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps a raw fault to a queue error kind for the given
// operation context. The mapping is deliberately conservative: anything
// unrecognized lands in KindUnknown and is not retried.
func Classify(err error, path, op string) *Error {
	qe := &Error{Op: op, Path: path, Time: time.Now(), Err: err}

	var jsonSyntax *json.SyntaxError
	var jsonType *json.UnmarshalTypeError
	switch {
	case errors.As(err, &jsonSyntax), errors.As(err, &jsonType):
		qe.Kind = KindPermanent
	case errors.Is(err, fs.ErrNotExist):
		qe.Kind = KindPermanent
	case errors.Is(err, fs.ErrPermission):
		qe.Kind = KindTransient
	case isNoSpace(err):
		qe.Kind = KindHealth
	case isNetworkFault(err):
		qe.Kind = KindTransient
	case isOSFault(err):
		qe.Kind = KindTransient
	default:
		qe.Kind = KindUnknown
	}
	return qe
}

// IsTransient reports whether an operation that failed with err is worth
// retrying. Already-classified errors decide by kind; raw faults are
// retried only for permission contention, OS-level I/O failures, JSON
// decode failures, connection failures, and timeouts. Logic errors are
// never transient: retrying them wastes time and risks infinite loops.
func IsTransient(err error) bool {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind == KindTransient
	}

	var jsonSyntax *json.SyntaxError
	if errors.As(err, &jsonSyntax) {
		return true
	}
	return errors.Is(err, fs.ErrPermission) ||
		isNetworkFault(err) ||
		isOSFault(err)
}

// IsPermanent reports whether err is a classified permanent failure.
func IsPermanent(err error) bool {
	var qe *Error
	return errors.As(err, &qe) && qe.Kind == KindPermanent
}

// IsHealth reports whether err is a classified systemic-health failure.
func IsHealth(err error) bool {
	var qe *Error
	return errors.As(err, &qe) && qe.Kind == KindHealth
}

func isNoSpace(err error) bool {
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full")
}

func isNetworkFault(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET)
}

func isOSFault(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return true
	}
	var errno syscall.Errno
	return errors.As(err, &errno)
}
