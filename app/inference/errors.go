package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

type Kind int

const (
	KindTransient Kind = iota + 1
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	ErrTransient = errors.New("transient inference failure")
	ErrFatal     = errors.New("fatal inference failure")
)

// Error is the classified failure surfaced once a call gives up. Use
// errors.Is with ErrTransient or ErrFatal to branch on the kind.
type Error struct {
	Kind       Kind
	Model      string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s inference failure", e.Kind)
	if e.Model != "" {
		msg += fmt.Sprintf(" on model %s", e.Model)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrFatal:
		return e.Kind == KindFatal
	default:
		return false
	}
}

func transientError(model string, err error) *Error {
	return &Error{Kind: KindTransient, Model: model, Err: err}
}

func fatalError(model string, err error) *Error {
	return &Error{Kind: KindFatal, Model: model, Err: err}
}

func statusError(model string, code int, body string) *Error {
	kind := KindFatal
	if IsRetryableStatus(code) {
		kind = KindTransient
	}
	return &Error{
		Kind:       kind,
		Model:      model,
		StatusCode: code,
		Err:        fmt.Errorf("HTTP error: %d %s: %s", code, http.StatusText(code), body),
	}
}

// Classify decides whether a failure is worth retrying. Cancellation by the
// caller is never retried; attempt timeouts and broken connections are.
func Classify(err error) Kind {
	if err == nil {
		return 0
	}

	var inferenceErr *Error
	if errors.As(err, &inferenceErr) && inferenceErr.Kind != 0 {
		return inferenceErr.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT, syscall.EPIPE:
			return KindTransient
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	return KindFatal
}

func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}

// IsRetryableStatus reports whether the backend signalled overload or a
// temporary fault rather than rejecting the request itself.
func IsRetryableStatus(code int) bool {
	switch {
	case code >= 500 && code <= 599:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
