package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a remote failure by how the caller should react to it.
type Kind int

const (
	// KindTransient is a network-level failure; retry later.
	KindTransient Kind = iota
	// KindServer is a 5xx answer; retry with backoff.
	KindServer
	// KindValidation is a permanent rejection of the request content.
	KindValidation
	// KindAuth means the session was rejected; pause rather than abandon.
	KindAuth
	// KindTimeout means the call did not finish in time and its effect is unknown.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient_network"
	case KindServer:
		return "server"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrTransientNetwork = errors.New("transient network error")
	ErrServer           = errors.New("server error")
	ErrValidation       = errors.New("validation error")
	ErrAuth             = errors.New("unauthorized")
	ErrTimeout          = errors.New("timed out")
)

// Error is a classified failure of a remote call.
type Error struct {
	Kind       Kind
	StatusCode int
	// Message is the server's text when it sent one.
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s (%d)", e.Kind, e.StatusCode)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrValidation) and friends match by Kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransient:
		return ErrTransientNetwork
	case KindServer:
		return ErrServer
	case KindValidation:
		return ErrValidation
	case KindAuth:
		return ErrAuth
	case KindTimeout:
		return ErrTimeout
	}
	return nil
}

// Classify maps any error returned by a remote call onto a Kind.
// Unknown errors are treated as transient.
func Classify(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindTransient
}

// Retryable reports whether a submission that failed with err may be tried
// again. Timeouts are retried because the idempotency key makes a duplicate
// harmless.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindServer, KindTimeout:
		return true
	}
	return false
}

// Message returns the server's text for err when present, else err's text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return err.Error()
}
