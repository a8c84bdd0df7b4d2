package issuer

import (
	"context"
	"fmt"
	"sync"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
)

// Status classifies the outcome of an operation on a Conn.
type Status int

const (
	StatusOK Status = iota
	StatusIssuerUnreachable
	StatusWrongProtocolVersion
	StatusInsufficientFunds
	StatusSocketClosed
	StatusBadMessage
	StatusRemoteTimeout
	StatusRemoteNoAcceptableVersion
	StatusRemoteDurationUnacceptable
	StatusRemoteWrongIssuerKey
	StatusRemoteOther
	StatusGenericError
	StatusInterrupted
	StatusChannelClosed
	StatusChannelNotReady
	StatusRemotePaymentChannelError
	StatusIllegalState
	StatusUnknownMessageType
	StatusNotImplemented
	StatusWrongIssuer
)

var statusNames = [...]string{
	StatusOK:                         "OK",
	StatusIssuerUnreachable:          "ISSUER_UNREACHABLE",
	StatusWrongProtocolVersion:       "WRONG_PROTOCOL_VERSION",
	StatusInsufficientFunds:          "INSUFFICIENT_FUNDS",
	StatusSocketClosed:               "SOCKET_CLOSED",
	StatusBadMessage:                 "BAD_MESSAGE",
	StatusRemoteTimeout:              "REMOTE_TIMEOUT",
	StatusRemoteNoAcceptableVersion:  "REMOTE_NO_ACCEPTABLE_VERSION",
	StatusRemoteDurationUnacceptable: "REMOTE_DURATION_UNACCEPTABLE",
	StatusRemoteWrongIssuerKey:       "REMOTE_WRONG_ISSUER_KEY",
	StatusRemoteOther:                "REMOTE_OTHER",
	StatusGenericError:               "GENERIC_ERROR",
	StatusInterrupted:                "INTERRUPTED",
	StatusChannelClosed:              "CHANNEL_CLOSED",
	StatusChannelNotReady:            "CHANNEL_NOT_READY",
	StatusRemotePaymentChannelError:  "REMOTE_PAYMENT_CHANNEL_ERROR",
	StatusIllegalState:               "ILLEGAL_STATE",
	StatusUnknownMessageType:         "UNKNOWN_MESSAGE_TYPE",
	StatusNotImplemented:             "NOT_IMPLEMENTED",
	StatusWrongIssuer:                "WRONG_ISSUER",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StatusFromRemote maps an error code reported by the issuer to a local
// status. SYNTAX_ERROR, OTHER and codes outside the known set map to
// StatusRemoteOther.
func StatusFromRemote(code msg.ErrorCode) Status {
	switch code {
	case msg.ErrorCodeTimeout:
		return StatusRemoteTimeout
	case msg.ErrorCodeNoAcceptableVersion:
		return StatusRemoteNoAcceptableVersion
	case msg.ErrorCodeDurationUnacceptable:
		return StatusRemoteDurationUnacceptable
	case msg.ErrorCodeWrongIssuerPublicKey:
		return StatusRemoteWrongIssuerKey
	}
	return StatusRemoteOther
}

// Outcome is the result of an asynchronous operation: a value when the status
// is StatusOK, otherwise a message describing the failure.
type Outcome[T any] struct {
	status  Status
	value   T
	message string
}

func OK[T any](v T) Outcome[T] {
	return Outcome[T]{status: StatusOK, value: v}
}

// Fail returns a failed outcome. It panics if s is StatusOK.
func Fail[T any](s Status, format string, args ...any) Outcome[T] {
	if s == StatusOK {
		panic("issuer: failed outcome with status OK")
	}
	return Outcome[T]{status: s, message: fmt.Sprintf(format, args...)}
}

func (o Outcome[T]) Status() Status {
	return o.status
}

func (o Outcome[T]) IsOK() bool {
	return o.status == StatusOK
}

// Value returns the value of a successful outcome, or the zero value.
func (o Outcome[T]) Value() T {
	return o.value
}

// Message returns the failure message, or an empty string on success.
func (o Outcome[T]) Message() string {
	return o.message
}

func (o Outcome[T]) String() string {
	if o.IsOK() {
		return o.status.String()
	}
	return fmt.Sprintf("%v: %s", o.status, o.message)
}

// Err returns nil for a successful outcome and a *StatusError otherwise.
func (o Outcome[T]) Err() error {
	if o.IsOK() {
		return nil
	}
	return &StatusError{Status: o.status, Message: o.message}
}

// recast carries a failed outcome over to another value type.
func recast[U, T any](o Outcome[T]) Outcome[U] {
	if o.IsOK() {
		panic("issuer: recasting a successful outcome")
	}
	return Outcome[U]{status: o.status, message: o.message}
}

type StatusError struct {
	Status  Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%v: %s", e.Status, e.Message)
}

// pending is a Future of any value type that can be failed.
type pending interface {
	IsDone() bool
	fail(s Status, format string, args ...any) bool
}

// Future is an outcome that becomes available once. Completing it a second
// time is rejected and logged.
type Future[T any] struct {
	name string
	done chan struct{}

	mu      sync.Mutex
	outcome Outcome[T]
	set     bool
}

func newFuture[T any](name string) *Future[T] {
	return &Future[T]{name: name, done: make(chan struct{})}
}

func (f *Future[T]) complete(o Outcome[T]) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		log.Errorf("rejected second completion of %s future with %v, already completed with %v", f.name, o, f.outcome)
		return false
	}
	f.outcome = o
	f.set = true
	close(f.done)
	log.Debugf("%s future completed with %v", f.name, o)
	return true
}

func (f *Future[T]) fail(s Status, format string, args ...any) bool {
	return f.complete(Fail[T](s, format, args...))
}

// Done returns a channel that is closed once the future is completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome and true if the future is completed.
func (f *Future[T]) Result() (Outcome[T], bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome, f.set
}

// Wait blocks until the future is completed or ctx is done. A done context
// yields StatusInterrupted and leaves the future untouched.
func (f *Future[T]) Wait(ctx context.Context) Outcome[T] {
	select {
	case <-f.done:
		o, _ := f.Result()
		return o
	case <-ctx.Done():
		return Fail[T](StatusInterrupted, "waiting for %s: %v", f.name, ctx.Err())
	}
}
