package issuer

import (
	"errors"
	"fmt"
	"time"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
	"github.com/strawpay/stroem-consumerj/note"
)

// PaymentChannel is the payment channel engine a Conn drives. A Conn calls it
// with its lock held and never from two goroutines at once. The engine reports
// back through the ChannelConnection it was created with, synchronously from
// within these calls.
type PaymentChannel interface {
	// ConnectionOpen tells the engine the issuer is ready for the channel
	// sub-protocol.
	ConnectionOpen() error

	// ReceiveMessage hands the engine a channel sub-protocol message.
	ReceiveMessage(payload []byte) error

	// IncrementPayment raises the value paid over the channel by amount. The
	// returned channel delivers exactly one PaymentIncrement.
	IncrementPayment(amount int64, info []byte, userKey []byte) (<-chan PaymentIncrement, error)

	// Settle asks the issuer to close the channel. It returns ErrChannelClosed
	// if the channel is already closed.
	Settle() error

	// ConnectionClosed tells the engine the transport is gone.
	ConnectionClosed()
}

// PaymentIncrement is the issuer's acknowledgement of an increment, or the
// reason it failed.
type PaymentIncrement struct {
	Value int64
	Info  []byte
	Err   error
}

// ChannelConnection is how a PaymentChannel talks back to its Conn.
type ChannelConnection interface {
	SendToServer(payload []byte) error

	// AcceptExpireTime reports whether a channel expiring at the unix time
	// expireTime is acceptable.
	AcceptExpireTime(expireTime int64) bool

	ChannelOpen(wasInitiated bool)
	DestroyConnection(reason CloseReason)
}

// ChannelParams configure a new PaymentChannel.
type ChannelParams struct {
	ServerID ServerID
	MaxValue int64
	Timeout  time.Duration
	UserKey  []byte
}

// ChannelFactory creates the payment channel engine of a Conn.
type ChannelFactory func(cc ChannelConnection, p ChannelParams) (PaymentChannel, error)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrChannelClosed     = errors.New("channel closed")
	ErrNotConnected      = errors.New("not connected")
)

// CloseReason is why a payment channel was torn down.
type CloseReason int

const (
	CloseReasonClientRequestedClose CloseReason = iota + 1
	CloseReasonServerRequestedClose
	CloseReasonServerRequestedTooMuchValue
	CloseReasonTimeWindowUnacceptable
	CloseReasonNoAcceptableVersion
	CloseReasonChannelExhausted
	CloseReasonTimeout
	CloseReasonRemoteSentError
	CloseReasonRemoteSentInvalidMessage
	CloseReasonConnectionClosed
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonClientRequestedClose:
		return "CLIENT_REQUESTED_CLOSE"
	case CloseReasonServerRequestedClose:
		return "SERVER_REQUESTED_CLOSE"
	case CloseReasonServerRequestedTooMuchValue:
		return "SERVER_REQUESTED_TOO_MUCH_VALUE"
	case CloseReasonTimeWindowUnacceptable:
		return "TIME_WINDOW_UNACCEPTABLE"
	case CloseReasonNoAcceptableVersion:
		return "NO_ACCEPTABLE_VERSION"
	case CloseReasonChannelExhausted:
		return "CHANNEL_EXHAUSTED"
	case CloseReasonTimeout:
		return "TIMEOUT"
	case CloseReasonRemoteSentError:
		return "REMOTE_SENT_ERROR"
	case CloseReasonRemoteSentInvalidMessage:
		return "REMOTE_SENT_INVALID_MESSAGE"
	case CloseReasonConnectionClosed:
		return "CONNECTION_CLOSED"
	}
	return fmt.Sprintf("CloseReason(%d)", int(r))
}

// openStatus is the status a channel open fails with when the channel is
// torn down for reason r.
func (r CloseReason) openStatus() Status {
	switch r {
	case CloseReasonServerRequestedTooMuchValue:
		return StatusInsufficientFunds
	case CloseReasonTimeout:
		return StatusRemoteTimeout
	case CloseReasonNoAcceptableVersion:
		return StatusRemoteNoAcceptableVersion
	case CloseReasonTimeWindowUnacceptable:
		return StatusRemoteDurationUnacceptable
	case CloseReasonConnectionClosed:
		return StatusSocketClosed
	case CloseReasonRemoteSentInvalidMessage:
		return StatusBadMessage
	case CloseReasonRemoteSentError:
		return StatusRemoteOther
	}
	return StatusGenericError
}

// ChannelCloseError is the error of a PaymentIncrement whose channel was
// torn down before the issuer acknowledged it.
type ChannelCloseError struct {
	Reason CloseReason
}

func (e *ChannelCloseError) Error() string {
	return fmt.Sprintf("payment channel closed: %v", e.Reason)
}

// Transport carries envelopes to the issuer.
type Transport interface {
	Write(m msg.Message) error

	// SetReadTimeout bounds the wait for each inbound message. Zero disables
	// the bound.
	SetReadTimeout(d time.Duration)

	CloseConnection()
}

// NoteBuilder is the promissory note collaborator of a Conn. note.Builder is
// the default.
type NoteBuilder interface {
	BuildNoteRequest(merchantDetails []byte, payee []byte) (note.RequestBundle, error)
	NoteFromBytes(b []byte) (note.PromissoryNote, error)
	ValidateForNegotiate(n note.PromissoryNote, myKey, merchantKey, paymentInfo []byte) (*note.NegotiateInfo, error)
}
