// Package msg contains the envelope exchanged with a Stroem issuer and the
// length-prefixed codec used to frame it on a TCP stream.
package msg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

type Type int

const (
	TypeClientVersion  Type = 1
	TypeServerVersion  Type = 2
	TypePaymentChannel Type = 3
	TypeNote           Type = 4
	TypeError          Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeClientVersion:
		return "CLIENT_VERSION"
	case TypeServerVersion:
		return "SERVER_VERSION"
	case TypePaymentChannel:
		return "PAYMENT_CHANNEL"
	case TypeNote:
		return "NOTE"
	case TypeError:
		return "ERROR"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Message is the envelope. Exactly one payload field is set, and it is the one
// matching Type.
type Message struct {
	Type Type

	ClientVersion  *ClientVersion  `msgpack:",omitempty"`
	ServerVersion  *ServerVersion  `msgpack:",omitempty"`
	PaymentChannel *PaymentChannel `msgpack:",omitempty"`
	Note           *Note           `msgpack:",omitempty"`
	Error          *Error          `msgpack:",omitempty"`
}

type ClientVersion struct {
	Version int32
}

type ServerVersion struct {
	Version int32
	Entity  Entity
}

// PaymentChannel carries an opaque message of the payment channel
// sub-protocol.
type PaymentChannel struct {
	Payload []byte
}

// Note carries a serialized promissory note.
type Note struct {
	Payload []byte
}

type Error struct {
	Code        ErrorCode
	Explanation string `msgpack:",omitempty"`
}

// Entity is a named participant identified by a public key.
type Entity struct {
	Name      string
	PublicKey []byte
}

// Equal reports whether both the name and the public key bytes match.
func (e Entity) Equal(o Entity) bool {
	return e.Name == o.Name && bytes.Equal(e.PublicKey, o.PublicKey)
}

// ErrorCode is the code an issuer reports in an error reply.
type ErrorCode int32

const (
	ErrorCodeTimeout              ErrorCode = 1
	ErrorCodeSyntaxError          ErrorCode = 2
	ErrorCodeNoAcceptableVersion  ErrorCode = 3
	ErrorCodeDurationUnacceptable ErrorCode = 4
	ErrorCodeWrongIssuerPublicKey ErrorCode = 5
	ErrorCodeOther                ErrorCode = 8
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeTimeout:
		return "TIMEOUT"
	case ErrorCodeSyntaxError:
		return "SYNTAX_ERROR"
	case ErrorCodeNoAcceptableVersion:
		return "NO_ACCEPTABLE_VERSION"
	case ErrorCodeDurationUnacceptable:
		return "DURATION_UNACCEPTABLE"
	case ErrorCodeWrongIssuerPublicKey:
		return "WRONG_ISSUER_PUBLICKEY"
	case ErrorCodeOther:
		return "OTHER"
	}
	return fmt.Sprintf("ErrorCode(%d)", int32(c))
}

// ErrMissingPayload indicates an envelope whose tag has no matching payload,
// or that carries a payload for another tag.
var ErrMissingPayload = errors.New("payload does not match message type")

// Validate checks that the payload matches the type.
func (m Message) Validate() error {
	set := 0
	for _, present := range []bool{
		m.ClientVersion != nil,
		m.ServerVersion != nil,
		m.PaymentChannel != nil,
		m.Note != nil,
		m.Error != nil,
	} {
		if present {
			set++
		}
	}
	var ok bool
	switch m.Type {
	case TypeClientVersion:
		ok = m.ClientVersion != nil
	case TypeServerVersion:
		ok = m.ServerVersion != nil
	case TypePaymentChannel:
		ok = m.PaymentChannel != nil
	case TypeNote:
		ok = m.Note != nil
	case TypeError:
		ok = m.Error != nil
	default:
		// Unknown types are left to the receiver to reject.
		return nil
	}
	if !ok || set != 1 {
		return fmt.Errorf("%v: %w", m.Type, ErrMissingPayload)
	}
	return nil
}

// MaxMessageSize is the largest frame body accepted or written.
const MaxMessageSize = 1<<15 - 1

var ErrMessageTooLarge = errors.New("message too large")

// Encoder writes length-prefixed envelopes. It is not safe for concurrent use.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(m Message) error {
	body, err := msgpack.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encoding %v: %w", m.Type, err)
	}
	if len(body) > MaxMessageSize {
		return fmt.Errorf("encoding %v of %d bytes: %w", m.Type, len(body), ErrMessageTooLarge)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err = e.w.Write(frame)
	if err != nil {
		return fmt.Errorf("writing %v: %w", m.Type, err)
	}
	return nil
}

// Decoder reads length-prefixed envelopes. It is not safe for concurrent use.
type Decoder struct {
	r io.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads the next envelope. io.EOF is returned unwrapped when the
// stream ends cleanly between frames.
func (d *Decoder) Decode(m *Message) error {
	var header [4]byte
	_, err := io.ReadFull(d.r, header[:])
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return fmt.Errorf("reading frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxMessageSize {
		return fmt.Errorf("frame of %d bytes: %w", n, ErrMessageTooLarge)
	}
	body := make([]byte, n)
	_, err = io.ReadFull(d.r, body)
	if err != nil {
		return fmt.Errorf("reading frame body: %w", err)
	}
	*m = Message{}
	err = msgpack.Unmarshal(body, m)
	if err != nil {
		return fmt.Errorf("decoding frame body: %w", err)
	}
	return nil
}
