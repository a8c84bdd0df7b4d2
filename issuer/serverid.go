package issuer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
)

const (
	// DefaultPort is the port issuers listen on.
	DefaultPort = 4399

	// SupportedVersion is the only protocol version this client speaks.
	SupportedVersion = 1
)

// ServerID identifies a payment channel with an issuer. A client reopens an
// existing channel by presenting the same ServerID.
type ServerID [32]byte

// ServerIDFromString derives a ServerID from a human readable id, usually the
// issuer host name.
func ServerIDFromString(id string) ServerID {
	return ServerID(sha256.Sum256([]byte(id)))
}

func (id ServerID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ServerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ServerID) UnmarshalText(text []byte) error {
	if len(text) != len(id)*2 {
		return fmt.Errorf("unmarshaling server id: input length %d expected %d", len(text), len(id)*2)
	}
	_, err := hex.Decode(id[:], text)
	if err != nil {
		return fmt.Errorf("unmarshaling server id: %w", err)
	}
	return nil
}

// HostPort appends DefaultPort to host if it has no port.
func HostPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(DefaultPort))
}
