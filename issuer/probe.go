package issuer

import (
	"context"
	"fmt"
	"time"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
)

// Probe performs only the version handshake with the issuer at addr and
// returns what the issuer announced. An error reply from the issuer is
// returned as a *StatusError.
func Probe(ctx context.Context, addr string, c Config) (msg.ServerVersion, error) {
	timeout := c.SocketTimeout
	if timeout == 0 {
		timeout = DefaultSocketTimeout
	}
	conn, err := dialTCP(ctx, addr, timeout, c.Proxy, c.ProxyUser, c.ProxyPass)
	if err != nil {
		return msg.ServerVersion{}, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	err = msg.NewEncoder(conn).Encode(msg.Message{
		Type:          msg.TypeClientVersion,
		ClientVersion: &msg.ClientVersion{Version: SupportedVersion},
	})
	if err != nil {
		return msg.ServerVersion{}, err
	}
	m := msg.Message{}
	err = msg.NewDecoder(conn).Decode(&m)
	if err != nil {
		return msg.ServerVersion{}, fmt.Errorf("reading version reply: %w", err)
	}
	err = m.Validate()
	if err != nil {
		return msg.ServerVersion{}, err
	}
	switch m.Type {
	case msg.TypeServerVersion:
		log.Debugf("probed %s: issuer %q version %d", addr, m.ServerVersion.Entity.Name, m.ServerVersion.Version)
		return *m.ServerVersion, nil
	case msg.TypeError:
		return msg.ServerVersion{}, &StatusError{
			Status:  StatusFromRemote(m.Error.Code),
			Message: m.Error.Explanation,
		}
	}
	return msg.ServerVersion{}, fmt.Errorf("unexpected reply %v to client version", m.Type)
}
