package issuer

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/go-socks/socks"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
)

func dialTCP(ctx context.Context, addr string, timeout time.Duration, proxy, user, pass string) (net.Conn, error) {
	if proxy != "" {
		p := &socks.Proxy{
			Addr:     proxy,
			Username: user,
			Password: pass,
		}
		return p.Dial("tcp", addr)
	}
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// ConnectTCP connects the Conn to the issuer at addr and starts the
// handshake. The handshake and channel open continue after ConnectTCP
// returns; OpenFuture reports how they end. If the issuer cannot be reached
// the open future fails with StatusIssuerUnreachable.
func (c *Conn) ConnectTCP(ctx context.Context, addr string) error {
	conn, err := dialTCP(ctx, addr, c.socketTimeout, c.proxy, c.proxyUser, c.proxyPass)
	if err != nil {
		c.mu.Lock()
		if !c.openFuture.IsDone() {
			c.openFuture.fail(StatusIssuerUnreachable, "connecting to %s: %v", addr, err)
		}
		c.mu.Unlock()
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	log.Infof("%v: connected to %v", c.id, conn.RemoteAddr())
	t := newTCPTransport(conn, c.socketTimeout)
	c.ConnectionOpen(t)
	go t.readLoop(c)
	return nil
}

// Open connects to the issuer at addr and waits until the payment channel is
// open or failed to open.
func Open(ctx context.Context, addr string, cfg Config) (*Conn, Outcome[Opened]) {
	c := NewConn(cfg)
	err := c.ConnectTCP(ctx, addr)
	if err != nil {
		o, _ := c.openFuture.Result()
		return c, o
	}
	o := c.openFuture.Wait(ctx)
	if o.Status() == StatusInterrupted {
		c.DisconnectWithoutSettlement()
	}
	return c, o
}

type tcpTransport struct {
	conn net.Conn
	enc  *msg.Encoder
	dec  *msg.Decoder

	closeOnce sync.Once

	// mu guards the encoder and readTimeout.
	mu          sync.Mutex
	readTimeout time.Duration
}

func newTCPTransport(conn net.Conn, readTimeout time.Duration) *tcpTransport {
	return &tcpTransport{
		conn:        conn,
		enc:         msg.NewEncoder(conn),
		dec:         msg.NewDecoder(conn),
		readTimeout: readTimeout,
	}
}

func (t *tcpTransport) Write(m msg.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Encode(m)
}

func (t *tcpTransport) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
	if d == 0 {
		_ = t.conn.SetReadDeadline(time.Time{})
	}
}

func (t *tcpTransport) CloseConnection() {
	t.closeOnce.Do(func() {
		err := t.conn.Close()
		if err != nil {
			log.Debugf("closing connection to %v: %v", t.conn.RemoteAddr(), err)
		}
	})
}

// readLoop delivers inbound envelopes to c until the connection fails, then
// reports the connection closed.
func (t *tcpTransport) readLoop(c *Conn) {
	defer c.ConnectionClosed()
	defer t.CloseConnection()
	for {
		t.mu.Lock()
		d := t.readTimeout
		t.mu.Unlock()
		if d > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(d))
		}
		m := msg.Message{}
		err := t.dec.Decode(&m)
		if err == io.EOF {
			log.Debugf("%v: issuer closed the connection", c.id)
			return
		}
		if err != nil {
			log.Warnf("%v: receiving: %v", c.id, err)
			return
		}
		c.MessageReceived(m)
	}
}
