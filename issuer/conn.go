package issuer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/stellar/go/keypair"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
	"github.com/strawpay/stroem-consumerj/note"
)

// Snapshotter is given a snapshot of a Conn whenever its step or settling
// state changes. It is called with the Conn locked and must not call back
// into the Conn.
type Snapshotter interface {
	Snapshot(c *Conn, s Snapshot)
}

type Config struct {
	ServerID       ServerID
	MaxValue       int64
	ChannelTimeout time.Duration

	// SocketTimeout bounds the dial and every read until the channel is
	// open.
	SocketTimeout time.Duration

	// UserKey decrypts the channel key if it is encrypted. It is passed to
	// the payment channel engine as is.
	UserKey []byte

	// Proxy is an optional SOCKS5 proxy address used to reach the issuer.
	Proxy     string
	ProxyUser string
	ProxyPass string

	ChannelFactory ChannelFactory
	NoteBuilder    NoteBuilder
	Snapshotter    Snapshotter

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultSocketTimeout is used when Config.SocketTimeout is zero.
const DefaultSocketTimeout = 30 * time.Second

// Opened describes a payment channel that reached CONNECTION_OPEN.
type Opened struct {
	// Fresh is true if the channel was created rather than resumed.
	Fresh  bool
	Issuer msg.Entity
}

// Snapshot is the observable state of a Conn.
type Snapshot struct {
	SessionID      uuid.UUID
	Step           Step
	ServerID       ServerID
	Issuer         *msg.Entity
	MaxValue       int64
	ChannelTimeout time.Duration
	FreshChannel   bool
	Settling       bool
}

func NewConn(c Config) *Conn {
	conn := &Conn{
		id:             uuid.New(),
		serverID:       c.ServerID,
		maxValue:       c.MaxValue,
		channelTimeout: c.ChannelTimeout,
		socketTimeout:  c.SocketTimeout,
		userKey:        c.UserKey,
		proxy:          c.Proxy,
		proxyUser:      c.ProxyUser,
		proxyPass:      c.ProxyPass,
		channelFactory: c.ChannelFactory,
		noteBuilder:    c.NoteBuilder,
		snapshotter:    c.Snapshotter,
		now:            c.Now,

		openFuture:   newFuture[Opened]("channel open"),
		settleFuture: newFuture[struct{}]("settlement"),
		closed:       make(chan struct{}),
	}
	if conn.socketTimeout == 0 {
		conn.socketTimeout = DefaultSocketTimeout
	}
	if conn.noteBuilder == nil {
		conn.noteBuilder = note.Builder{}
	}
	if conn.now == nil {
		conn.now = time.Now
	}
	return conn
}

// Conn is a session with an issuer: the handshake, the payment channel opened
// over it, payment increments and settlement.
type Conn struct {
	id             uuid.UUID
	serverID       ServerID
	maxValue       int64
	channelTimeout time.Duration
	socketTimeout  time.Duration
	userKey        []byte
	proxy          string
	proxyUser      string
	proxyPass      string
	channelFactory ChannelFactory
	noteBuilder    NoteBuilder
	snapshotter    Snapshotter
	now            func() time.Time

	// mu is a lock for the mutable fields of this type. It is also held for
	// every call into channel, so the engine's callbacks run with it held.
	// It is never held while waiting on a future.
	mu sync.Mutex

	step            Step
	transport       Transport
	channel         PaymentChannel
	issuer          *msg.Entity
	settling        bool
	freshChannel    bool
	openFuture      *Future[Opened]
	settleFuture    *Future[struct{}]
	incrementFuture *Future[PaymentIncrement]
	current         pending

	// closed is closed once the session reaches StepConnectionClosed.
	closed chan struct{}
}

// ID returns the session id used in logs and snapshots.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

func (c *Conn) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// OpenFuture completes when the payment channel is open, or failed to open.
func (c *Conn) OpenFuture() *Future[Opened] {
	return c.openFuture
}

// IssuerEntity returns the entity the issuer asserted during the handshake.
func (c *Conn) IssuerEntity() (msg.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.issuer == nil {
		return msg.Entity{}, false
	}
	return *c.issuer, true
}

// FreshChannel reports whether the open channel was created rather than
// resumed. It panics if the channel is not open yet.
func (c *Conn) FreshChannel() bool {
	o, ok := c.openFuture.Result()
	if !ok || !o.IsOK() {
		panic("issuer: FreshChannel called before the channel is open")
	}
	return o.Value().Fresh
}

func (c *Conn) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Conn) snapshotLocked() Snapshot {
	s := Snapshot{
		SessionID:      c.id,
		Step:           c.step,
		ServerID:       c.serverID,
		MaxValue:       c.maxValue,
		ChannelTimeout: c.channelTimeout,
		FreshChannel:   c.freshChannel,
		Settling:       c.settling,
	}
	if c.issuer != nil {
		issuer := *c.issuer
		s.Issuer = &issuer
	}
	return s
}

func (c *Conn) snapshot() {
	if c.snapshotter == nil {
		return
	}
	c.snapshotter.Snapshot(c, c.snapshotLocked())
}

// setStep moves the session to next if the transition is legal. Illegal
// transitions are logged and ignored.
func (c *Conn) setStep(next Step) bool {
	if !CanTransition(c.step, next) {
		log.Errorf("%v: illegal step change %v -> %v", c.id, c.step, next)
		return false
	}
	log.Debugf("%v: step %v -> %v", c.id, c.step, next)
	c.step = next
	c.snapshot()
	return true
}

func (c *Conn) write(m msg.Message) error {
	if c.transport == nil {
		return ErrNotConnected
	}
	log.Tracef("%v: sending %v", c.id, newLogClosure(func() string {
		return spew.Sdump(m)
	}))
	err := c.transport.Write(m)
	if err != nil {
		return fmt.Errorf("sending %v: %w", m.Type, err)
	}
	return nil
}

func (c *Conn) closeTransport() {
	if c.transport != nil {
		c.transport.CloseConnection()
	}
}

func (c *Conn) initChannel() error {
	if c.channel != nil {
		return nil
	}
	if c.channelFactory == nil {
		return fmt.Errorf("no payment channel factory configured")
	}
	ch, err := c.channelFactory(channelConnection{c: c}, ChannelParams{
		ServerID: c.serverID,
		MaxValue: c.maxValue,
		Timeout:  c.channelTimeout,
		UserKey:  c.userKey,
	})
	if err != nil {
		return fmt.Errorf("creating payment channel: %w", err)
	}
	c.channel = ch
	return nil
}

// ConnectionOpen is called by the transport once it is connected. It
// announces the client version to the issuer.
func (c *Conn) ConnectionOpen(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.step == StepConnectionClosed {
		log.Warnf("%v: transport opened on a closed session, closing it", c.id)
		t.CloseConnection()
		return
	}
	if c.step != StepStart {
		log.Warnf("%v: transport opened in step %v, restarting handshake", c.id, c.step)
		c.step = StepStart
	}
	c.transport = t

	err := c.initChannel()
	if err != nil {
		if !c.openFuture.IsDone() {
			c.openFuture.fail(StatusGenericError, "%v", err)
		}
		c.closeTransport()
		return
	}
	err = c.write(msg.Message{
		Type:          msg.TypeClientVersion,
		ClientVersion: &msg.ClientVersion{Version: SupportedVersion},
	})
	if err != nil {
		log.Errorf("%v: %v", c.id, err)
		if !c.openFuture.IsDone() {
			c.openFuture.fail(StatusSocketClosed, "%v", err)
		}
		c.closeTransport()
		return
	}
	c.setStep(StepWaitingForServerVersion)
}

// MessageReceived is called by the transport for every inbound envelope.
func (c *Conn) MessageReceived(m msg.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log.Tracef("%v: received %v", c.id, newLogClosure(func() string {
		return spew.Sdump(m)
	}))
	if c.step == StepConnectionClosed {
		log.Debugf("%v: dropping %v received after close", c.id, m.Type)
		return
	}
	outcome, next, ok := c.dispatch(m, c.step)
	if ok {
		c.setStep(next)
	}
	if !outcome.IsOK() {
		c.routeFailure(outcome)
	}
}

// routeFailure delivers a failed outcome to the operation it affects.
func (c *Conn) routeFailure(o Outcome[struct{}]) {
	switch {
	case !c.openFuture.IsDone():
		c.openFuture.complete(recast[Opened](o))
		c.closeTransport()
	case c.incrementFuture != nil && !c.incrementFuture.IsDone():
		c.incrementFuture.complete(recast[PaymentIncrement](o))
	case c.settling && !c.settleFuture.IsDone():
		c.settleFuture.complete(o)
	default:
		log.Errorf("%v: unattributable failure in step %v: %v", c.id, c.step, o)
	}
}

// ConnectionClosed is called by the transport once it is closed. Every
// outstanding operation fails with StatusSocketClosed.
func (c *Conn) ConnectionClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.step == StepConnectionClosed {
		return
	}
	if c.channel != nil {
		c.channel.ConnectionClosed()
	}
	c.setStep(StepConnectionClosed)
	close(c.closed)

	ops := []pending{c.openFuture}
	if c.incrementFuture != nil {
		ops = append(ops, c.incrementFuture)
	}
	if c.settling {
		ops = append(ops, c.settleFuture)
	}
	if c.current != nil {
		ops = append(ops, c.current)
	}
	for _, op := range ops {
		if !op.IsDone() {
			op.fail(StatusSocketClosed, "connection to issuer closed")
		}
	}
}

// IncrementPayment pays the issuer the amount in the merchant's payment
// details over the open channel, and prepares the promissory note it gets
// back for negotiation to the merchant. myKey receives the note and must sign
// the negotiation.
//
// Only one increment may be in flight. IncrementPayment blocks until the
// issuer acknowledges the payment, the channel fails, or ctx is done.
func (c *Conn) IncrementPayment(ctx context.Context, merchantDetails []byte, myKey keypair.KP) Outcome[*Negotiator] {
	myKeyBytes, err := note.PublicKey(myKey)
	if err != nil {
		return Fail[*Negotiator](StatusGenericError, "%v", err)
	}

	c.mu.Lock()
	if s := incrementStatus(c.step); s != StatusOK {
		step := c.step
		c.mu.Unlock()
		return Fail[*Negotiator](s, "cannot increment payment in step %v", step)
	}
	prev := c.step
	c.setStep(StepWaitingForPaymentAck)

	bundle, err := c.noteBuilder.BuildNoteRequest(merchantDetails, myKeyBytes)
	if err != nil {
		c.setStep(prev)
		c.mu.Unlock()
		return Fail[*Negotiator](StatusBadMessage, "building note request: %v", err)
	}
	if c.issuer == nil || !c.issuer.Equal(bundle.Issuer) {
		c.setStep(prev)
		c.mu.Unlock()
		log.Errorf("%v: merchant names issuer %q with key %x, session issuer is %v", c.id, bundle.Issuer.Name, bundle.Issuer.PublicKey, c.issuer)
		return Fail[*Negotiator](StatusWrongIssuer, "merchant issuer %q does not match the connected issuer", bundle.Issuer.Name)
	}

	inc := newFuture[PaymentIncrement]("increment payment")
	c.incrementFuture = inc
	c.current = inc
	log.Debugf("%v: incrementing payment by %d", c.id, bundle.Amount)
	ackCh, err := c.channel.IncrementPayment(bundle.Amount, bundle.Request, c.userKey)
	if err != nil {
		if !inc.IsDone() {
			inc.complete(incrementFailure(err))
		}
		if c.step == StepWaitingForPaymentAck {
			c.setStep(prev)
		}
		c.mu.Unlock()
		o, _ := inc.Result()
		return recast[*Negotiator](o)
	}
	c.mu.Unlock()

	select {
	case ack := <-ackCh:
		c.mu.Lock()
		c.acknowledge(inc, ack, prev)
		c.mu.Unlock()
	case <-inc.Done():
		// Failed by an issuer error or a teardown. The engine may still
		// acknowledge the increment.
		go c.lateAck(ackCh, prev)
	case <-ctx.Done():
		c.mu.Lock()
		if !inc.IsDone() {
			inc.fail(StatusInterrupted, "waiting for payment ack: %v", ctx.Err())
		}
		c.mu.Unlock()
		go c.lateAck(ackCh, prev)
	}

	o, _ := inc.Result()
	if !o.IsOK() {
		return recast[*Negotiator](o)
	}
	return c.negotiator(o.Value(), bundle, myKeyBytes)
}

func (c *Conn) acknowledge(inc *Future[PaymentIncrement], ack PaymentIncrement, prev Step) {
	if ack.Err != nil {
		if !inc.IsDone() {
			inc.complete(incrementFailure(ack.Err))
		}
		if c.step == StepWaitingForPaymentAck {
			c.setStep(prev)
		}
		return
	}
	if c.step == StepWaitingForPaymentAck {
		c.setStep(StepPaymentDone)
	}
	if inc.IsDone() {
		log.Errorf("%v: payment of %d acknowledged after the increment failed, its note is discarded", c.id, ack.Value)
		return
	}
	inc.complete(OK(ack))
}

// lateAck waits for the acknowledgement of an increment the caller stopped
// waiting for, and takes the session out of StepWaitingForPaymentAck once it
// arrives so it can take payments again. prev is the step the increment
// started from.
func (c *Conn) lateAck(ackCh <-chan PaymentIncrement, prev Step) {
	var ack PaymentIncrement
	select {
	case a, ok := <-ackCh:
		if !ok {
			return
		}
		ack = a
	case <-c.closed:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.step != StepWaitingForPaymentAck {
		return
	}
	if ack.Err != nil {
		log.Warnf("%v: abandoned increment failed: %v", c.id, ack.Err)
		c.setStep(prev)
		return
	}
	log.Errorf("%v: increment of %d acknowledged after the caller stopped waiting, its %d byte note is discarded", c.id, ack.Value, len(ack.Info))
	c.setStep(StepPaymentDone)
}

func incrementFailure(err error) Outcome[PaymentIncrement] {
	var closeErr *ChannelCloseError
	switch {
	case errors.As(err, &closeErr) && closeErr.Reason == CloseReasonServerRequestedTooMuchValue:
		return Fail[PaymentIncrement](StatusInsufficientFunds, "%v", err)
	case errors.As(err, &closeErr):
		return Fail[PaymentIncrement](StatusRemotePaymentChannelError, "%v", err)
	case errors.Is(err, ErrInsufficientFunds):
		return Fail[PaymentIncrement](StatusInsufficientFunds, "%v", err)
	case errors.Is(err, ErrChannelClosed):
		return Fail[PaymentIncrement](StatusSocketClosed, "%v", err)
	}
	return Fail[PaymentIncrement](StatusGenericError, "%v", err)
}

func (c *Conn) negotiator(ack PaymentIncrement, bundle note.RequestBundle, myKey []byte) Outcome[*Negotiator] {
	n, err := c.noteBuilder.NoteFromBytes(ack.Info)
	if err != nil {
		return Fail[*Negotiator](StatusBadMessage, "reading note from payment ack: %v", err)
	}
	if !n.Issuer.Equal(bundle.Issuer) {
		return Fail[*Negotiator](StatusWrongIssuer, "note issued by %q, expected %q", n.Issuer.Name, bundle.Issuer.Name)
	}
	info, err := c.noteBuilder.ValidateForNegotiate(n, myKey, bundle.MerchantPublicKey, []byte(bundle.DisplayText))
	if err != nil {
		return Fail[*Negotiator](StatusBadMessage, "validating note for negotiation: %v", err)
	}
	log.Debugf("%v: payment of %d acknowledged, note ready for negotiation", c.id, ack.Value)
	return OK(&Negotiator{info: info})
}

// Settle asks the issuer to close the payment channel. The returned future
// completes once the issuer has closed it. Calling Settle again returns the
// same future.
func (c *Conn) Settle() *Future[struct{}] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.settling {
		return c.settleFuture
	}
	c.settling = true
	c.current = c.settleFuture
	c.snapshot()

	err := c.initChannel()
	if err != nil {
		c.settleFuture.fail(StatusGenericError, "%v", err)
		return c.settleFuture
	}
	err = c.channel.Settle()
	if err != nil && !errors.Is(err, ErrChannelClosed) && !c.settleFuture.IsDone() {
		c.settleFuture.fail(StatusGenericError, "settling: %v", err)
	}
	if errors.Is(err, ErrChannelClosed) {
		log.Infof("%v: settling a channel that is already closed", c.id)
	}
	if c.step == StepConnectionClosed && !c.settleFuture.IsDone() {
		c.settleFuture.fail(StatusSocketClosed, "connection to issuer closed before settlement")
	}
	return c.settleFuture
}

// DisconnectWithoutSettlement closes the connection to the issuer leaving the
// channel open.
func (c *Conn) DisconnectWithoutSettlement() {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t != nil {
		log.Infof("%v: disconnecting without settlement", c.id)
		t.CloseConnection()
	}
}
