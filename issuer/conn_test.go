package issuer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
	"github.com/strawpay/stroem-consumerj/note"
)

type fakeTransport struct {
	mu          sync.Mutex
	sent        []msg.Message
	closed      bool
	readTimeout time.Duration
	writeErr    error
}

func (t *fakeTransport) Write(m msg.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	t.sent = append(t.sent, m)
	return nil
}

func (t *fakeTransport) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = d
}

func (t *fakeTransport) CloseConnection() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

func (t *fakeTransport) Sent() []msg.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]msg.Message(nil), t.sent...)
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// fakeChannel is a payment channel engine whose behaviour is set per test.
// It is only called with the Conn locked.
type fakeChannel struct {
	cc ChannelConnection

	onConnectionOpen func() error
	onReceive        func(payload []byte) error
	onIncrement      func(amount int64, info, userKey []byte) (<-chan PaymentIncrement, error)
	onSettle         func() error

	increments int
	settles    int
	closed     int
}

func (f *fakeChannel) ConnectionOpen() error {
	if f.onConnectionOpen != nil {
		return f.onConnectionOpen()
	}
	return f.cc.SendToServer([]byte("initiate"))
}

func (f *fakeChannel) ReceiveMessage(payload []byte) error {
	if f.onReceive != nil {
		return f.onReceive(payload)
	}
	if string(payload) == "open" {
		f.cc.ChannelOpen(true)
	}
	return nil
}

func (f *fakeChannel) IncrementPayment(amount int64, info, userKey []byte) (<-chan PaymentIncrement, error) {
	f.increments++
	if f.onIncrement != nil {
		return f.onIncrement(amount, info, userKey)
	}
	return make(chan PaymentIncrement), nil
}

func (f *fakeChannel) Settle() error {
	f.settles++
	if f.onSettle != nil {
		return f.onSettle()
	}
	return nil
}

func (f *fakeChannel) ConnectionClosed() {
	f.closed++
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stepRecorder struct {
	steps []Step
}

func (r *stepRecorder) Snapshot(c *Conn, s Snapshot) {
	r.steps = append(r.steps, s.Step)
}

type testParties struct {
	issuer   *keypair.Full
	consumer *keypair.Full
	merchant *keypair.Full
	entity   msg.Entity
}

func newTestParties(t *testing.T) testParties {
	t.Helper()
	issuer := keypair.MustRandom()
	key, err := note.PublicKey(issuer)
	require.NoError(t, err)
	return testParties{
		issuer:   issuer,
		consumer: keypair.MustRandom(),
		merchant: keypair.MustRandom(),
		entity:   msg.Entity{Name: "issuer", PublicKey: key},
	}
}

func (p testParties) merchantDetails(t *testing.T, issuer msg.Entity, amount int64) []byte {
	t.Helper()
	merchantKey, err := note.PublicKey(p.merchant)
	require.NoError(t, err)
	b, err := note.PaymentDetails{
		Issuer:            issuer,
		MerchantPublicKey: merchantKey,
		Amount:            amount,
		Currency:          "SEK",
		DisplayText:       "coffee",
	}.MarshalBinary()
	require.NoError(t, err)
	return b
}

// issueOnIncrement acknowledges every increment with a note issued for the
// request in the increment info.
func (p testParties) issueOnIncrement(t *testing.T) func(amount int64, info, userKey []byte) (<-chan PaymentIncrement, error) {
	return func(amount int64, info, userKey []byte) (<-chan PaymentIncrement, error) {
		req := note.Request{}
		require.NoError(t, req.UnmarshalBinary(info))
		n, err := note.Issue(p.issuer, p.entity.Name, req, testNow)
		require.NoError(t, err)
		b, err := n.MarshalBinary()
		require.NoError(t, err)
		ack := make(chan PaymentIncrement, 1)
		ack <- PaymentIncrement{Value: amount, Info: b}
		return ack, nil
	}
}

func newTestConn(t *testing.T, ch *fakeChannel, snapshotter Snapshotter) (*Conn, *fakeTransport) {
	t.Helper()
	c := NewConn(Config{
		ServerID:       ServerIDFromString("issuer.example.com"),
		MaxValue:       10000,
		ChannelTimeout: 24 * time.Hour,
		UserKey:        []byte("user key"),
		ChannelFactory: func(cc ChannelConnection, p ChannelParams) (PaymentChannel, error) {
			ch.cc = cc
			return ch, nil
		},
		Snapshotter: snapshotter,
		Now:         func() time.Time { return testNow },
	})
	return c, &fakeTransport{}
}

func openTestConn(t *testing.T, c *Conn, tr *fakeTransport, entity msg.Entity) {
	t.Helper()
	c.ConnectionOpen(tr)
	c.MessageReceived(msg.Message{Type: msg.TypeServerVersion, ServerVersion: &msg.ServerVersion{Version: 1, Entity: entity}})
	c.MessageReceived(msg.Message{Type: msg.TypePaymentChannel, PaymentChannel: &msg.PaymentChannel{Payload: []byte("open")}})
	o, ok := c.OpenFuture().Result()
	require.True(t, ok)
	require.True(t, o.IsOK(), o.String())
}

func TestConn_versionHandshake(t *testing.T) {
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)

	c.ConnectionOpen(tr)

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, msg.Message{Type: msg.TypeClientVersion, ClientVersion: &msg.ClientVersion{Version: 1}}, sent[0])
	assert.Equal(t, StepWaitingForServerVersion, c.Step())
}

func TestConn_openPaymentSettle(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{onIncrement: p.issueOnIncrement(t)}
	ch.onSettle = func() error {
		ch.cc.DestroyConnection(CloseReasonClientRequestedClose)
		return nil
	}
	rec := &stepRecorder{}
	c, tr := newTestConn(t, ch, rec)
	tr.readTimeout = time.Minute

	openTestConn(t, c, tr, p.entity)
	assert.True(t, c.FreshChannel())
	entity, ok := c.IssuerEntity()
	require.True(t, ok)
	assert.True(t, p.entity.Equal(entity))
	assert.Equal(t, time.Duration(0), tr.readTimeout)

	sent := tr.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, msg.TypePaymentChannel, sent[1].Type)
	assert.Equal(t, []byte("initiate"), sent[1].PaymentChannel.Payload)

	o := c.IncrementPayment(context.Background(), p.merchantDetails(t, p.entity, 250), p.consumer)
	require.True(t, o.IsOK(), o.String())
	assert.Equal(t, StepPaymentDone, c.Step())
	assert.Equal(t, int64(250), o.Value().Note().Amount)

	h := o.Value().HashToSign()
	sig, err := p.consumer.Sign(h[:])
	require.NoError(t, err)
	m, err := o.Value().Negotiate(sig)
	require.NoError(t, err)
	require.Equal(t, msg.TypeNote, m.Type)

	negotiated := note.PromissoryNote{}
	require.NoError(t, negotiated.UnmarshalBinary(m.Note.Payload))
	assert.NoError(t, negotiated.Verify())
	merchantKey, err := note.PublicKey(p.merchant)
	require.NoError(t, err)
	assert.Equal(t, merchantKey, negotiated.Holder())

	// A second increment is allowed from PAYMENT_DONE.
	o = c.IncrementPayment(context.Background(), p.merchantDetails(t, p.entity, 100), p.consumer)
	require.True(t, o.IsOK(), o.String())
	assert.Equal(t, 2, ch.increments)

	settled := c.Settle().Wait(context.Background())
	assert.True(t, settled.IsOK(), settled.String())
	assert.True(t, tr.Closed())

	assert.Equal(t, []Step{
		StepWaitingForServerVersion,
		StepWaitingForChannelInitiate,
		StepConnectionOpen,
		StepWaitingForPaymentAck,
		StepPaymentDone,
		StepWaitingForPaymentAck,
		StepPaymentDone,
		StepPaymentDone,
	}, rec.steps)
}

func TestConn_versionMismatch(t *testing.T) {
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	c.ConnectionOpen(tr)

	c.MessageReceived(msg.Message{Type: msg.TypeServerVersion, ServerVersion: &msg.ServerVersion{Version: 2}})

	o, ok := c.OpenFuture().Result()
	require.True(t, ok)
	assert.Equal(t, StatusWrongProtocolVersion, o.Status())
	assert.Equal(t, StepWaitingForServerVersion, c.Step())
	assert.True(t, tr.Closed())
	_, ok = c.IssuerEntity()
	assert.False(t, ok)
}

func TestConn_serverVersionOutOfStep(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	c.MessageReceived(msg.Message{Type: msg.TypeServerVersion, ServerVersion: &msg.ServerVersion{Version: 1, Entity: p.entity}})
	assert.Equal(t, StepConnectionOpen, c.Step())
}

func TestConn_acceptExpireTime(t *testing.T) {
	ch := &fakeChannel{}
	c, _ := newTestConn(t, ch, nil)
	target := testNow.Add(24 * time.Hour).Unix()

	testCases := []struct {
		expire int64
		want   bool
	}{
		{target, true},
		{target + 2*3540, false},
		{target - 2*3540, false},
		{target + 3539, true},
		{target - 3539, true},
		{target + 3540, false},
		{target - 3540, false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, c.acceptExpireTime(tc.expire), "expire offset %d", tc.expire-target)
	}
}

func TestConn_singleIncrementInFlight(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)
	details := p.merchantDetails(t, p.entity, 10)

	first := make(chan Outcome[*Negotiator])
	go func() {
		first <- c.IncrementPayment(context.Background(), details, p.consumer)
	}()
	require.Eventually(t, func() bool {
		return c.Step() == StepWaitingForPaymentAck
	}, time.Second, time.Millisecond)

	sentBefore := len(tr.Sent())
	o := c.IncrementPayment(context.Background(), details, p.consumer)
	assert.Equal(t, StatusChannelNotReady, o.Status())
	c.mu.Lock()
	assert.Equal(t, 1, ch.increments)
	c.mu.Unlock()
	assert.Len(t, tr.Sent(), sentBefore)

	c.ConnectionClosed()
	assert.Equal(t, StatusSocketClosed, (<-first).Status())
}

func TestConn_incrementAfterClose(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	c.ConnectionClosed()

	o := c.IncrementPayment(context.Background(), p.merchantDetails(t, p.entity, 10), p.consumer)
	assert.Equal(t, StatusChannelClosed, o.Status())
	assert.Equal(t, 0, ch.increments)
}

func TestConn_incrementBeforeOpen(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	c.ConnectionOpen(tr)

	o := c.IncrementPayment(context.Background(), p.merchantDetails(t, p.entity, 10), p.consumer)
	assert.Equal(t, StatusChannelNotReady, o.Status())
}

func TestConn_incrementWrongIssuer(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	stale := msg.Entity{Name: p.entity.Name, PublicKey: []byte("old key")}
	o := c.IncrementPayment(context.Background(), p.merchantDetails(t, stale, 10), p.consumer)
	assert.Equal(t, StatusWrongIssuer, o.Status())
	assert.Equal(t, StepConnectionOpen, c.Step())
	assert.Equal(t, 0, ch.increments)
}

func TestConn_incrementBadMerchantDetails(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	o := c.IncrementPayment(context.Background(), []byte{0xc1}, p.consumer)
	assert.Equal(t, StatusBadMessage, o.Status())
	assert.Equal(t, StepConnectionOpen, c.Step())
}

func TestConn_incrementInsufficientFunds(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{
		onIncrement: func(amount int64, info, userKey []byte) (<-chan PaymentIncrement, error) {
			return nil, ErrInsufficientFunds
		},
	}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	o := c.IncrementPayment(context.Background(), p.merchantDetails(t, p.entity, 10), p.consumer)
	assert.Equal(t, StatusInsufficientFunds, o.Status())
	assert.Equal(t, StepConnectionOpen, c.Step())
}

func TestConn_incrementChannelCloseError(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{
		onIncrement: func(amount int64, info, userKey []byte) (<-chan PaymentIncrement, error) {
			ack := make(chan PaymentIncrement, 1)
			ack <- PaymentIncrement{Err: &ChannelCloseError{Reason: CloseReasonRemoteSentError}}
			return ack, nil
		},
	}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	o := c.IncrementPayment(context.Background(), p.merchantDetails(t, p.entity, 10), p.consumer)
	assert.Equal(t, StatusRemotePaymentChannelError, o.Status())
	assert.Equal(t, StepConnectionOpen, c.Step())
}

func TestConn_incrementUnexpectedTermination(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	result := make(chan Outcome[*Negotiator])
	go func() {
		result <- c.IncrementPayment(context.Background(), p.merchantDetails(t, p.entity, 10), p.consumer)
	}()
	require.Eventually(t, func() bool {
		return c.Step() == StepWaitingForPaymentAck
	}, time.Second, time.Millisecond)

	ch.onReceive = func(payload []byte) error {
		ch.cc.DestroyConnection(CloseReasonChannelExhausted)
		return nil
	}
	c.MessageReceived(msg.Message{Type: msg.TypePaymentChannel, PaymentChannel: &msg.PaymentChannel{Payload: []byte("error")}})

	assert.Equal(t, StatusRemotePaymentChannelError, (<-result).Status())
	assert.True(t, tr.Closed())
}

func TestConn_incrementRemoteError(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	result := make(chan Outcome[*Negotiator])
	go func() {
		result <- c.IncrementPayment(context.Background(), p.merchantDetails(t, p.entity, 10), p.consumer)
	}()
	require.Eventually(t, func() bool {
		return c.Step() == StepWaitingForPaymentAck
	}, time.Second, time.Millisecond)

	c.MessageReceived(msg.Message{Type: msg.TypeError, Error: &msg.Error{Code: msg.ErrorCodeWrongIssuerPublicKey, Explanation: "stale key"}})

	o := <-result
	assert.Equal(t, StatusRemoteWrongIssuerKey, o.Status())
	assert.Contains(t, o.Message(), "stale key")
}

func TestConn_incrementRemoteErrorThenAck(t *testing.T) {
	p := newTestParties(t)
	ack := make(chan PaymentIncrement)
	ch := &fakeChannel{
		onIncrement: func(amount int64, info, userKey []byte) (<-chan PaymentIncrement, error) {
			return ack, nil
		},
	}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	result := make(chan Outcome[*Negotiator])
	go func() {
		result <- c.IncrementPayment(context.Background(), p.merchantDetails(t, p.entity, 10), p.consumer)
	}()
	require.Eventually(t, func() bool {
		return c.Step() == StepWaitingForPaymentAck
	}, time.Second, time.Millisecond)

	c.MessageReceived(msg.Message{Type: msg.TypeError, Error: &msg.Error{Code: msg.ErrorCodeOther}})
	assert.Equal(t, StatusRemoteOther, (<-result).Status())
	assert.Equal(t, StepWaitingForPaymentAck, c.Step())

	// The engine acknowledges on an unbuffered channel from within
	// ReceiveMessage, with the Conn locked.
	ch.onReceive = func(payload []byte) error {
		ack <- PaymentIncrement{Value: 10}
		return nil
	}
	c.MessageReceived(msg.Message{Type: msg.TypePaymentChannel, PaymentChannel: &msg.PaymentChannel{Payload: []byte("ack")}})
	require.Eventually(t, func() bool {
		return c.Step() == StepPaymentDone
	}, time.Second, time.Millisecond)

	ch.onIncrement = p.issueOnIncrement(t)
	o := c.IncrementPayment(context.Background(), p.merchantDetails(t, p.entity, 20), p.consumer)
	require.True(t, o.IsOK(), o.String())
	assert.Equal(t, 2, ch.increments)
}

func TestConn_incrementRemoteErrorThenFailedAck(t *testing.T) {
	p := newTestParties(t)
	ack := make(chan PaymentIncrement, 1)
	ch := &fakeChannel{
		onIncrement: func(amount int64, info, userKey []byte) (<-chan PaymentIncrement, error) {
			return ack, nil
		},
	}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	result := make(chan Outcome[*Negotiator])
	go func() {
		result <- c.IncrementPayment(context.Background(), p.merchantDetails(t, p.entity, 10), p.consumer)
	}()
	require.Eventually(t, func() bool {
		return c.Step() == StepWaitingForPaymentAck
	}, time.Second, time.Millisecond)

	c.MessageReceived(msg.Message{Type: msg.TypeError, Error: &msg.Error{Code: msg.ErrorCodeTimeout}})
	assert.Equal(t, StatusRemoteTimeout, (<-result).Status())

	ack <- PaymentIncrement{Err: ErrInsufficientFunds}
	require.Eventually(t, func() bool {
		return c.Step() == StepConnectionOpen
	}, time.Second, time.Millisecond)
}

func TestConn_incrementInterrupted(t *testing.T) {
	p := newTestParties(t)
	ack := make(chan PaymentIncrement, 1)
	ch := &fakeChannel{
		onIncrement: func(amount int64, info, userKey []byte) (<-chan PaymentIncrement, error) {
			return ack, nil
		},
	}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := c.IncrementPayment(ctx, p.merchantDetails(t, p.entity, 10), p.consumer)
	assert.Equal(t, StatusInterrupted, o.Status())
	assert.Equal(t, StepWaitingForPaymentAck, c.Step())

	ack <- PaymentIncrement{Value: 10}
	require.Eventually(t, func() bool {
		return c.Step() == StepPaymentDone
	}, time.Second, time.Millisecond)
}

func TestConn_settleIdempotent(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	ch.onSettle = func() error {
		ch.cc.DestroyConnection(CloseReasonClientRequestedClose)
		return nil
	}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	f1 := c.Settle()
	f2 := c.Settle()
	assert.Same(t, f1, f2)
	assert.Equal(t, 1, ch.settles)

	o1, ok := f1.Result()
	require.True(t, ok)
	assert.True(t, o1.IsOK())
	o2, _ := f2.Result()
	assert.Equal(t, o1, o2)
	assert.True(t, c.Snapshot().Settling)
}

func TestConn_settleClosedChannel(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{onSettle: func() error { return ErrChannelClosed }}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)
	c.ConnectionClosed()

	o := c.Settle().Wait(context.Background())
	assert.Equal(t, StatusSocketClosed, o.Status())
}

func TestConn_settleWithoutChannel(t *testing.T) {
	ch := &fakeChannel{}
	ch.onSettle = func() error {
		ch.cc.DestroyConnection(CloseReasonClientRequestedClose)
		return nil
	}
	c, _ := newTestConn(t, ch, nil)

	f := c.Settle()
	assert.Equal(t, 1, ch.settles)
	o, ok := f.Result()
	require.True(t, ok)
	assert.True(t, o.IsOK())

	open, ok := c.OpenFuture().Result()
	require.True(t, ok)
	assert.Equal(t, StatusGenericError, open.Status())
}

func TestConn_settleInterruptedByOtherReason(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	ch.onSettle = func() error {
		ch.cc.DestroyConnection(CloseReasonServerRequestedClose)
		return nil
	}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	o := c.Settle().Wait(context.Background())
	assert.Equal(t, StatusGenericError, o.Status())
	assert.True(t, tr.Closed())
}

func TestConn_abruptCloseResolvesOpen(t *testing.T) {
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	c.ConnectionOpen(tr)

	c.ConnectionClosed()

	o, ok := c.OpenFuture().Result()
	require.True(t, ok)
	assert.Equal(t, StatusSocketClosed, o.Status())
	assert.Equal(t, StepConnectionClosed, c.Step())
	assert.Equal(t, 1, ch.closed)

	// Closed is absorbing.
	c.ConnectionClosed()
	c.ConnectionOpen(tr)
	assert.Equal(t, StepConnectionClosed, c.Step())
	assert.Equal(t, 1, ch.closed)
}

func TestConn_destroyWhileOpening(t *testing.T) {
	testCases := []struct {
		reason CloseReason
		want   Status
	}{
		{CloseReasonServerRequestedTooMuchValue, StatusInsufficientFunds},
		{CloseReasonTimeout, StatusRemoteTimeout},
		{CloseReasonNoAcceptableVersion, StatusRemoteNoAcceptableVersion},
		{CloseReasonTimeWindowUnacceptable, StatusRemoteDurationUnacceptable},
		{CloseReasonConnectionClosed, StatusSocketClosed},
		{CloseReasonRemoteSentInvalidMessage, StatusBadMessage},
		{CloseReasonRemoteSentError, StatusRemoteOther},
		{CloseReasonChannelExhausted, StatusGenericError},
	}
	for _, tc := range testCases {
		t.Run(tc.reason.String(), func(t *testing.T) {
			p := newTestParties(t)
			ch := &fakeChannel{}
			ch.onReceive = func(payload []byte) error {
				ch.cc.DestroyConnection(tc.reason)
				return nil
			}
			c, tr := newTestConn(t, ch, nil)
			c.ConnectionOpen(tr)
			c.MessageReceived(msg.Message{Type: msg.TypeServerVersion, ServerVersion: &msg.ServerVersion{Version: 1, Entity: p.entity}})
			c.MessageReceived(msg.Message{Type: msg.TypePaymentChannel, PaymentChannel: &msg.PaymentChannel{Payload: []byte("x")}})

			o, ok := c.OpenFuture().Result()
			require.True(t, ok)
			assert.Equal(t, tc.want, o.Status())
			assert.True(t, tr.Closed())
		})
	}
}

func TestConn_clientRequestedCloseWithoutSettlePanics(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	ch.onReceive = func(payload []byte) error {
		ch.cc.DestroyConnection(CloseReasonClientRequestedClose)
		return nil
	}
	assert.Panics(t, func() {
		c.MessageReceived(msg.Message{Type: msg.TypePaymentChannel, PaymentChannel: &msg.PaymentChannel{Payload: []byte("close")}})
	})
	assert.True(t, tr.Closed())

	// The lock is released by the panic.
	assert.Equal(t, StepConnectionOpen, c.Step())
}

func TestConn_writeFailureFailsOpen(t *testing.T) {
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	tr.writeErr = assert.AnError

	c.ConnectionOpen(tr)

	o, ok := c.OpenFuture().Result()
	require.True(t, ok)
	assert.Equal(t, StatusSocketClosed, o.Status())
	assert.True(t, tr.Closed())
}

func TestConn_channelFactoryFailure(t *testing.T) {
	c := NewConn(Config{
		ChannelFactory: func(cc ChannelConnection, p ChannelParams) (PaymentChannel, error) {
			return nil, assert.AnError
		},
	})
	tr := &fakeTransport{}

	c.ConnectionOpen(tr)

	o, ok := c.OpenFuture().Result()
	require.True(t, ok)
	assert.Equal(t, StatusGenericError, o.Status())
	assert.Empty(t, tr.Sent())
}

func TestConn_channelParams(t *testing.T) {
	var got ChannelParams
	c := NewConn(Config{
		ServerID:       ServerIDFromString("a"),
		MaxValue:       42,
		ChannelTimeout: time.Hour,
		UserKey:        []byte{9},
		ChannelFactory: func(cc ChannelConnection, p ChannelParams) (PaymentChannel, error) {
			got = p
			return &fakeChannel{cc: cc}, nil
		},
	})
	c.ConnectionOpen(&fakeTransport{})

	assert.Equal(t, ChannelParams{
		ServerID: ServerIDFromString("a"),
		MaxValue: 42,
		Timeout:  time.Hour,
		UserKey:  []byte{9},
	}, got)
}

func TestConn_Snapshot(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)
	openTestConn(t, c, tr, p.entity)

	s := c.Snapshot()
	assert.Equal(t, c.ID(), s.SessionID)
	assert.Equal(t, StepConnectionOpen, s.Step)
	assert.Equal(t, ServerIDFromString("issuer.example.com"), s.ServerID)
	require.NotNil(t, s.Issuer)
	assert.True(t, p.entity.Equal(*s.Issuer))
	assert.Equal(t, int64(10000), s.MaxValue)
	assert.Equal(t, 24*time.Hour, s.ChannelTimeout)
	assert.True(t, s.FreshChannel)
	assert.False(t, s.Settling)
}

func TestConn_FreshChannelBeforeOpenPanics(t *testing.T) {
	c, _ := newTestConn(t, &fakeChannel{}, nil)
	assert.Panics(t, func() { c.FreshChannel() })
}

func TestConn_DisconnectWithoutSettlement(t *testing.T) {
	p := newTestParties(t)
	ch := &fakeChannel{}
	c, tr := newTestConn(t, ch, nil)

	c.DisconnectWithoutSettlement()
	assert.False(t, tr.Closed())

	openTestConn(t, c, tr, p.entity)
	c.DisconnectWithoutSettlement()
	assert.True(t, tr.Closed())
	assert.Equal(t, 0, ch.settles)
}
