package issuer

import (
	"fmt"
	"time"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
)

// expireTimeMargin is how far a channel's expire time may be from the
// configured channel timeout, allowing for clock skew with the issuer.
const expireTimeMargin = 59 * time.Minute

// channelConnection is the ChannelConnection of a Conn. The engine calls it
// from within calls the Conn makes with its lock held, so its methods do not
// lock.
type channelConnection struct {
	c *Conn
}

func (cc channelConnection) SendToServer(payload []byte) error {
	return cc.c.sendToServer(payload)
}

func (cc channelConnection) AcceptExpireTime(expireTime int64) bool {
	return cc.c.acceptExpireTime(expireTime)
}

func (cc channelConnection) ChannelOpen(wasInitiated bool) {
	cc.c.channelOpen(wasInitiated)
}

func (cc channelConnection) DestroyConnection(reason CloseReason) {
	cc.c.destroyConnection(reason)
}

func (c *Conn) sendToServer(payload []byte) error {
	return c.write(msg.Message{
		Type:           msg.TypePaymentChannel,
		PaymentChannel: &msg.PaymentChannel{Payload: payload},
	})
}

func (c *Conn) acceptExpireTime(expireTime int64) bool {
	target := c.now().Add(c.channelTimeout).Unix()
	margin := int64(expireTimeMargin / time.Second)
	accept := expireTime > target-margin && expireTime < target+margin
	if !accept {
		log.Warnf("%v: rejecting channel expire time %d, expected %d +/- %d", c.id, expireTime, target, margin)
	}
	return accept
}

func (c *Conn) channelOpen(wasInitiated bool) {
	log.Infof("%v: payment channel open, fresh: %v", c.id, wasInitiated)
	c.freshChannel = wasInitiated
	if c.transport != nil {
		c.transport.SetReadTimeout(0)
	}
	c.setStep(StepConnectionOpen)

	opened := Opened{Fresh: wasInitiated}
	if c.issuer != nil {
		opened.Issuer = *c.issuer
	}
	c.openFuture.complete(OK(opened))
}

func (c *Conn) destroyConnection(reason CloseReason) {
	log.Debugf("%v: payment channel destroyed: %v", c.id, reason)
	defer c.closeTransport()

	opening := !c.openFuture.IsDone()
	if opening {
		c.openFuture.fail(reason.openStatus(), "payment channel closed while opening: %v", reason)
	}
	switch {
	case c.settling:
		if c.settleFuture.IsDone() {
			return
		}
		if reason == CloseReasonClientRequestedClose {
			log.Infof("%v: payment channel settled", c.id)
			c.settleFuture.complete(OK(struct{}{}))
		} else {
			c.settleFuture.fail(StatusGenericError, "payment channel closed while settling: %v", reason)
		}
	case opening:
	case reason == CloseReasonClientRequestedClose:
		log.Criticalf("%v: issuer closed the channel as requested by us, but no settlement was requested", c.id)
		panic(fmt.Sprintf("issuer: %v without a settle request", reason))
	default:
		log.Warnf("%v: unexpected payment channel termination: %v", c.id, reason)
		if c.current != nil && !c.current.IsDone() {
			c.current.fail(StatusRemotePaymentChannelError, "unexpected payment channel termination: %v", reason)
		}
	}
}
