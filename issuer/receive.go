package issuer

import (
	"errors"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
)

// handler handles an inbound envelope received in step. It returns the
// outcome of handling it and, if ok is true, the step the session moves to.
type handler func(c *Conn, m msg.Message, step Step) (outcome Outcome[struct{}], next Step, ok bool)

var handlerMap = map[msg.Type]handler{
	msg.TypePaymentChannel: (*Conn).handlePaymentChannel,
	msg.TypeServerVersion:  (*Conn).handleServerVersion,
	msg.TypeNote:           (*Conn).handleNote,
	msg.TypeError:          (*Conn).handleError,
}

func (c *Conn) dispatch(m msg.Message, step Step) (Outcome[struct{}], Step, bool) {
	log.Debugf("%v: handling %v in step %v", c.id, m.Type, step)
	h := handlerMap[m.Type]
	if h == nil {
		log.Debugf("%v: received unknown message type %v", c.id, m.Type)
		return Fail[struct{}](StatusUnknownMessageType, "unrecognized message type %v", m.Type), step, false
	}
	err := m.Validate()
	if err != nil {
		return Fail[struct{}](StatusBadMessage, "%v", err), step, false
	}
	return h(c, m, step)
}

func (c *Conn) handlePaymentChannel(m msg.Message, step Step) (Outcome[struct{}], Step, bool) {
	if c.channel == nil {
		return Fail[struct{}](StatusIllegalState, "payment channel message before the channel exists"), step, false
	}
	// Error sub-messages are not inspected here. The engine tears the channel
	// down and reports the reason through DestroyConnection.
	err := c.channel.ReceiveMessage(m.PaymentChannel.Payload)
	if errors.Is(err, ErrInsufficientFunds) {
		return Fail[struct{}](StatusInsufficientFunds, "%v", err), step, false
	}
	if err != nil {
		return Fail[struct{}](StatusBadMessage, "reading payment channel message: %v", err), step, false
	}
	return OK(struct{}{}), step, false
}

func (c *Conn) handleServerVersion(m msg.Message, step Step) (Outcome[struct{}], Step, bool) {
	if step != StepWaitingForServerVersion {
		return Fail[struct{}](StatusIllegalState, "server version received in step %v", step), step, false
	}
	v := m.ServerVersion
	if v.Version != SupportedVersion {
		return Fail[struct{}](StatusWrongProtocolVersion, "server version should be %d but was %d", SupportedVersion, v.Version), step, false
	}
	entity := v.Entity
	c.issuer = &entity
	log.Infof("%v: issuer %q speaks version %d", c.id, entity.Name, v.Version)

	err := c.channel.ConnectionOpen()
	if errors.Is(err, ErrInsufficientFunds) {
		return Fail[struct{}](StatusInsufficientFunds, "%v", err), step, false
	}
	if err != nil {
		return Fail[struct{}](StatusGenericError, "opening payment channel: %v", err), step, false
	}
	return OK(struct{}{}), StepWaitingForChannelInitiate, true
}

// handleNote rejects standalone notes. Notes arrive inside payment
// acknowledgements.
func (c *Conn) handleNote(m msg.Message, step Step) (Outcome[struct{}], Step, bool) {
	log.Errorf("%v: received a standalone note of %d bytes in step %v, dropping it", c.id, len(m.Note.Payload), step)
	return Fail[struct{}](StatusNotImplemented, "standalone note messages are not supported"), step, false
}

func (c *Conn) handleError(m msg.Message, step Step) (Outcome[struct{}], Step, bool) {
	e := m.Error
	explanation := e.Explanation
	if explanation == "" {
		explanation = "(none)"
	}
	log.Errorf("%v: issuer sent error %v with explanation %s", c.id, e.Code, explanation)
	return Fail[struct{}](StatusFromRemote(e.Code), "issuer error %v: %s", e.Code, explanation), step, false
}
