package issuer

import (
	"fmt"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
	"github.com/strawpay/stroem-consumerj/note"
)

// Negotiator signs a freshly bought promissory note over to the merchant.
// The wallet signs HashToSign with the transaction key given to
// IncrementPayment and passes the signature to Negotiate.
type Negotiator struct {
	info *note.NegotiateInfo
}

func (n *Negotiator) HashToSign() note.Hash {
	return n.info.HashToSign()
}

// Note returns the note as the issuer issued it.
func (n *Negotiator) Note() note.PromissoryNote {
	return n.info.Note()
}

// Negotiate builds the message carrying the negotiated note. The caller
// delivers it to the merchant.
func (n *Negotiator) Negotiate(signature []byte) (msg.Message, error) {
	negotiated, err := n.info.Negotiate(signature)
	if err != nil {
		return msg.Message{}, fmt.Errorf("negotiating note: %w", err)
	}
	payload, err := negotiated.MarshalBinary()
	if err != nil {
		return msg.Message{}, fmt.Errorf("encoding negotiated note: %w", err)
	}
	return msg.Message{
		Type: msg.TypeNote,
		Note: &msg.Note{Payload: payload},
	}, nil
}
