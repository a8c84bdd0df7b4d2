package note

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
)

// RequestBundle is everything derived from a merchant's payment details that
// a consumer needs to buy a note and later negotiate it to the merchant.
type RequestBundle struct {
	Issuer            msg.Entity
	MerchantPublicKey []byte
	Amount            int64
	DisplayText       string

	// Request is the serialized Request to send to the issuer.
	Request []byte
}

var (
	ErrNotHolder        = errors.New("note is not payable to the negotiating key")
	ErrInvalidSignature = errors.New("negotiation signature does not verify")
)

// Builder is the default note collaborator of an issuer connection.
type Builder struct{}

// BuildNoteRequest parses the merchant's payment details and builds a
// request for a note payable to payee.
func (Builder) BuildNoteRequest(merchantDetails []byte, payee []byte) (RequestBundle, error) {
	d := PaymentDetails{}
	err := d.UnmarshalBinary(merchantDetails)
	if err != nil {
		return RequestBundle{}, fmt.Errorf("parsing merchant payment details: %w", err)
	}
	if d.Amount <= 0 {
		return RequestBundle{}, fmt.Errorf("merchant payment details amount %d must be greater than 0", d.Amount)
	}
	if len(d.MerchantPublicKey) == 0 {
		return RequestBundle{}, fmt.Errorf("merchant payment details have no merchant public key")
	}
	r := Request{
		Issuer:   d.Issuer,
		Payee:    payee,
		Amount:   d.Amount,
		Currency: d.Currency,
	}
	rb, err := r.MarshalBinary()
	if err != nil {
		return RequestBundle{}, fmt.Errorf("encoding note request: %w", err)
	}
	log.Debugf("built note request for %d %s from issuer %q", d.Amount, d.Currency, d.Issuer.Name)
	return RequestBundle{
		Issuer:            d.Issuer,
		MerchantPublicKey: d.MerchantPublicKey,
		Amount:            d.Amount,
		DisplayText:       d.DisplayText,
		Request:           rb,
	}, nil
}

// NoteFromBytes parses a serialized note.
func (Builder) NoteFromBytes(b []byte) (PromissoryNote, error) {
	n := PromissoryNote{}
	err := n.UnmarshalBinary(b)
	if err != nil {
		return PromissoryNote{}, fmt.Errorf("parsing promissory note: %w", err)
	}
	return n, nil
}

// ValidateForNegotiate checks that n is genuine and payable to myKey, and
// prepares its transfer to merchantKey for paymentInfo.
func (Builder) ValidateForNegotiate(n PromissoryNote, myKey, merchantKey, paymentInfo []byte) (*NegotiateInfo, error) {
	err := n.Verify()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(n.Holder(), myKey) {
		return nil, ErrNotHolder
	}
	neg := Negotiation{
		ToTheOrderOf:    merchantKey,
		PaymentInfoHash: HashOf(paymentInfo),
	}
	return &NegotiateInfo{
		note:    n,
		holder:  myKey,
		pending: neg,
		hash:    negotiationHash(n.chainHash(), neg.ToTheOrderOf, neg.PaymentInfoHash),
	}, nil
}

// NegotiateInfo is a validated note waiting for its holder's signature.
type NegotiateInfo struct {
	note    PromissoryNote
	holder  []byte
	pending Negotiation
	hash    Hash
}

// HashToSign returns the hash the holder must sign to transfer the note.
func (i *NegotiateInfo) HashToSign() Hash {
	return i.hash
}

// Note returns the note as it was before negotiation.
func (i *NegotiateInfo) Note() PromissoryNote {
	return i.note
}

// Negotiate appends the signed transfer and returns the resulting note.
func (i *NegotiateInfo) Negotiate(signature []byte) (PromissoryNote, error) {
	holder, err := Address(i.holder)
	if err != nil {
		return PromissoryNote{}, err
	}
	err = holder.Verify(i.hash[:], signature)
	if err != nil {
		return PromissoryNote{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	neg := i.pending
	neg.Signature = append([]byte(nil), signature...)

	n := i.note
	n.Negotiations = append(append([]Negotiation(nil), i.note.Negotiations...), neg)
	log.Debugf("negotiated note of %d from issuer %q, %d negotiations", n.Amount, n.Issuer.Name, len(n.Negotiations))
	return n, nil
}
