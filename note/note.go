// Package note implements Stroem promissory notes: the payment details a
// merchant hands out, the note request a consumer sends to an issuer, the
// issuer-signed note that comes back, and the negotiation that signs the note
// over to the merchant.
//
// A note is issued to the order of a payee. Each negotiation transfers the
// note to a new holder and is signed by the previous holder over a hash that
// chains to the note and all earlier negotiations, so the whole history can
// be verified from the issuer's public key alone.
package note

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/xdr"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
)

// PaymentDetails is the Stroem part of a merchant's payment request.
type PaymentDetails struct {
	Issuer            msg.Entity
	MerchantPublicKey []byte
	Amount            int64
	Currency          string
	DisplayText       string
}

func (d PaymentDetails) MarshalBinary() ([]byte, error) {
	type PD PaymentDetails
	return msgpack.Marshal(PD(d))
}

func (d *PaymentDetails) UnmarshalBinary(b []byte) error {
	type PD PaymentDetails
	v := PD{}
	err := msgpack.Unmarshal(b, &v)
	if err != nil {
		return err
	}
	*d = PaymentDetails(v)
	return nil
}

// Request asks the issuer for a note of Amount payable to Payee.
type Request struct {
	Issuer   msg.Entity
	Payee    []byte
	Amount   int64
	Currency string
}

func (r Request) MarshalBinary() ([]byte, error) {
	type R Request
	return msgpack.Marshal(R(r))
}

func (r *Request) UnmarshalBinary(b []byte) error {
	type R Request
	v := R{}
	err := msgpack.Unmarshal(b, &v)
	if err != nil {
		return err
	}
	*r = Request(v)
	return nil
}

// Negotiation transfers a note to ToTheOrderOf. PaymentInfoHash commits to
// what the transfer pays for.
type Negotiation struct {
	ToTheOrderOf    []byte
	PaymentInfoHash Hash
	Signature       xdr.Signature
}

// PromissoryNote is a claim of Amount against Issuer.
type PromissoryNote struct {
	Issuer       msg.Entity
	Amount       int64
	Currency     string
	Payee        []byte
	IssuedAt     time.Time
	Signature    xdr.Signature
	Negotiations []Negotiation
}

func (n PromissoryNote) Equal(n2 PromissoryNote) bool {
	type PN PromissoryNote
	return cmp.Equal(PN(n), PN(n2))
}

func (n PromissoryNote) MarshalBinary() ([]byte, error) {
	type PN PromissoryNote
	return msgpack.Marshal(PN(n))
}

func (n *PromissoryNote) UnmarshalBinary(b []byte) error {
	type PN PromissoryNote
	v := PN{}
	err := msgpack.Unmarshal(b, &v)
	if err != nil {
		return err
	}
	*n = PromissoryNote(v)
	return nil
}

// Hash is the hash the issuer signs. It covers everything but signatures and
// negotiations.
func (n PromissoryNote) Hash() Hash {
	amount := [8]byte{}
	binary.BigEndian.PutUint64(amount[:], uint64(n.Amount))
	issuedAt := [8]byte{}
	binary.BigEndian.PutUint64(issuedAt[:], uint64(n.IssuedAt.Unix()))
	return HashOf(
		[]byte(n.Issuer.Name),
		n.Issuer.PublicKey,
		amount[:],
		[]byte(n.Currency),
		n.Payee,
		issuedAt[:],
	)
}

// Holder returns the public key the note is currently payable to.
func (n PromissoryNote) Holder() []byte {
	if len(n.Negotiations) == 0 {
		return n.Payee
	}
	return n.Negotiations[len(n.Negotiations)-1].ToTheOrderOf
}

func negotiationHash(prev Hash, toTheOrderOf []byte, paymentInfoHash Hash) Hash {
	return HashOf(prev[:], toTheOrderOf, paymentInfoHash[:])
}

// chainHash returns the hash the next negotiation must chain to.
func (n PromissoryNote) chainHash() Hash {
	h := n.Hash()
	for _, neg := range n.Negotiations {
		h = negotiationHash(h, neg.ToTheOrderOf, neg.PaymentInfoHash)
	}
	return h
}

var ErrUnsigned = errors.New("note is not signed by its issuer")

// Verify checks the issuer signature and every negotiation signature.
func (n PromissoryNote) Verify() error {
	if len(n.Signature) == 0 {
		return ErrUnsigned
	}
	inputs := []signatureVerificationInput{
		{Hash: n.Hash(), Signature: n.Signature, Signer: n.Issuer.PublicKey},
	}
	h := n.Hash()
	holder := n.Payee
	for _, neg := range n.Negotiations {
		h = negotiationHash(h, neg.ToTheOrderOf, neg.PaymentInfoHash)
		inputs = append(inputs, signatureVerificationInput{Hash: h, Signature: neg.Signature, Signer: holder})
		holder = neg.ToTheOrderOf
	}
	err := verifySignatures(inputs)
	if err != nil {
		return fmt.Errorf("verifying note: %w", err)
	}
	return nil
}

// Issue creates a note signed by issuer. It is what an issuer does on
// receipt of a Request.
func Issue(issuer *keypair.Full, name string, r Request, issuedAt time.Time) (PromissoryNote, error) {
	issuerKey, err := PublicKey(issuer)
	if err != nil {
		return PromissoryNote{}, err
	}
	n := PromissoryNote{
		Issuer:   msg.Entity{Name: name, PublicKey: issuerKey},
		Amount:   r.Amount,
		Currency: r.Currency,
		Payee:    r.Payee,
		IssuedAt: issuedAt.UTC().Truncate(time.Second),
	}
	h := n.Hash()
	sig, err := issuer.Sign(h[:])
	if err != nil {
		return PromissoryNote{}, fmt.Errorf("signing note: %w", err)
	}
	n.Signature = sig
	return n, nil
}
