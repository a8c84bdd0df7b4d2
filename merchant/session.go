package merchant

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/stellar/go/xdr"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/strawpay/stroem-consumerj/note"
)

const (
	// PaymentRequestVersion is the only payment request version understood.
	PaymentRequestVersion = 1

	// StroemMemo marks a payment request as a Stroem offer.
	StroemMemo = "STROEM"
)

// PaymentRequest is what a merchant serves at its payment request URL. For a
// Stroem offer MerchantData holds the note.PaymentDetails.
type PaymentRequest struct {
	Version      int
	Memo         string
	Time         int64
	Expires      int64 `msgpack:",omitempty"`
	PaymentURL   string
	MerchantData []byte `msgpack:",omitempty"`
}

func (r PaymentRequest) MarshalBinary() ([]byte, error) {
	type PR PaymentRequest
	return msgpack.Marshal(PR(r))
}

func (r *PaymentRequest) UnmarshalBinary(b []byte) error {
	type PR PaymentRequest
	v := PR{}
	err := msgpack.Unmarshal(b, &v)
	if err != nil {
		return err
	}
	*r = PaymentRequest(v)
	return nil
}

// Session is an offer fetched from a merchant. A merchant that refuses
// Stroem may answer with a plain payment request, so check IsStroem before
// paying.
type Session struct {
	merchantURL *url.URL
	issuerName  string
	request     PaymentRequest
	details     note.PaymentDetails
	stroem      bool
}

func newSession(r PaymentRequest, merchantURL *url.URL, issuerName string) (*Session, error) {
	if r.Version != PaymentRequestVersion {
		return nil, fmt.Errorf("payment request version %d, expected %d", r.Version, PaymentRequestVersion)
	}
	s := &Session{merchantURL: merchantURL, issuerName: issuerName, request: r}
	if r.Memo != StroemMemo {
		log.Debugf("payment request from %s is not a Stroem offer", merchantURL.Host)
		return s, nil
	}
	s.stroem = true
	if len(r.MerchantData) == 0 {
		return nil, errors.New("Stroem offer without merchant data")
	}
	err := s.details.UnmarshalBinary(r.MerchantData)
	if err != nil {
		return nil, fmt.Errorf("decoding merchant payment details: %w", err)
	}
	if s.details.Amount <= 0 {
		return nil, fmt.Errorf("offer amount %d is not positive", s.details.Amount)
	}
	return s, nil
}

func (s *Session) IsStroem() bool {
	return s.stroem
}

// Details returns the merchant's payment details. They are zero unless
// IsStroem.
func (s *Session) Details() note.PaymentDetails {
	return s.details
}

// MerchantData returns the encoded payment details, as passed to
// issuer.Conn.IncrementPayment.
func (s *Session) MerchantData() []byte {
	return s.request.MerchantData
}

func (s *Session) CreatedAt() time.Time {
	return time.Unix(s.request.Time, 0)
}

// Expires returns when the offer expires, and false if it does not.
func (s *Session) Expires() (time.Time, bool) {
	if s.request.Expires == 0 {
		return time.Time{}, false
	}
	return time.Unix(s.request.Expires, 0), true
}

func (s *Session) Expired(now time.Time) bool {
	t, ok := s.Expires()
	return ok && !now.Before(t)
}

func (s *Session) PaymentURL() string {
	return s.request.PaymentURL
}

// MerchantURL is the URL the offer was fetched from.
func (s *Session) MerchantURL() *url.URL {
	return s.merchantURL
}

func (s *Session) MerchantBaseDomain() (string, error) {
	return BaseDomain(s.merchantURL.Hostname())
}

// IssuerName is the issuer the consumer must pay with.
func (s *Session) IssuerName() string {
	return s.issuerName
}

// Receipt is a merchant's signed acknowledgement of a note.
type Receipt struct {
	// PaymentHash is the HashOf the note payload sent.
	PaymentHash note.Hash
	SignedAt    time.Time
	Signature   xdr.Signature
}

func (r Receipt) MarshalBinary() ([]byte, error) {
	type R Receipt
	return msgpack.Marshal(R(r))
}

func (r *Receipt) UnmarshalBinary(b []byte) error {
	type R Receipt
	v := R{}
	err := msgpack.Unmarshal(b, &v)
	if err != nil {
		return err
	}
	*r = Receipt(v)
	return nil
}

// Verify checks the receipt is signed by merchantKey.
func (r Receipt) Verify(merchantKey []byte) error {
	kp, err := note.Address(merchantKey)
	if err != nil {
		return err
	}
	err = kp.Verify(r.PaymentHash[:], r.Signature)
	if err != nil {
		return fmt.Errorf("verifying receipt for payment %v: %w", r.PaymentHash, err)
	}
	return nil
}
