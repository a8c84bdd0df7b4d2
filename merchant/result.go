package merchant

import "fmt"

// OfferStatus is the outcome of fetching a merchant's offer.
type OfferStatus int

const (
	OfferOK OfferStatus = iota + 1
	// OfferWrongIssuer means the merchant does not accept the issuer.
	OfferWrongIssuer
	OfferInvalidURI
	OfferInvalidStroemURI
	OfferMerchantDown
	OfferMerchantRespondsWithErrorCode
	OfferError
)

var offerStatusNames = map[OfferStatus]string{
	OfferOK:                            "OK",
	OfferWrongIssuer:                   "WRONG_ISSUER",
	OfferInvalidURI:                    "INVALID_URI",
	OfferInvalidStroemURI:              "INVALID_STROEM_URI",
	OfferMerchantDown:                  "MERCHANT_DOWN",
	OfferMerchantRespondsWithErrorCode: "MERCHANT_RESPONDS_WITH_ERROR_CODE",
	OfferError:                         "ERROR",
}

func (s OfferStatus) String() string {
	if name, ok := offerStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OfferStatus(%d)", int(s))
}

// ReceiptStatus is the outcome of sending a note to a merchant.
type ReceiptStatus int

const (
	ReceiptOK ReceiptStatus = iota + 1
	ReceiptInvalidURI
	ReceiptPaymentServerDown
	ReceiptPaymentServerRespondsWithErrorCode
	ReceiptError
)

var receiptStatusNames = map[ReceiptStatus]string{
	ReceiptOK:                                 "OK",
	ReceiptInvalidURI:                         "INVALID_URI",
	ReceiptPaymentServerDown:                  "PAYMENT_SERVER_DOWN",
	ReceiptPaymentServerRespondsWithErrorCode: "PAYMENT_SERVER_RESPONDS_WITH_ERROR_CODE",
	ReceiptError:                              "ERROR",
}

func (s ReceiptStatus) String() string {
	if name, ok := receiptStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ReceiptStatus(%d)", int(s))
}

type status interface {
	~int
	fmt.Stringer
}

// statusOK is the value of OfferOK and ReceiptOK.
const statusOK = 1

// Outcome is either a value or a status explaining why there is none.
type Outcome[S status, T any] struct {
	status  S
	message string
	value   T
}

type (
	OfferOutcome   = Outcome[OfferStatus, *Session]
	ReceiptOutcome = Outcome[ReceiptStatus, Receipt]
)

func ok[S status, T any](v T) Outcome[S, T] {
	return Outcome[S, T]{status: S(statusOK), value: v}
}

func fail[S status, T any](s S, format string, args ...interface{}) Outcome[S, T] {
	return Outcome[S, T]{status: s, message: fmt.Sprintf(format, args...)}
}

func (o Outcome[S, T]) Status() S {
	return o.status
}

func (o Outcome[S, T]) IsOK() bool {
	return o.status == S(statusOK)
}

// Value returns the value of an OK outcome, and the zero value otherwise.
func (o Outcome[S, T]) Value() T {
	return o.value
}

func (o Outcome[S, T]) Message() string {
	return o.message
}

func (o Outcome[S, T]) String() string {
	if o.IsOK() || o.message == "" {
		return o.status.String()
	}
	return o.status.String() + ": " + o.message
}
