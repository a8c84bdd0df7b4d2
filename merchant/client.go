// Package merchant fetches Stroem offers from merchants and delivers the
// negotiated promissory notes that pay for them.
package merchant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/strawpay/stroem-consumerj/issuer/msg"
	"github.com/strawpay/stroem-consumerj/note"
)

// DefaultTimeout bounds each request of a Client without its own
// http.Client.
const DefaultTimeout = 15 * time.Second

const (
	MIMETypePaymentRequest = "application/stroem-paymentrequest"
	MIMETypePayment        = "application/stroem-payment"
	MIMETypePaymentAck     = "application/stroem-paymentack"
)

// IssuerNotAcceptedPrefix starts the error body of a merchant refusing the
// issuer.
const IssuerNotAcceptedPrefix = "unknown issuer:"

const maxBodySize = 1 << 20

var defaultHTTPClient = &http.Client{Timeout: DefaultTimeout}

// Client talks to merchants over HTTP.
type Client struct {
	// HTTP is the client requests are made with. Defaults to one with
	// DefaultTimeout.
	HTTP *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return defaultHTTPClient
}

func parseHTTPURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%s has no host", s)
	}
	return u, nil
}

// errorBody reads the start of an error response.
func errorBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return strings.TrimSpace(string(b))
}

// FetchOffer fetches the payment request u points at.
func (c *Client) FetchOffer(ctx context.Context, u *URI) OfferOutcome {
	raw, err := u.PaymentRequestURL()
	if err != nil {
		log.Warnf("%v", err)
		if errors.Is(err, ErrInvalidURI) {
			return fail[OfferStatus, *Session](OfferInvalidURI, "%v", err)
		}
		return fail[OfferStatus, *Session](OfferInvalidStroemURI, "%v", err)
	}
	log.Debugf("fetching payment request from %s", raw)
	target, err := parseHTTPURL(raw)
	if err != nil {
		return fail[OfferStatus, *Session](OfferInvalidURI, "%v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fail[OfferStatus, *Session](OfferError, "%v", err)
	}
	req.Header.Set("Accept", MIMETypePaymentRequest)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		log.Warnf("merchant %s does not respond: %v", target.Host, err)
		return fail[OfferStatus, *Session](OfferMerchantDown, "%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := errorBody(resp)
		if strings.HasPrefix(body, IssuerNotAcceptedPrefix) {
			log.Infof("merchant %s does not accept issuer %q", target.Host, u.IssuerName)
			return fail[OfferStatus, *Session](OfferWrongIssuer, "merchant does not accept issuer %q", u.IssuerName)
		}
		log.Infof("merchant %s responded %s", target.Host, resp.Status)
		return fail[OfferStatus, *Session](OfferMerchantRespondsWithErrorCode, "%s", resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fail[OfferStatus, *Session](OfferError, "reading payment request: %v", err)
	}
	pr := PaymentRequest{}
	err = pr.UnmarshalBinary(b)
	if err != nil {
		return fail[OfferStatus, *Session](OfferError, "decoding payment request: %v", err)
	}
	s, err := newSession(pr, target, u.IssuerName)
	if err != nil {
		log.Warnf("merchant %s: %v", target.Host, err)
		return fail[OfferStatus, *Session](OfferError, "%v", err)
	}
	if s.IsStroem() && u.IssuerName != "" && s.Details().Issuer.Name != u.IssuerName {
		return fail[OfferStatus, *Session](OfferWrongIssuer, "merchant names issuer %q, asked for %q", s.Details().Issuer.Name, u.IssuerName)
	}
	return ok[OfferStatus](s)
}

// SendNote posts the negotiated note envelope m to the session's payment URL
// and returns the merchant's verified receipt.
func (c *Client) SendNote(ctx context.Context, s *Session, m msg.Message) ReceiptOutcome {
	if m.Type != msg.TypeNote {
		return fail[ReceiptStatus, Receipt](ReceiptError, "sending %v, expected a note", m.Type)
	}
	err := m.Validate()
	if err != nil {
		return fail[ReceiptStatus, Receipt](ReceiptError, "%v", err)
	}
	target, err := parseHTTPURL(s.PaymentURL())
	if err != nil {
		log.Warnf("bad payment url %q: %v", s.PaymentURL(), err)
		return fail[ReceiptStatus, Receipt](ReceiptInvalidURI, "%v", err)
	}
	body, err := msgpack.Marshal(&m)
	if err != nil {
		return fail[ReceiptStatus, Receipt](ReceiptError, "encoding note: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return fail[ReceiptStatus, Receipt](ReceiptError, "%v", err)
	}
	req.Header.Set("Content-Type", MIMETypePayment)
	req.Header.Set("Accept", MIMETypePaymentAck)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		log.Warnf("payment server %s does not respond: %v", target.Host, err)
		return fail[ReceiptStatus, Receipt](ReceiptPaymentServerDown, "%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Infof("payment server %s responded %s: %s", target.Host, resp.Status, errorBody(resp))
		return fail[ReceiptStatus, Receipt](ReceiptPaymentServerRespondsWithErrorCode, "%s", resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fail[ReceiptStatus, Receipt](ReceiptError, "reading receipt: %v", err)
	}
	r := Receipt{}
	err = r.UnmarshalBinary(b)
	if err != nil {
		return fail[ReceiptStatus, Receipt](ReceiptError, "decoding receipt: %v", err)
	}

	want := note.HashOf(m.Note.Payload)
	if r.PaymentHash != want {
		return fail[ReceiptStatus, Receipt](ReceiptError, "receipt for payment %v, sent %v", r.PaymentHash, want)
	}
	err = r.Verify(s.Details().MerchantPublicKey)
	if err != nil {
		return fail[ReceiptStatus, Receipt](ReceiptError, "%v", err)
	}
	log.Infof("merchant %s signed receipt for payment %v", target.Host, r.PaymentHash)
	return ok[ReceiptStatus](r)
}
