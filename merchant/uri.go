package merchant

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	paymentRequestParam = "r"
	stroemParam         = "r.stroem"
	issuerParam         = "stroem.issuer"
)

// NoDomainName is the base domain of a merchant addressed by IP.
const NoDomainName = "no.domain.name"

var (
	ErrInvalidURI       = errors.New("invalid payment uri")
	ErrInvalidStroemURI = errors.New("invalid stroem uri")
)

// URI is a bitcoin: payment URI that may point at a Stroem payment request,
// either in r.stroem or, when r.stroem is "true", in r.
type URI struct {
	Address string
	Params  url.Values

	// IssuerName is sent to the merchant, who may refuse the issuer.
	IssuerName string
}

// ParseURI parses a bitcoin: URI.
func ParseURI(s string, issuerName string) (*URI, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if !strings.EqualFold(u.Scheme, "bitcoin") {
		return nil, fmt.Errorf("%w: scheme %q is not bitcoin", ErrInvalidURI, u.Scheme)
	}
	// bitcoin:addr?... is opaque, bitcoin://addr?... is not.
	address := u.Opaque
	if address == "" {
		address = u.Host
	}
	params, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	return &URI{Address: address, Params: params, IssuerName: issuerName}, nil
}

// IsStroem reports whether the URI asks for a Stroem payment.
func (u *URI) IsStroem() bool {
	_, ok := u.Params[stroemParam]
	return ok
}

// PaymentRequestURL returns where to fetch the payment request. For Stroem
// payments the issuer name is appended as stroem.issuer.
func (u *URI) PaymentRequestURL() (string, error) {
	if !u.IsStroem() {
		r := u.Params.Get(paymentRequestParam)
		if r == "" {
			return "", fmt.Errorf("%w: no %s parameter", ErrInvalidURI, paymentRequestParam)
		}
		return r, nil
	}

	v := u.Params.Get(stroemParam)
	if v == "" {
		return "", fmt.Errorf("%w: the %s parameter must be set", ErrInvalidStroemURI, stroemParam)
	}
	if u.IssuerName == "" {
		return "", fmt.Errorf("%w: no issuer name", ErrInvalidStroemURI)
	}
	base := v
	if strings.EqualFold(v, "true") {
		base = u.Params.Get(paymentRequestParam)
		if base == "" {
			return "", fmt.Errorf("%w: %s is true but there is no %s parameter", ErrInvalidStroemURI, stroemParam, paymentRequestParam)
		}
	}
	if strings.Contains(base, issuerParam) {
		return "", fmt.Errorf("%w: %s already names %s", ErrInvalidStroemURI, base, issuerParam)
	}
	glue := "?"
	if strings.Contains(base, "?") {
		glue = "&"
	}
	return base + glue + issuerParam + "=" + url.QueryEscape(u.IssuerName), nil
}

// BaseDomain returns the second and top level domain of host, such as
// "strawpay.com" for "shop.strawpay.com". host has no port. localhost is
// returned as is, and NoDomainName is returned for IP addresses.
func BaseDomain(host string) (string, error) {
	last := strings.LastIndex(host, ".")
	if last == -1 {
		if strings.EqualFold(host, "localhost") {
			return host, nil
		}
		if strings.Contains(host, ":") {
			return NoDomainName, nil
		}
		return "", fmt.Errorf("host %q has no domain", host)
	}
	top := host[last+1:]
	if top == "" {
		return "", fmt.Errorf("host %q has an empty top level domain", host)
	}
	if top[0] >= '0' && top[0] <= '9' {
		return NoDomainName, nil
	}
	second := strings.LastIndex(host[:last], ".")
	if second == -1 {
		return host, nil
	}
	return host[second+1:], nil
}
