// Package issuer is the consumer side of the Stroem protocol. A Conn connects
// to an issuer, agrees on a protocol version, opens or resumes a payment
// channel through a PaymentChannel engine, increments the amount paid over
// it in exchange for promissory notes, and finally settles the channel.
//
// Operations that complete on the network goroutine report an Outcome
// through a Future rather than an error, so that every failure carries a
// Status the caller can act on.
package issuer
