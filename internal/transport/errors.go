package transport

import "errors"

var (
	// ErrBackPressure is returned by Offer/OfferWithRetry when the ring for
	// a stream is at capacity. It is a first-class return, not a panic or a
	// blocking stall — the caller decides whether to retry, drop, or log.
	ErrBackPressure = errors.New("transport: back pressure")

	// ErrNoMessage is returned by Poll when a stream currently has nothing
	// buffered.
	ErrNoMessage = errors.New("transport: no message available")

	// ErrReceiveTimeout is returned by ReceiveTimeout when no message
	// arrived within the requested duration.
	ErrReceiveTimeout = errors.New("transport: receive timeout")
)
