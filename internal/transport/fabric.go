// Package transport implements the pipeline's internal pub/sub fabric: a
// lossy distribution keyed by (channel, stream id). All subscribers of one
// (channel, stream id) in a Fabric read from the same ring, so each message
// is delivered to exactly one of them, not to every subscriber.
//
// No library in this module's dependency pack binds a real Aeron client
// from Go — the original system's mm_aeron crate wraps rusteron-client, a
// Rust-only binding with no Go equivalent available here. This package
// reproduces the same public contract (offer/poll/receive_timeout,
// BackPressure as a first-class return value, per-stream FIFO, thread-owned
// handles) over a Go-native bounded ring per stream, grounded on the shape
// of mm_aeron's publisher/subscriber API and on the lock-free single-writer
// publish discipline seen in the market-indikator example's orderbook
// package.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default channel capacity, overridable by the CHANNEL_CAPACITY env var
// (spec §6).
const DefaultCapacity = 10_000

// Well-known stream ids (spec §6).
const (
	StreamMarketData     = 10
	StreamCollectorState = 11
	StreamHeartbeat      = 12
	StreamTradeData      = 13
	StreamPricingOutput  = 14
	StreamStrategyQuotes = 15
	StreamOrderFills     = 16
	StreamPositions      = 17
)

type streamKey struct {
	channel  string
	streamID int32
}

// ring is a bounded, single-writer, multi-reader FIFO byte-slice queue. The
// writer side never blocks: a full ring reports back-pressure to the
// caller instead of stalling the publisher thread.
type ring struct {
	mu       sync.Mutex
	buf      [][]byte
	capacity int
	head     int // next read index
	size     int // number of live entries
}

func newRing(capacity int) *ring {
	return &ring{buf: make([][]byte, capacity), capacity: capacity}
}

func (r *ring) offer(msg []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size >= r.capacity {
		return false
	}
	tail := (r.head + r.size) % r.capacity
	r.buf[tail] = msg
	r.size++
	return true
}

func (r *ring) poll() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return nil, false
	}
	msg := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % r.capacity
	r.size--
	return msg, true
}

// Fabric owns every (channel, stream id) ring in a process. Publishers and
// subscribers are obtained from it but must be used only by the goroutine
// that created them — crossing goroutines is disallowed by convention, the
// same isolation rule the original transport enforces across OS threads.
type Fabric struct {
	mu       sync.Mutex
	rings    map[streamKey]*ring
	capacity int
	logger   *slog.Logger
}

// New creates a Fabric. capacity is the default ring size for any stream
// first touched via Publisher/Subscriber; pass 0 to use DefaultCapacity.
func New(capacity int, logger *slog.Logger) *Fabric {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Fabric{rings: make(map[streamKey]*ring), capacity: capacity, logger: logger}
}

func (f *Fabric) ringFor(channel string, streamID int32) *ring {
	key := streamKey{channel, streamID}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rings[key]
	if !ok {
		r = newRing(f.capacity)
		f.rings[key] = r
	}
	return r
}

// Publisher is a single-writer handle for one (channel, stream id).
type Publisher struct {
	channel  string
	streamID int32
	r        *ring
	logger   *slog.Logger
}

// NewPublisher binds a publisher to channel/streamID. Construct one per
// goroutine that needs to publish; never share across goroutines.
func (f *Fabric) NewPublisher(channel string, streamID int32) *Publisher {
	return &Publisher{channel: channel, streamID: streamID, r: f.ringFor(channel, streamID), logger: f.logger}
}

// Offer attempts to publish msg. It returns ErrBackPressure (not success)
// when the ring is at capacity; callers implement retry policy themselves,
// typically via OfferWithRetry.
func (p *Publisher) Offer(msg []byte) error {
	if p.r.offer(msg) {
		return nil
	}
	return ErrBackPressure
}

// OfferWithRetry retries Offer with geometric backoff (10µs * 2^min(k,5))
// up to maxAttempts times, giving up and returning ErrBackPressure if the
// ring never drains — the message is then dropped and must be logged by
// the caller, matching spec §4.3's "unrecovered back-pressure... is logged
// and dropped."
func (p *Publisher) OfferWithRetry(msg []byte, maxAttempts int) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := p.Offer(msg); err == nil {
			return nil
		}
		shift := attempt
		if shift > 5 {
			shift = 5
		}
		backoff := 10 * time.Microsecond * time.Duration(1<<shift)
		time.Sleep(backoff)
	}
	if p.logger != nil {
		p.logger.Warn("publish back-pressure exhausted retries, dropping message",
			"channel", p.channel, "stream_id", p.streamID, "attempts", maxAttempts)
	}
	return ErrBackPressure
}

// Channel returns the channel URI this publisher is bound to.
func (p *Publisher) Channel() string { return p.channel }

// StreamID returns the stream id this publisher is bound to.
func (p *Publisher) StreamID() int32 { return p.streamID }

// Subscriber is a handle for pulling messages from one (channel, stream id).
type Subscriber struct {
	channel  string
	streamID int32
	r        *ring
}

// NewSubscriber binds a subscriber to channel/streamID. Construct one per
// goroutine that needs to receive; never share across goroutines.
func (f *Fabric) NewSubscriber(channel string, streamID int32) *Subscriber {
	return &Subscriber{channel: channel, streamID: streamID, r: f.ringFor(channel, streamID)}
}

// Poll returns the first available message, or ErrNoMessage if the stream
// is currently empty. Never blocks.
func (s *Subscriber) Poll() ([]byte, error) {
	msg, ok := s.r.poll()
	if !ok {
		return nil, ErrNoMessage
	}
	return msg, nil
}

// ReceiveTimeout polls in a tight loop with a 100µs sleep between attempts,
// returning ErrReceiveTimeout if nothing arrives within d or ctx is
// cancelled first.
func (s *Subscriber) ReceiveTimeout(ctx context.Context, d time.Duration) ([]byte, error) {
	deadline := time.Now().Add(d)
	for {
		if msg, err := s.Poll(); err == nil {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrReceiveTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Microsecond):
		}
	}
}

// Channel returns the channel URI this subscriber is bound to.
func (s *Subscriber) Channel() string { return s.channel }

// StreamID returns the stream id this subscriber is bound to.
func (s *Subscriber) StreamID() int32 { return s.streamID }

func (k streamKey) String() string {
	return fmt.Sprintf("%s#%d", k.channel, k.streamID)
}
