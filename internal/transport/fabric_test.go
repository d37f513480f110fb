package transport

import (
	"context"
	"testing"
	"time"
)

func TestOfferPollFIFO(t *testing.T) {
	t.Parallel()

	f := New(4, nil)
	pub := f.NewPublisher("ipc:test", StreamMarketData)
	sub := f.NewSubscriber("ipc:test", StreamMarketData)

	msgs := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, m := range msgs {
		if err := pub.Offer(m); err != nil {
			t.Fatalf("Offer(%q): %v", m, err)
		}
	}

	for _, want := range msgs {
		got, err := sub.Poll()
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if string(got) != string(want) {
			t.Errorf("Poll() = %q, want %q", got, want)
		}
	}

	if _, err := sub.Poll(); err != ErrNoMessage {
		t.Errorf("Poll on drained stream = %v, want ErrNoMessage", err)
	}
}

func TestOfferBackPressure(t *testing.T) {
	t.Parallel()

	f := New(2, nil)
	pub := f.NewPublisher("ipc:test", StreamTradeData)

	if err := pub.Offer([]byte("1")); err != nil {
		t.Fatalf("Offer 1: %v", err)
	}
	if err := pub.Offer([]byte("2")); err != nil {
		t.Fatalf("Offer 2: %v", err)
	}
	if err := pub.Offer([]byte("3")); err != ErrBackPressure {
		t.Errorf("Offer over capacity = %v, want ErrBackPressure", err)
	}
}

func TestOfferWithRetryDrainsIntoCapacity(t *testing.T) {
	t.Parallel()

	f := New(1, nil)
	pub := f.NewPublisher("ipc:test", StreamHeartbeat)
	sub := f.NewSubscriber("ipc:test", StreamHeartbeat)

	if err := pub.Offer([]byte("first")); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- pub.OfferWithRetry([]byte("second"), 50)
	}()

	time.Sleep(2 * time.Millisecond)
	if _, err := sub.Poll(); err != nil {
		t.Fatalf("drain Poll: %v", err)
	}

	if err := <-done; err != nil {
		t.Errorf("OfferWithRetry after drain = %v, want nil", err)
	}
}

func TestReceiveTimeoutExpires(t *testing.T) {
	t.Parallel()

	f := New(4, nil)
	sub := f.NewSubscriber("ipc:test", StreamPositions)

	start := time.Now()
	_, err := sub.ReceiveTimeout(context.Background(), 5*time.Millisecond)
	if err != ErrReceiveTimeout {
		t.Errorf("ReceiveTimeout = %v, want ErrReceiveTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("returned after %v, want >= 5ms", elapsed)
	}
}

func TestReceiveTimeoutReturnsPublishedMessage(t *testing.T) {
	t.Parallel()

	f := New(4, nil)
	pub := f.NewPublisher("ipc:test", StreamOrderFills)
	sub := f.NewSubscriber("ipc:test", StreamOrderFills)

	go func() {
		time.Sleep(time.Millisecond)
		_ = pub.Offer([]byte("late"))
	}()

	got, err := sub.ReceiveTimeout(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ReceiveTimeout: %v", err)
	}
	if string(got) != "late" {
		t.Errorf("ReceiveTimeout = %q, want %q", got, "late")
	}
}

func TestStreamsAreIsolatedByChannelAndID(t *testing.T) {
	t.Parallel()

	f := New(4, nil)
	pubA := f.NewPublisher("ipc:a", StreamMarketData)
	pubB := f.NewPublisher("ipc:b", StreamMarketData)
	pubC := f.NewPublisher("ipc:a", StreamTradeData)

	_ = pubA.Offer([]byte("a"))
	_ = pubB.Offer([]byte("b"))
	_ = pubC.Offer([]byte("c"))

	subA := f.NewSubscriber("ipc:a", StreamMarketData)
	got, err := subA.Poll()
	if err != nil || string(got) != "a" {
		t.Errorf("subA.Poll() = %q, %v, want \"a\", nil", got, err)
	}
	if _, err := subA.Poll(); err != ErrNoMessage {
		t.Errorf("subA second Poll = %v, want ErrNoMessage (streams must not bleed into each other)", err)
	}
}
