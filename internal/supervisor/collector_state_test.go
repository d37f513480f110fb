package supervisor

import (
	"testing"
	"time"
)

func TestCollectorStateTrackerFirstReport(t *testing.T) {
	t.Parallel()

	tr := NewCollectorStateTracker(1*time.Second, nil)
	_, ok := tr.Record(CollectorStateReport{ConnectionID: "conn-1", State: StateConnecting, Timestamp: time.Now()})
	if ok {
		t.Error("Record() ok = true on first report, want false")
	}
}

func TestCollectorStateTrackerTransition(t *testing.T) {
	t.Parallel()

	tr := NewCollectorStateTracker(1*time.Second, nil)
	tr.Record(CollectorStateReport{ConnectionID: "conn-1", State: StateConnecting, Timestamp: time.Now()})

	prev, ok := tr.Record(CollectorStateReport{ConnectionID: "conn-1", State: StateConnected, Timestamp: time.Now()})
	if !ok {
		t.Fatal("Record() ok = false on second report, want true")
	}
	if prev.State != StateConnecting {
		t.Errorf("previous state = %v, want Connecting", prev.State)
	}
}

func TestCollectorStateTrackerStaleness(t *testing.T) {
	t.Parallel()

	tr := NewCollectorStateTracker(1*time.Second, nil)
	if !tr.IsStale("unknown", 1*time.Second) {
		t.Error("IsStale() for unknown connection = false, want true")
	}

	tr.Record(CollectorStateReport{ConnectionID: "conn-1", State: StateReceiving, Timestamp: time.Now()})
	if tr.IsStale("conn-1", 1*time.Second) {
		t.Error("IsStale() immediately after report = true, want false")
	}

	time.Sleep(20 * time.Millisecond)
	if tr.IsStale("conn-1", 10*time.Millisecond) != true {
		t.Error("IsStale() after timeout elapsed = false, want true")
	}
}

func TestCollectorStateTrackerSnapshot(t *testing.T) {
	t.Parallel()

	tr := NewCollectorStateTracker(1*time.Second, nil)
	tr.Record(CollectorStateReport{ConnectionID: "conn-1", State: StateConnected, Timestamp: time.Now()})
	tr.Record(CollectorStateReport{ConnectionID: "conn-2", State: StateError, Timestamp: time.Now()})

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() has %d entries, want 2", len(snap))
	}
	if snap["conn-2"].State != StateError {
		t.Errorf("conn-2 state = %v, want Error", snap["conn-2"].State)
	}
}

func TestConnectionStateString(t *testing.T) {
	t.Parallel()

	cases := map[ConnectionState]string{
		StateConnecting:    "Connecting",
		StateConnected:     "Connected",
		StateReceiving:     "Receiving",
		StateDisconnected:  "Disconnected",
		StateError:         "Error",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
