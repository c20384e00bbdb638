package ingestion

import (
	"testing"
)

func TestInitAllDoesNotOverwrite(t *testing.T) {
	s := NewSyncStateStore()
	s.InitAll(map[string]uint64{"ETH": 1000})
	s.OnSuccess("ETH", 1001, 1500, 1800, SyncResult{EventCount: 50})

	s.InitAll(map[string]uint64{"ETH": 0, "ARB": 2000})

	eth, err := s.Get("ETH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eth.LastSyncedBlock != 1500 {
		t.Errorf("InitAll clobbered existing state: lastSyncedBlock=%d", eth.LastSyncedBlock)
	}

	arb, err := s.Get("ARB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if arb.LastSyncedBlock != 2000 {
		t.Errorf("expected ARB seeded at 2000, got %d", arb.LastSyncedBlock)
	}
}

func TestGetUnknownChain(t *testing.T) {
	s := NewSyncStateStore()
	if _, err := s.Get("ETH"); err == nil {
		t.Fatal("expected error for unknown chain")
	}
}

// S1: a healthy chain with small lag stays OK after a successful window.
func TestOnSuccessKeepsHealthyChainOK(t *testing.T) {
	s := NewSyncStateStore()
	s.InitAll(map[string]uint64{"ETH": 1000})

	if err := s.OnSuccess("ETH", 1001, 1500, 1550, SyncResult{EventCount: 200, LatencyMs: 120}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, _ := s.Get("ETH")
	if st.Status != StatusOK {
		t.Errorf("expected OK, got %s (lag=%d)", st.Status, st.Lag())
	}
	if st.LastSyncedBlock != 1500 {
		t.Errorf("expected lastSyncedBlock=1500, got %d", st.LastSyncedBlock)
	}
	if st.TotalEventsIngested != 200 {
		t.Errorf("expected 200 total events, got %d", st.TotalEventsIngested)
	}
	if st.ConsecutiveErrors != 0 {
		t.Errorf("expected consecutiveErrors reset to 0, got %d", st.ConsecutiveErrors)
	}
}

// S2: lag crossing the DEGRADED and ERROR thresholds flips status
// accordingly, purely as a function of lastHeadBlock - lastSyncedBlock.
func TestOnSuccessDerivesStatusFromLag(t *testing.T) {
	tests := []struct {
		name   string
		head   uint64
		synced uint64
		want   SyncStatus
	}{
		{"no lag", 1000, 1000, StatusOK},
		{"small lag", 1050, 1000, StatusOK},
		{"degraded lag", 1150, 1000, StatusDegraded},
		{"error lag", 1600, 1000, StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSyncStateStore()
			s.InitAll(map[string]uint64{"ETH": tt.synced})
			if err := s.OnSuccess("ETH", tt.synced+1, tt.synced, tt.head, SyncResult{}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			st, _ := s.Get("ETH")
			if st.Status != tt.want {
				t.Errorf("lag=%d: got %s, want %s", st.Lag(), st.Status, tt.want)
			}
		})
	}
}

// S3: five consecutive errors auto-pauses the chain and shouldPause=true is
// reported on the triggering call, not before.
func TestOnErrorAutoPausesAtFiveConsecutive(t *testing.T) {
	s := NewSyncStateStore()
	s.InitAll(map[string]uint64{"ETH": 1000})

	var lastShouldPause bool
	for i := 0; i < autoPauseConsecutiveErrors; i++ {
		shouldPause, err := s.OnError("ETH", errTest("rpc timeout"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lastShouldPause = shouldPause
		if i < autoPauseConsecutiveErrors-1 && shouldPause {
			t.Fatalf("should not pause before reaching threshold, failed at i=%d", i)
		}
	}
	if !lastShouldPause {
		t.Fatal("expected shouldPause=true on the 5th consecutive error")
	}

	st, _ := s.Get("ETH")
	if st.Status != StatusPaused {
		t.Errorf("expected PAUSED, got %s", st.Status)
	}
	if st.PauseReason == "" {
		t.Error("expected a non-empty pause reason")
	}
}

func TestOnSuccessDoesNotClearPause(t *testing.T) {
	s := NewSyncStateStore()
	s.InitAll(map[string]uint64{"ETH": 1000})
	if err := s.Pause("ETH", "manual maintenance"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.OnSuccess("ETH", 1001, 1100, 1100, SyncResult{EventCount: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, _ := s.Get("ETH")
	if st.Status != StatusPaused {
		t.Errorf("OnSuccess must not clear a PAUSED status, got %s", st.Status)
	}
}

func TestResumeRecomputesStatusFromLag(t *testing.T) {
	s := NewSyncStateStore()
	s.InitAll(map[string]uint64{"ETH": 1000})
	s.OnError("ETH", errTest("x"))
	s.Pause("ETH", "manual")

	if err := s.Resume("ETH"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := s.Get("ETH")
	if st.Status != StatusOK {
		t.Errorf("expected OK after resume with no lag, got %s", st.Status)
	}
	if st.PauseReason != "" {
		t.Error("expected pause reason cleared")
	}
	if st.ConsecutiveErrors != 0 {
		t.Error("expected consecutiveErrors reset on resume")
	}
}

func TestResetRewindsAndClearsErrors(t *testing.T) {
	s := NewSyncStateStore()
	s.InitAll(map[string]uint64{"ETH": 1000})
	s.OnError("ETH", errTest("x"))
	s.OnError("ETH", errTest("x"))

	if err := s.Reset("ETH", 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := s.Get("ETH")
	if st.LastSyncedBlock != 500 {
		t.Errorf("expected rewind to 500, got %d", st.LastSyncedBlock)
	}
	if st.Status != StatusOK || st.ErrorCount != 0 || st.ConsecutiveErrors != 0 {
		t.Errorf("expected fully cleared state, got %+v", st)
	}
}

func TestResetErrorCountsLeavesConsecutiveAlone(t *testing.T) {
	s := NewSyncStateStore()
	s.InitAll(map[string]uint64{"ETH": 1000})
	s.OnError("ETH", errTest("x"))
	s.OnError("ETH", errTest("x"))

	s.ResetErrorCounts()

	st, _ := s.Get("ETH")
	if st.ErrorCount != 0 {
		t.Errorf("expected errorCount reset, got %d", st.ErrorCount)
	}
	if st.ConsecutiveErrors != 2 {
		t.Errorf("expected consecutiveErrors untouched, got %d", st.ConsecutiveErrors)
	}
}

func TestDemotesToDegradedAtErrorCountThreshold(t *testing.T) {
	// Drive errorCount up past the threshold while interleaving successes
	// to keep consecutiveErrors under the auto-pause threshold, isolating
	// the errorCount-triggered demotion path.
	s := NewSyncStateStore()
	s.InitAll(map[string]uint64{"ARB": 1000})
	for i := 0; i < demoteErrorCount; i++ {
		s.OnError("ARB", errTest("x"))
		if (i+1)%(autoPauseConsecutiveErrors-1) == 0 {
			s.OnSuccess("ARB", 1000, 1000, 1000, SyncResult{})
		}
	}
	st, _ := s.Get("ARB")
	if st.ErrorCount < demoteErrorCount {
		t.Fatalf("test setup failed to accumulate errorCount: %d", st.ErrorCount)
	}
	if st.Status != StatusDegraded {
		t.Errorf("expected DEGRADED, got %s", st.Status)
	}
}

func TestAllReturnsSnapshotCopy(t *testing.T) {
	s := NewSyncStateStore()
	s.InitAll(map[string]uint64{"ETH": 1000, "ARB": 2000})

	snapshot := s.All()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(snapshot))
	}

	s.OnSuccess("ETH", 1001, 1999, 1999, SyncResult{EventCount: 1})
	if snapshot["ETH"].LastSyncedBlock == 1999 {
		t.Error("All() must return a detached copy, not a live view")
	}
}

type testError string

func (e testError) Error() string { return string(e) }

func errTest(msg string) error { return testError(msg) }
