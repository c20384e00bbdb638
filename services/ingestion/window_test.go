package ingestion

import (
	"testing"

	"github.com/flowscope/iac/domain/network"
)

// S1: lastSyncedBlock=1000, head=1800, maxWindow=500 -> {from:1001, to:1500, reason:NORMAL}
func TestNextWindowNormalCase(t *testing.T) {
	state := ChainSyncState{Network: "ETH", LastSyncedBlock: 1000, Status: StatusOK}
	w := NextWindow(state, 1800, 500)

	if w.FromBlock != 1001 {
		t.Errorf("fromBlock = %d, want 1001", w.FromBlock)
	}
	if w.ToBlock != 1500 {
		t.Errorf("toBlock = %d, want 1500", w.ToBlock)
	}
	if w.Reason != ReasonNormal {
		t.Errorf("reason = %s, want NORMAL", w.Reason)
	}
}

func TestNextWindowRespectsHeadBuffer(t *testing.T) {
	state := ChainSyncState{Network: "ETH", LastSyncedBlock: 1000, Status: StatusOK}
	// head=1003 means safeHead = 1003-5 = 998, which is behind lastSyncedBlock.
	w := NextWindow(state, 1003, 500)
	if w.WindowSize != 0 {
		t.Errorf("expected empty window when within head buffer, got size %d", w.WindowSize)
	}
}

func TestNextWindowCatchupReason(t *testing.T) {
	// lag must exceed 3*maxWindow (1500) to trigger CATCHUP.
	state := ChainSyncState{Network: "ETH", LastSyncedBlock: 1000, Status: StatusDegraded}
	w := NextWindow(state, 3000, 500)
	if w.Reason != ReasonCatchup {
		t.Errorf("expected CATCHUP when lag exceeds 3x maxWindow, got %s", w.Reason)
	}
}

func TestNextWindowRecoveryReason(t *testing.T) {
	// Lag stays within NORMAL range, but a consecutive-error history should
	// still surface as RECOVERY rather than NORMAL.
	state := ChainSyncState{Network: "ETH", LastSyncedBlock: 1000, Status: StatusOK, ConsecutiveErrors: 2}
	w := NextWindow(state, 1800, 500)
	if w.Reason != ReasonRecovery {
		t.Errorf("expected RECOVERY for a chain with consecutive errors but low lag, got %s", w.Reason)
	}
}

func TestNextWindowBackfillReasonOnExtremeLag(t *testing.T) {
	state := ChainSyncState{Network: "ETH", LastSyncedBlock: 1000, Status: StatusOK}
	w := NextWindow(state, 100_000, 500)
	if w.Reason != ReasonBackfill {
		t.Errorf("expected BACKFILL on extreme lag, got %s", w.Reason)
	}
}

func TestNextWindowDefaultMaxWindowPerChain(t *testing.T) {
	state := ChainSyncState{Network: "ARB", LastSyncedBlock: 0, Status: StatusOK}
	w := NextWindow(state, 100_000, 0)
	if w.WindowSize != 2000 {
		t.Errorf("expected ARB default max window 2000, got %d", w.WindowSize)
	}
}

func TestValidateRejectsGap(t *testing.T) {
	state := ChainSyncState{Network: "ETH", LastSyncedBlock: 1000}
	w := BlockWindow{Network: "ETH", FromBlock: 1010, ToBlock: 1500, WindowSize: 491}
	if err := Validate(w, state); err == nil {
		t.Fatal("expected gap/overlap error")
	}
}

func TestValidateAcceptsContiguousWindow(t *testing.T) {
	state := ChainSyncState{Network: "ETH", LastSyncedBlock: 1000}
	w := BlockWindow{Network: "ETH", FromBlock: 1001, ToBlock: 1500, WindowSize: 500}
	if err := Validate(w, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAllowsEmptyWindow(t *testing.T) {
	state := ChainSyncState{Network: "ETH", LastSyncedBlock: 1000}
	w := BlockWindow{Network: "ETH", FromBlock: 1001, ToBlock: 1000, WindowSize: 0}
	if err := Validate(w, state); err != nil {
		t.Fatalf("unexpected error for empty window: %v", err)
	}
}

func TestOptimalSizeShrinksUnderErrorPressure(t *testing.T) {
	healthy := OptimalSize(network.ETH, 500, 0.0, 100)
	degraded := OptimalSize(network.ETH, 500, 0.30, 100)

	if healthy != 500 {
		t.Errorf("expected full window when healthy, got %d", healthy)
	}
	if degraded >= healthy {
		t.Errorf("expected shrunk window under error pressure, got %d (healthy=%d)", degraded, healthy)
	}
	if degraded < MinWindowBlocks {
		t.Errorf("window size %d fell below MinWindowBlocks", degraded)
	}
}

func TestOptimalSizeNeverBelowMinimum(t *testing.T) {
	size := OptimalSize(network.ETH, 500, 0.9, 20000)
	if size < MinWindowBlocks {
		t.Errorf("size %d below MinWindowBlocks %d", size, MinWindowBlocks)
	}
}
