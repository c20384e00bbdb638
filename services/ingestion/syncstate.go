package ingestion

import (
	"context"
	"strconv"
	"sync"
	"time"

	ierrors "github.com/flowscope/iac/infrastructure/errors"
)

const (
	// lagErrorThreshold is the lag past which a chain is forced to ERROR.
	lagErrorThreshold = 500
	// lagDegradedThreshold is the lag past which a chain is demoted to DEGRADED.
	lagDegradedThreshold = 100
	// autoPauseConsecutiveErrors triggers an automatic pause.
	autoPauseConsecutiveErrors = 5
	// demoteErrorCount triggers a demotion to DEGRADED even without lag.
	demoteErrorCount = 10
	// emaAlpha is the exponential-moving-average weight for latency/throughput.
	emaAlpha = 0.2
)

// SyncResult carries the outcome of one successfully committed window.
type SyncResult struct {
	EventCount int
	LatencyMs  float64
}

// SyncStateStore persists and serializes access to per-chain sync state.
// Every mutating method is atomic and safe for concurrent use across
// different chains; per-chain mutation is itself serialized since the
// orchestrator drives one goroutine per chain.
type SyncStateStore struct {
	mu     sync.Mutex
	states map[string]*ChainSyncState
}

// NewSyncStateStore constructs an empty in-memory sync-state store. Sync
// state lives only in process; nothing persists it.
func NewSyncStateStore() *SyncStateStore {
	return &SyncStateStore{states: make(map[string]*ChainSyncState)}
}

// InitAll seeds sync state for every configured network at its configured
// start block, without overwriting a chain that already has state.
func (s *SyncStateStore) InitAll(startBlocks map[string]uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for chain, start := range startBlocks {
		if _, exists := s.states[chain]; exists {
			continue
		}
		s.states[chain] = &ChainSyncState{
			Network:         chain,
			LastSyncedBlock: start,
			Status:          StatusOK,
		}
	}
}

// Get returns a copy of the current state for chain.
func (s *SyncStateStore) Get(chain string) (ChainSyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chain]
	if !ok {
		return ChainSyncState{}, ierrors.UnknownChain(chain)
	}
	return *st, nil
}

// UpdateHead records the latest observed head for chain without otherwise
// altering its state.
func (s *SyncStateStore) UpdateHead(chain string, head uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chain]
	if !ok {
		return ierrors.UnknownChain(chain)
	}
	st.LastHeadBlock = head
	return nil
}

// OnSuccess advances lastSyncedBlock after a committed window, updates the
// moving-average throughput/latency figures, resets consecutiveErrors, and
// recomputes status from lag unless the chain is PAUSED (which is sticky).
func (s *SyncStateStore) OnSuccess(chain string, from, to, head uint64, result SyncResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chain]
	if !ok {
		return ierrors.UnknownChain(chain)
	}

	st.LastSyncedBlock = to
	st.LastHeadBlock = head
	st.ConsecutiveErrors = 0
	st.TotalEventsIngested += int64(result.EventCount)

	windowBlocks := float64(to-from) + 1
	if windowBlocks <= 0 {
		windowBlocks = 1
	}
	eventsPerBlock := float64(result.EventCount) / windowBlocks
	st.AvgEventsPerBlock = ema(st.AvgEventsPerBlock, eventsPerBlock)
	st.AvgLatencyMs = ema(st.AvgLatencyMs, result.LatencyMs)

	now := time.Now()
	st.LastSuccessAt = &now

	if st.Status != StatusPaused {
		st.Status = statusFromLag(st.Lag())
	}
	return nil
}

// OnError records a failed window attempt. It returns shouldPause=true when
// the chain has crossed the auto-pause threshold, in which case the chain
// transitions to PAUSED with the given reason baked into pauseReason.
func (s *SyncStateStore) OnError(chain string, err error) (shouldPause bool, e error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chain]
	if !ok {
		return false, ierrors.UnknownChain(chain)
	}

	st.ErrorCount++
	st.ConsecutiveErrors++
	st.LastError = err.Error()
	now := time.Now()
	st.LastErrorAt = &now

	if st.ConsecutiveErrors >= autoPauseConsecutiveErrors {
		st.Status = StatusPaused
		st.PauseReason = "auto-paused after " + strconv.Itoa(st.ConsecutiveErrors) + " consecutive errors: " + err.Error()
		return true, nil
	}

	if st.ErrorCount >= demoteErrorCount && st.Status == StatusOK {
		st.Status = StatusDegraded
	}
	return false, nil
}

// Pause explicitly pauses chain with a given reason.
func (s *SyncStateStore) Pause(chain, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chain]
	if !ok {
		return ierrors.UnknownChain(chain)
	}
	st.Status = StatusPaused
	st.PauseReason = reason
	return nil
}

// Resume clears a pause and resets consecutiveErrors so the chain gets a
// clean slate.
func (s *SyncStateStore) Resume(chain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chain]
	if !ok {
		return ierrors.UnknownChain(chain)
	}
	st.Status = statusFromLag(st.Lag())
	st.PauseReason = ""
	st.ConsecutiveErrors = 0
	return nil
}

// Reset rewinds chain to newStart, clearing error/pause state. Used for
// operator-triggered reconciliation after a GAP_OR_OVERLAP fault.
func (s *SyncStateStore) Reset(chain string, newStart uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[chain]
	if !ok {
		return ierrors.UnknownChain(chain)
	}
	st.LastSyncedBlock = newStart
	st.Status = StatusOK
	st.PauseReason = ""
	st.ErrorCount = 0
	st.ConsecutiveErrors = 0
	return nil
}

// ResetErrorCounts implements the rolling error window: errorCount is
// zeroed on a fixed cadence without touching consecutiveErrors, so a chain
// that errors occasionally (but never enough in a row to auto-pause) isn't
// permanently stuck at DEGRADED.
func (s *SyncStateStore) ResetErrorCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.states {
		st.ErrorCount = 0
	}
}

// RunErrorResetLoop runs ResetErrorCounts on the given interval until ctx is
// canceled. Orchestrator.Run launches it once with Config.ErrorResetPeriod.
func (s *SyncStateStore) RunErrorResetLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ResetErrorCounts()
		}
	}
}

// All returns a snapshot copy of every chain's state, used by C12.
func (s *SyncStateStore) All() map[string]ChainSyncState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ChainSyncState, len(s.states))
	for chain, st := range s.states {
		out[chain] = *st
	}
	return out
}

func statusFromLag(lag uint64) SyncStatus {
	switch {
	case lag > lagErrorThreshold:
		return StatusError
	case lag > lagDegradedThreshold:
		return StatusDegraded
	default:
		return StatusOK
	}
}

func ema(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return emaAlpha*sample + (1-emaAlpha)*prev
}
