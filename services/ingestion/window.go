package ingestion

import (
	"github.com/flowscope/iac/domain/network"
	ierrors "github.com/flowscope/iac/infrastructure/errors"
)

// HeadBufferBlocks is the number of blocks kept back from the observed
// chain head before a window may touch them, guarding against reorgs.
const HeadBufferBlocks = 5

// MinWindowBlocks is the floor adaptive sizing will never shrink below.
const MinWindowBlocks = 10

// defaultMaxWindow returns the built-in per-chain ceiling on window size,
// used when a NetworkConfig does not override it. Rollup chains with
// cheap, high-throughput L2 RPCs tolerate much larger windows than L1 or
// the heavier zk-stack chains.
func defaultMaxWindow(id network.ID) uint64 {
	switch id {
	case network.ETH:
		return 500
	case network.ARB, network.OP, network.BASE:
		return 2000
	case network.ZKSYNC, network.SCROLL, network.LINEA:
		return 500
	default:
		return 1000
	}
}

// NextWindow computes the next gap-free block range to fetch for a chain,
// given its current sync state and the most recently observed head.
// override, if non-zero, replaces the per-chain default max window size.
func NextWindow(state ChainSyncState, currentHead uint64, override uint64) BlockWindow {
	id := network.ID(state.Network)
	maxWindow := override
	if maxWindow == 0 {
		maxWindow = defaultMaxWindow(id)
	}

	safeHead := uint64(0)
	if currentHead > HeadBufferBlocks {
		safeHead = currentHead - HeadBufferBlocks
	}

	from := state.LastSyncedBlock + 1
	if from > safeHead {
		// Nothing new behind the safety buffer; caller should treat this
		// as an empty window and back off.
		return BlockWindow{
			Network:        state.Network,
			FromBlock:      from,
			ToBlock:        state.LastSyncedBlock,
			WindowSize:     0,
			Reason:         ReasonNormal,
			TargetHead:     currentHead,
			LagAfterWindow: state.Lag(),
		}
	}

	lag := safeHead - state.LastSyncedBlock
	to := from + maxWindow - 1
	if to > safeHead {
		to = safeHead
	}

	// Reason is driven by lag relative to this window's own size, not by
	// the chain's absolute sync-status thresholds; below the CATCHUP level a
	// chain with consecutive errors gets RECOVERY.
	reason := ReasonNormal
	switch {
	case lag > maxWindow*10:
		reason = ReasonBackfill
	case lag > maxWindow*3:
		reason = ReasonCatchup
	case state.ConsecutiveErrors > 0:
		reason = ReasonRecovery
	}

	lagAfter := uint64(0)
	if safeHead > to {
		lagAfter = safeHead - to
	}

	return BlockWindow{
		Network:        state.Network,
		FromBlock:      from,
		ToBlock:        to,
		WindowSize:     to - from + 1,
		Reason:         reason,
		TargetHead:     currentHead,
		LagAfterWindow: lagAfter,
	}
}

// Validate rejects a window that would create a gap or an overlap against
// the chain's recorded progress. A window is valid only if its fromBlock
// is exactly one past lastSyncedBlock.
func Validate(w BlockWindow, state ChainSyncState) error {
	if w.WindowSize == 0 {
		return nil
	}
	expectedFrom := state.LastSyncedBlock + 1
	if w.FromBlock != expectedFrom {
		return ierrors.GapOrOverlap(state.Network, expectedFrom, w.FromBlock)
	}
	if w.ToBlock < w.FromBlock {
		return ierrors.InvalidWindow(state.Network + ": toBlock precedes fromBlock")
	}
	return nil
}

// OptimalSize adaptively scales a chain's window size down under error or
// latency pressure and back up as it recovers, never leaving the
// [MinWindowBlocks, maxWindow] range.
func OptimalSize(id network.ID, maxWindow uint64, errorRate float64, latencyMs float64) uint64 {
	if maxWindow == 0 {
		maxWindow = defaultMaxWindow(id)
	}

	size := maxWindow
	switch {
	case errorRate > 0.25:
		size = maxWindow / 8
	case errorRate > 0.10:
		size = maxWindow / 4
	case errorRate > 0.02:
		size = maxWindow / 2
	}

	if latencyMs > 5000 {
		size /= 2
	}

	if size < MinWindowBlocks {
		size = MinWindowBlocks
	}
	if size > maxWindow {
		size = maxWindow
	}
	return size
}
