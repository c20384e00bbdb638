package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// ComputeEventID derives the content-addressable identifier for an event:
// a truncated SHA-256 digest of (network, txHash, logIndex). Two fetches
// of the same on-chain log — whether from RPC retry, backfill, or
// bootstrap — always land on the same id, making ingestion idempotent.
func ComputeEventID(network, txHash string, logIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", network, txHash, logIndex)))
	return hex.EncodeToString(sum[:16])
}

// ReplayReport summarizes the outcome of one InsertBatch call.
type ReplayReport struct {
	Inserted      int
	Duplicates    int
	Errors        int
	ErrorMessages []string
}

// ReplayGuard enforces insert-if-absent semantics over a set of event ids.
// MemoryStore passes every batch through it so a duplicate fetch never
// reaches the in-memory ledger twice; PostgresStore does not use it and
// relies on its unique constraint instead.
type ReplayGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewReplayGuard constructs an empty guard. A Postgres-backed guard uses a
// unique constraint on event_id with ON CONFLICT DO NOTHING for the same
// effect; this in-memory guard backs the in-memory store implementation.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{seen: make(map[string]struct{})}
}

// InsertBatch assigns each event its content-addressable id if not already
// set, then reports how many were genuinely new versus already-seen
// duplicates. It never returns a partial failure for a duplicate — only
// genuine per-event errors (e.g. an event failing id computation) count
// against Errors.
func (g *ReplayGuard) InsertBatch(events []UnifiedEvent) ReplayReport {
	g.mu.Lock()
	defer g.mu.Unlock()

	report := ReplayReport{}
	for i := range events {
		ev := &events[i]
		if ev.EventID == "" {
			ev.EventID = ComputeEventID(ev.Network, ev.TxHash, ev.LogIndex)
		}
		if ev.EventID == "" {
			report.Errors++
			report.ErrorMessages = append(report.ErrorMessages, fmt.Sprintf("event at index %d missing identifying fields", i))
			continue
		}
		if _, exists := g.seen[ev.EventID]; exists {
			report.Duplicates++
			continue
		}
		g.seen[ev.EventID] = struct{}{}
		report.Inserted++
	}
	return report
}

// Contains reports whether eventID has already been admitted.
func (g *ReplayGuard) Contains(eventID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[eventID]
	return ok
}

// Count returns how many distinct event ids the guard has admitted.
func (g *ReplayGuard) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
