package aggregation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// windowDuration maps a SnapshotWindow to its lookback span.
func windowDuration(w SnapshotWindow) time.Duration {
	switch w {
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// SnapshotSource supplies the relation and analytics data a snapshot
// materializes — scoped to C8/C9 outputs only, never the raw ledger, so a
// snapshot's shape stays deterministic for a given snapshotAt.
type SnapshotSource interface {
	RelationsForWindow(ctx context.Context, network string, window time.Duration) ([]AggregatedRelation, error)
	AnalyticsForAddresses(ctx context.Context, addresses []string, network string) ([]NodeAnalytics, error)
}

// SnapshotBuilder implements C13: it periodically freezes the current
// aggregated view into a SignalSnapshot per window and retains only the
// most recent keepCount per window.
type SnapshotBuilder struct {
	source    SnapshotSource
	keepCount int

	mu        sync.Mutex
	snapshots map[SnapshotWindow][]SignalSnapshot
	seq       int64
}

// NewSnapshotBuilder constructs a C13 builder retaining keepCount snapshots
// per window (must be >= 1).
func NewSnapshotBuilder(source SnapshotSource, keepCount int) *SnapshotBuilder {
	if keepCount < 1 {
		keepCount = 1
	}
	return &SnapshotBuilder{
		source:    source,
		keepCount: keepCount,
		snapshots: make(map[SnapshotWindow][]SignalSnapshot),
	}
}

// Build materializes a fresh snapshot for window/network, stores it, and
// evicts the oldest snapshot for that window if retention is exceeded.
func (b *SnapshotBuilder) Build(ctx context.Context, window SnapshotWindow, network string, snapshotAt time.Time) (SignalSnapshot, error) {
	relations, err := b.source.RelationsForWindow(ctx, network, windowDuration(window))
	if err != nil {
		return SignalSnapshot{}, err
	}

	addressSet := make(map[string]struct{})
	edges := make([]SnapshotEdge, 0, len(relations))
	for _, rel := range relations {
		addressSet[rel.From] = struct{}{}
		addressSet[rel.To] = struct{}{}
		edges = append(edges, SnapshotEdge{From: rel.From, To: rel.To, Network: rel.Network, Weight: rel.Weight})
	}

	addresses := make([]string, 0, len(addressSet))
	for addr := range addressSet {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	analytics, err := b.source.AnalyticsForAddresses(ctx, addresses, network)
	if err != nil {
		return SignalSnapshot{}, err
	}
	byAddress := make(map[string]NodeAnalytics, len(analytics))
	for _, a := range analytics {
		byAddress[a.Address] = a
	}

	actors := make([]SnapshotActor, 0, len(addresses))
	totalVolume := 0.0
	for _, addr := range addresses {
		a := byAddress[addr]
		actors = append(actors, SnapshotActor{
			Address:            addr,
			Network:            network,
			VolumeUSD:          a.TotalVolumeUSD,
			TxCount:            a.TxCount,
			BurstScore:         a.ActivityScore,
			ParticipationTrend: a.RecencyScore,
		})
		totalVolume += a.TotalVolumeUSD
	}

	avgVolume := 0.0
	if len(actors) > 0 {
		avgVolume = totalVolume / float64(len(actors))
	}

	b.mu.Lock()
	b.seq++
	snapshot := SignalSnapshot{
		SnapshotID: fmt.Sprintf("%s-%s-%d", network, window, b.seq),
		Window:     window,
		SnapshotAt: snapshotAt,
		Actors:     actors,
		Edges:      edges,
		Stats: SnapshotStats{
			ActorCount:   len(actors),
			EdgeCount:    len(edges),
			AvgVolumeUSD: avgVolume,
		},
	}
	b.snapshots[window] = append(b.snapshots[window], snapshot)
	if len(b.snapshots[window]) > b.keepCount {
		excess := len(b.snapshots[window]) - b.keepCount
		b.snapshots[window] = append([]SignalSnapshot{}, b.snapshots[window][excess:]...)
	}
	b.mu.Unlock()

	return snapshot, nil
}

// Latest returns the most recently built snapshot for window, if any.
func (b *SnapshotBuilder) Latest(window SnapshotWindow) (SignalSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.snapshots[window]
	if len(list) == 0 {
		return SignalSnapshot{}, false
	}
	return list[len(list)-1], true
}

// History returns every retained snapshot for window, oldest first.
func (b *SnapshotBuilder) History(window SnapshotWindow) []SignalSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SignalSnapshot, len(b.snapshots[window]))
	copy(out, b.snapshots[window])
	return out
}
