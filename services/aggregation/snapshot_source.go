package aggregation

import (
	"context"
	"time"
)

// TrackedAnchorSource adapts a RelationAggregator and NodeAnalyticsBuilder
// into a SnapshotSource over a fixed set of tracked anchor addresses — the
// addresses a deployment considers active enough to include in periodic
// snapshots. It never touches the ledger directly, only C8/C9's own reads.
type TrackedAnchorSource struct {
	relations *RelationAggregator
	analytics *NodeAnalyticsBuilder
	anchors   []string
}

// NewTrackedAnchorSource constructs a SnapshotSource over anchors.
func NewTrackedAnchorSource(relations *RelationAggregator, analytics *NodeAnalyticsBuilder, anchors []string) *TrackedAnchorSource {
	return &TrackedAnchorSource{relations: relations, analytics: analytics, anchors: anchors}
}

// RelationsForWindow builds every tracked anchor's relations and returns
// their union, deduplicated by (from, to, network). window is accepted for
// interface symmetry; the underlying aggregator's own lookback governs how
// far back a relation can be observed.
func (s *TrackedAnchorSource) RelationsForWindow(ctx context.Context, network string, window time.Duration) ([]AggregatedRelation, error) {
	seen := make(map[string]struct{})
	var out []AggregatedRelation
	for _, anchor := range s.anchors {
		rels, err := s.relations.BuildRelations(ctx, anchor, network)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			key := rel.From + "|" + rel.To + "|" + rel.Network
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rel)
		}
	}
	return out, nil
}

// AnalyticsForAddresses computes C9 analytics for the given addresses.
func (s *TrackedAnchorSource) AnalyticsForAddresses(ctx context.Context, addresses []string, network string) ([]NodeAnalytics, error) {
	results, err := s.analytics.BatchCompute(ctx, addresses, network)
	if err != nil {
		return nil, err
	}
	out := make([]NodeAnalytics, 0, len(results))
	for _, r := range results {
		out = append(out, r.Analytics)
	}
	return out, nil
}
