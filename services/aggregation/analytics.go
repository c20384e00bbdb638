package aggregation

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowscope/iac/domain/labels"
	"github.com/flowscope/iac/domain/price"
	"github.com/flowscope/iac/infrastructure/cache"
	"github.com/flowscope/iac/services/ingestion"
)

const (
	hubDegreeSaturation   = 50.0 // unique-degree count at which hubScore reaches ~1
	activityTxSaturation  = 200.0
	influenceHubWeight    = 0.30
	influenceActivityW    = 0.25
	influenceVolumeWeight = 0.30
	influenceEntityBoost  = 0.15
	analyticsLookback     = 90 * 24 * time.Hour
)

// NodeAnalyticsBuilder implements C9: it folds an address's ledger activity
// into a NodeAnalytics record and serves reads through a TTL cache with a
// stale-with-age-hint contract instead of blocking every call on recompute.
type NodeAnalyticsBuilder struct {
	store  ingestion.EventStore
	prices price.Provider
	labels *labels.Map
	cache  *cache.AnalyticsCache
}

// NewNodeAnalyticsBuilder constructs a C9 builder. cacheTTL governs how long
// a computed record is served stale before a read forces recomputation (1
// hour per the node analytics staleness contract).
func NewNodeAnalyticsBuilder(store ingestion.EventStore, prices price.Provider, labelMap *labels.Map, cacheTTL time.Duration) *NodeAnalyticsBuilder {
	return &NodeAnalyticsBuilder{
		store:  store,
		prices: prices,
		labels: labelMap,
		cache:  cache.NewAnalyticsCache(cacheTTL),
	}
}

// AnalyticsResult wraps a NodeAnalytics record with its cache freshness so
// callers can decide whether to show an "as of" hint.
type AnalyticsResult struct {
	Analytics NodeAnalytics
	Stale     bool
	Age       time.Duration
}

func cacheKey(address, network string) string {
	return network + "|" + address
}

// Get returns the cached record for address/network if its age has not
// exceeded the staleness threshold, recomputing and re-caching otherwise.
func (b *NodeAnalyticsBuilder) Get(ctx context.Context, address, network string) (AnalyticsResult, error) {
	key := cacheKey(address, network)
	if hit := b.cache.Lookup(key); hit.Found {
		analytics := hit.Value.(NodeAnalytics)
		return AnalyticsResult{Analytics: analytics, Stale: hit.Stale, Age: hit.Age}, nil
	}

	analytics, err := b.Compute(ctx, address, network)
	if err != nil {
		return AnalyticsResult{}, err
	}
	b.cache.Store(key, analytics)
	return AnalyticsResult{Analytics: analytics}, nil
}

// Compute builds a fresh NodeAnalytics record directly from the ledger,
// bypassing the cache. Get calls it on a cache miss; Compute itself never
// reads or writes the cache.
func (b *NodeAnalyticsBuilder) Compute(ctx context.Context, address, network string) (NodeAnalytics, error) {
	outEvents, err := b.store.Query(ctx, ingestion.EventFilter{Network: network, FromAddress: address})
	if err != nil {
		return NodeAnalytics{}, err
	}
	inEvents, err := b.store.Query(ctx, ingestion.EventFilter{Network: network, ToAddress: address})
	if err != nil {
		return NodeAnalytics{}, err
	}

	analytics := NodeAnalytics{Address: address, Network: network, UpdatedAt: time.Now()}
	if len(outEvents) == 0 && len(inEvents) == 0 {
		return analytics, nil
	}

	outDegree := make(map[string]struct{})
	inDegree := make(map[string]struct{})

	accumulate := func(events []ingestion.UnifiedEvent, counterparties map[string]struct{}, counterpartyOf func(ingestion.UnifiedEvent) string, isOut bool) {
		for _, ev := range events {
			evTime := time.Unix(ev.Timestamp, 0)
			usd, _ := b.prices.PriceUSD(ev.TokenAddress, evTime)
			amountUSD := usd * parseAmount(ev.Amount)

			if isOut {
				analytics.OutVolumeUSD += amountUSD
				analytics.OutTxCount++
			} else {
				analytics.InVolumeUSD += amountUSD
				analytics.InTxCount++
			}
			counterparties[counterpartyOf(ev)] = struct{}{}

			if analytics.FirstSeen.IsZero() || evTime.Before(analytics.FirstSeen) {
				analytics.FirstSeen = evTime
			}
			if evTime.After(analytics.LastSeen) {
				analytics.LastSeen = evTime
			}
		}
	}

	accumulate(outEvents, outDegree, func(ev ingestion.UnifiedEvent) string { return ev.To }, true)
	accumulate(inEvents, inDegree, func(ev ingestion.UnifiedEvent) string { return ev.From }, false)

	analytics.TotalVolumeUSD = analytics.InVolumeUSD + analytics.OutVolumeUSD
	analytics.NetFlowUSD = analytics.InVolumeUSD - analytics.OutVolumeUSD
	analytics.TxCount = analytics.InTxCount + analytics.OutTxCount
	analytics.UniqueInDegree = len(inDegree)
	analytics.UniqueOutDegree = len(outDegree)

	analytics.HubScore = saturate(float64(analytics.UniqueInDegree+analytics.UniqueOutDegree), hubDegreeSaturation)
	analytics.RecencyScore = math.Max(0, 1-time.Since(analytics.LastSeen).Hours()/24/recencyWindowDays)
	analytics.ActivityScore = saturate(float64(analytics.TxCount), activityTxSaturation)

	entityBoost := 0.0
	if b.labels != nil {
		if entity, ok := b.labels.Entity(address); ok {
			analytics.EntityType = entity.Type
			analytics.EntityName = entity.Name
			entityBoost = influenceEntityBoost
		}
	}
	volumeScore := logNormalize(analytics.TotalVolumeUSD, volumeFloorThreshold, volumeCeilThreshold)
	analytics.InfluenceScore = math.Min(1,
		influenceHubWeight*analytics.HubScore+
			influenceActivityW*analytics.ActivityScore+
			influenceVolumeWeight*volumeScore+
			entityBoost)

	return analytics, nil
}

// saturate maps a non-negative count onto [0,1] with logarithmic
// diminishing returns, reaching 1.0 at saturationPoint and clamped to 1.0
// beyond it.
func saturate(count, saturationPoint float64) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(1, math.Log1p(count)/math.Log1p(saturationPoint))
}

// BatchCompute fetches or recomputes analytics for every address in
// addresses on network concurrently, preserving input order in the result.
func (b *NodeAnalyticsBuilder) BatchCompute(ctx context.Context, addresses []string, network string) ([]AnalyticsResult, error) {
	out := make([]AnalyticsResult, len(addresses))

	group, gctx := errgroup.WithContext(ctx)
	for i, addr := range addresses {
		i, addr := i, addr
		group.Go(func() error {
			res, err := b.Get(gctx, addr, network)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// TopKByInfluence fetches analytics for every address in addresses through
// BatchCompute (so cached records are served as-is) and returns the top k
// ranked by influenceScore, descending.
func (b *NodeAnalyticsBuilder) TopKByInfluence(ctx context.Context, addresses []string, network string, k int) ([]NodeAnalytics, error) {
	results, err := b.BatchCompute(ctx, addresses, network)
	if err != nil {
		return nil, err
	}
	ranked := make([]NodeAnalytics, 0, len(results))
	for _, r := range results {
		ranked = append(ranked, r.Analytics)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].InfluenceScore > ranked[j].InfluenceScore })
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

// Invalidate drops the cached record for address/network, forcing the next
// Get to recompute from the ledger.
func (b *NodeAnalyticsBuilder) Invalidate(address, network string) {
	b.cache.Invalidate(cacheKey(address, network))
}
