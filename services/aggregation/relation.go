package aggregation

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/flowscope/iac/domain/labels"
	"github.com/flowscope/iac/domain/price"
	"github.com/flowscope/iac/services/ingestion"
)

// Confidence scoring weights and thresholds, fixed by the scoring model —
// changing them changes what LOW/MEDIUM/HIGH/VERY_HIGH mean across every
// consumer, so they are not configuration.
const (
	txCountWeight  = 0.25
	volumeWeight   = 0.25
	recencyWeight  = 0.25
	frequencyWeight = 0.15
	diversityWeight = 0.10

	txCountFloorThreshold = 3.0
	txCountCeilThreshold  = 20.0
	volumeFloorThreshold  = 1000.0
	volumeCeilThreshold   = 100000.0
	logScoreFloor         = 0.3

	recencyWindowDays = 90.0
	frequencyCeiling  = 0.5
	diversityCeiling  = 3.0
)

// LegacyRelationSource supplies precomputed relations for an anchor when
// the unified ledger has no matching events yet — the fallback path §4.8
// requires for addresses indexed before this ledger existed.
type LegacyRelationSource interface {
	FetchLegacyRelations(ctx context.Context, anchor, network string) ([]AggregatedRelation, error)
}

// RelationAggregator implements C8: it groups an anchor address's recent
// ledger activity into per-counterparty edge aggregates, scores each
// edge's confidence, and tags known entities and bridges.
type RelationAggregator struct {
	store    ingestion.EventStore
	prices   price.Provider
	labels   *labels.Map
	legacy   LegacyRelationSource
	lookback time.Duration
}

// NewRelationAggregator constructs a C8 aggregator. legacy may be nil, in
// which case an anchor with no ledger events simply returns no relations.
func NewRelationAggregator(store ingestion.EventStore, prices price.Provider, labelMap *labels.Map, legacy LegacyRelationSource, lookback time.Duration) *RelationAggregator {
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	return &RelationAggregator{store: store, prices: prices, labels: labelMap, legacy: legacy, lookback: lookback}
}

type relationBucket struct {
	counterparty string
	direction    Direction
	txCount      int
	volumeUSD    float64
	volumeNative map[string]float64 // native units by token, decimals-naive
	tokens       map[string]struct{}
	firstSeen    time.Time
	lastSeen     time.Time
}

// BuildRelations computes every counterparty edge for anchor on network,
// falling back to the legacy source if the ledger has nothing for it.
func (r *RelationAggregator) BuildRelations(ctx context.Context, anchor, network string) ([]AggregatedRelation, error) {
	outEvents, err := r.store.Query(ctx, ingestion.EventFilter{Network: network, FromAddress: anchor})
	if err != nil {
		return nil, err
	}
	inEvents, err := r.store.Query(ctx, ingestion.EventFilter{Network: network, ToAddress: anchor})
	if err != nil {
		return nil, err
	}

	if len(outEvents) == 0 && len(inEvents) == 0 && r.legacy != nil {
		return r.legacy.FetchLegacyRelations(ctx, anchor, network)
	}

	cutoff := time.Now().Add(-r.lookback)
	buckets := make(map[string]*relationBucket)

	accumulate := func(events []ingestion.UnifiedEvent, direction Direction, counterpartyOf func(ingestion.UnifiedEvent) string) {
		for _, ev := range events {
			evTime := time.Unix(ev.Timestamp, 0)
			if evTime.Before(cutoff) {
				continue
			}
			counterparty := counterpartyOf(ev)
			key := counterparty + "|" + string(direction)
			b, ok := buckets[key]
			if !ok {
				b = &relationBucket{
					counterparty: counterparty,
					direction:    direction,
					volumeNative: make(map[string]float64),
					tokens:       make(map[string]struct{}),
					firstSeen:    evTime,
					lastSeen:     evTime,
				}
				buckets[key] = b
			}
			b.txCount++
			usd, _ := r.prices.PriceUSD(ev.TokenAddress, evTime)
			amountFloat := parseAmount(ev.Amount)
			b.volumeUSD += usd * amountFloat
			b.volumeNative[ev.TokenAddress] += amountFloat
			if ev.TokenAddress != "" {
				b.tokens[ev.TokenAddress] = struct{}{}
			}
			if evTime.Before(b.firstSeen) {
				b.firstSeen = evTime
			}
			if evTime.After(b.lastSeen) {
				b.lastSeen = evTime
			}
		}
	}

	accumulate(outEvents, DirectionOut, func(ev ingestion.UnifiedEvent) string { return ev.To })
	accumulate(inEvents, DirectionIn, func(ev ingestion.UnifiedEvent) string { return ev.From })

	relations := make([]AggregatedRelation, 0, len(buckets))
	maxVolume := maxBucketVolume(buckets)

	for _, b := range buckets {
		// daySpan is the observation period since the counterparty's
		// first activity, not the span within the bucket — an edge first
		// seen long ago and inactive since should score low frequency
		// even if it had only one transaction.
		daySpan := math.Max(1, time.Since(b.firstSeen).Hours()/24)
		confidence := computeConfidence(b, daySpan)
		level := confidenceLevel(confidence)
		weight := computeWeight(b.volumeUSD, maxVolume, confidence)

		rel := AggregatedRelation{
			From:            anchorOrCounterparty(anchor, b.counterparty, b.direction, true),
			To:              anchorOrCounterparty(anchor, b.counterparty, b.direction, false),
			Network:         network,
			TxCount:         b.txCount,
			VolumeUSD:       b.volumeUSD,
			VolumeNative:    dominantNativeVolume(b.volumeNative),
			AvgTxSize:       b.volumeUSD / float64(b.txCount),
			FirstSeen:       b.firstSeen,
			LastSeen:        b.lastSeen,
			Direction:       b.direction,
			Counterparty:    b.counterparty,
			Tokens:          tokenList(b.tokens),
			Confidence:      confidence,
			ConfidenceLevel: level,
			Weight:          weight,
		}

		if r.labels != nil {
			if entity, ok := r.labels.Entity(b.counterparty); ok {
				rel.EntityType = entity.Type
				rel.EntityName = entity.Name
			}
			if bridge, ok := r.labels.Bridge(b.counterparty); ok {
				rel.EntityType = "BRIDGE"
				rel.EntityName = bridge.Name
			}
		}

		relations = append(relations, rel)
	}

	sort.Slice(relations, func(i, j int) bool { return relations[i].VolumeUSD > relations[j].VolumeUSD })
	return relations, nil
}

func anchorOrCounterparty(anchor, counterparty string, dir Direction, wantFrom bool) string {
	isOut := dir == DirectionOut
	if wantFrom {
		if isOut {
			return anchor
		}
		return counterparty
	}
	if isOut {
		return counterparty
	}
	return anchor
}

func maxBucketVolume(buckets map[string]*relationBucket) float64 {
	max := 0.0
	for _, b := range buckets {
		if b.volumeUSD > max {
			max = b.volumeUSD
		}
	}
	return max
}

// dominantNativeVolume formats the native-unit volume of whichever token
// carried the most volume in a bucket, as a plain decimal string.
func dominantNativeVolume(byToken map[string]float64) string {
	dominantToken := ""
	maxVol := -1.0
	for token, vol := range byToken {
		if vol > maxVol {
			maxVol = vol
			dominantToken = token
		}
	}
	if dominantToken == "" {
		return "0"
	}
	return strconv.FormatFloat(byToken[dominantToken], 'f', -1, 64)
}

func tokenList(tokens map[string]struct{}) []string {
	out := make([]string, 0, len(tokens))
	for t := range tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func computeConfidence(b *relationBucket, daySpan float64) float64 {
	txScore := logNormalize(float64(b.txCount), txCountFloorThreshold, txCountCeilThreshold)
	volScore := logNormalize(b.volumeUSD, volumeFloorThreshold, volumeCeilThreshold)
	recency := recencyScore(b.lastSeen)
	frequency := math.Min(1, (float64(b.txCount)/daySpan)/frequencyCeiling)
	diversity := math.Min(1, float64(len(b.tokens))/diversityCeiling)

	return txCountWeight*txScore + volumeWeight*volScore + recencyWeight*recency +
		frequencyWeight*frequency + diversityWeight*diversity
}

// logNormalize maps x onto [0,1] with logScoreFloor at floorX and 1.0 at
// ceilX, interpolating logarithmically between them. Any positive x below
// floorX still clears the floor score — the floor is a minimum for any
// genuine activity, not a value to scale down from.
func logNormalize(x, floorX, ceilX float64) float64 {
	if x <= 0 {
		return 0
	}
	if x <= floorX {
		return logScoreFloor
	}
	if x >= ceilX {
		return 1.0
	}
	return logScoreFloor + (1-logScoreFloor)*(math.Log(x/floorX)/math.Log(ceilX/floorX))
}

func recencyScore(lastSeen time.Time) float64 {
	days := time.Since(lastSeen).Hours() / 24
	return math.Max(0, 1-days/recencyWindowDays)
}

func confidenceLevel(confidence float64) ConfidenceLevel {
	switch {
	case confidence < 0.4:
		return ConfidenceLow
	case confidence < 0.6:
		return ConfidenceMedium
	case confidence < 0.8:
		return ConfidenceHigh
	default:
		return ConfidenceVeryHigh
	}
}

func computeWeight(volume, maxVolume, confidence float64) float64 {
	ratio := 0.0
	if maxVolume > 0 {
		ratio = volume / maxVolume
	}
	weight := 0.7*math.Sqrt(math.Max(0, ratio)) + 0.3*confidence
	return math.Max(0.15, math.Min(1, weight))
}

// parseAmount converts a big-integer decimal string amount into a float64
// for USD valuation purposes. The result feeds relation confidence scores,
// node analytics volumes and entity holdings; precision is lost at extreme
// magnitudes, and an unparseable amount reads as 0.
func parseAmount(amount string) float64 {
	f, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return 0
	}
	return f
}
