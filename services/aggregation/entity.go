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

// neutralFlowRatio is the |net|/gross threshold under which a token's daily
// flow is classified neutral rather than inflow/outflow.
const neutralFlowRatio = 0.10

// EntityBook maps an entity's display name to the set of addresses it
// controls on a given network. Passed in as configuration — C10 never
// consults a global singleton for this.
type EntityBook struct {
	addressesByEntity map[string][]string
}

// NewEntityBook builds an EntityBook from an entity-name -> addresses table.
func NewEntityBook(addresses map[string][]string) *EntityBook {
	return &EntityBook{addressesByEntity: addresses}
}

// Addresses returns the addresses known for entityName, or nil if unknown.
func (b *EntityBook) Addresses(entityName string) []string {
	if b == nil {
		return nil
	}
	return b.addressesByEntity[entityName]
}

// Names returns every entity name the book tracks, in no particular order.
func (b *EntityBook) Names() []string {
	if b == nil {
		return nil
	}
	names := make([]string, 0, len(b.addressesByEntity))
	for name := range b.addressesByEntity {
		names = append(names, name)
	}
	return names
}

// EntityAggregator implements C10: holdings, flows, and bridge activity
// for a named entity spanning many addresses, computed purely from the
// unified ledger and the static label maps.
type EntityAggregator struct {
	store  ingestion.EventStore
	prices price.Provider
	labels *labels.Map
	book   *EntityBook
}

// NewEntityAggregator constructs a C10 aggregator.
func NewEntityAggregator(store ingestion.EventStore, prices price.Provider, labelMap *labels.Map, book *EntityBook) *EntityAggregator {
	return &EntityAggregator{store: store, prices: prices, labels: labelMap, book: book}
}

// BuildReport computes the full C10 report for entityName on network over
// the trailing window ending now.
func (a *EntityAggregator) BuildReport(ctx context.Context, entityName, network string, window time.Duration) (EntityReport, error) {
	addresses := a.book.Addresses(entityName)
	report := EntityReport{EntityName: entityName}
	if len(addresses) == 0 {
		return report, nil
	}

	addrSet := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		addrSet[addr] = struct{}{}
	}

	cutoff := time.Now().Add(-window)
	netByToken := make(map[string]float64)      // net native units, entity-internal transfers excluded
	usdByToken := make(map[string]float64)       // net USD, signed
	inUSDByToken := make(map[string]float64)
	outUSDByToken := make(map[string]float64)
	dailyNet := make(map[string]float64)
	dailyIn := make(map[string]float64)
	dailyOut := make(map[string]float64)
	bridgeBuckets := make(map[string]*BridgeActivity) // key: bridgeName|toChain|direction

	for _, addr := range addresses {
		outEvents, err := a.store.Query(ctx, ingestion.EventFilter{Network: network, FromAddress: addr})
		if err != nil {
			return EntityReport{}, err
		}
		inEvents, err := a.store.Query(ctx, ingestion.EventFilter{Network: network, ToAddress: addr})
		if err != nil {
			return EntityReport{}, err
		}

		for _, ev := range outEvents {
			evTime := time.Unix(ev.Timestamp, 0)
			if evTime.Before(cutoff) {
				continue
			}
			if _, internal := addrSet[ev.To]; internal {
				continue // transfers between the entity's own addresses do not move its holdings
			}
			usd, _ := a.prices.PriceUSD(ev.TokenAddress, evTime)
			amount := parseAmount(ev.Amount)
			usdValue := usd * amount

			netByToken[ev.TokenAddress] -= amount
			usdByToken[ev.TokenAddress] -= usdValue
			outUSDByToken[ev.TokenAddress] += usdValue

			day := evTime.UTC().Format("2006-01-02")
			dailyNet[day] -= usdValue
			dailyOut[day] += usdValue

			a.classifyBridge(bridgeBuckets, ev.To, network, usdValue)
		}

		for _, ev := range inEvents {
			evTime := time.Unix(ev.Timestamp, 0)
			if evTime.Before(cutoff) {
				continue
			}
			if _, internal := addrSet[ev.From]; internal {
				continue
			}
			usd, _ := a.prices.PriceUSD(ev.TokenAddress, evTime)
			amount := parseAmount(ev.Amount)
			usdValue := usd * amount

			netByToken[ev.TokenAddress] += amount
			usdByToken[ev.TokenAddress] += usdValue
			inUSDByToken[ev.TokenAddress] += usdValue

			day := evTime.UTC().Format("2006-01-02")
			dailyNet[day] += usdValue
			dailyIn[day] += usdValue
		}
	}

	report.Holdings = buildHoldings(netByToken, usdByToken)
	report.Flows = buildFlowSeries(dailyNet, dailyIn, dailyOut)
	report.TokenFlows = buildTokenFlows(inUSDByToken, outUSDByToken)
	report.Bridges = flattenBridges(bridgeBuckets)
	return report, nil
}

func buildHoldings(netByToken, usdByToken map[string]float64) []EntityHolding {
	totalAbsUSD := 0.0
	for _, usd := range usdByToken {
		totalAbsUSD += math.Abs(usd)
	}

	holdings := make([]EntityHolding, 0, len(netByToken))
	for token, net := range netByToken {
		usd := usdByToken[token]
		pct := 0.0
		if totalAbsUSD > 0 {
			pct = math.Abs(usd) / totalAbsUSD * 100
		}
		holdings = append(holdings, EntityHolding{
			TokenAddress: token,
			NetBalance:   formatAmount(net),
			ValueUSD:     usd,
			PercentOfAUM: pct,
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return math.Abs(holdings[i].ValueUSD) > math.Abs(holdings[j].ValueUSD) })
	return holdings
}

func buildFlowSeries(dailyNet, dailyIn, dailyOut map[string]float64) []EntityFlowPoint {
	days := make([]string, 0, len(dailyNet))
	for day := range dailyNet {
		days = append(days, day)
	}
	sort.Strings(days)

	points := make([]EntityFlowPoint, 0, len(days))
	for _, day := range days {
		points = append(points, EntityFlowPoint{
			Date:       day,
			NetUSD:     dailyNet[day],
			InflowUSD:  dailyIn[day],
			OutflowUSD: dailyOut[day],
		})
	}
	return points
}

func buildTokenFlows(inUSDByToken, outUSDByToken map[string]float64) []EntityTokenFlow {
	tokens := make(map[string]struct{})
	for token := range inUSDByToken {
		tokens[token] = struct{}{}
	}
	for token := range outUSDByToken {
		tokens[token] = struct{}{}
	}

	flows := make([]EntityTokenFlow, 0, len(tokens))
	for token := range tokens {
		in := inUSDByToken[token]
		out := outUSDByToken[token]
		flows = append(flows, EntityTokenFlow{
			TokenAddress: token,
			InflowUSD:    in,
			OutflowUSD:   out,
			DominantFlow: classifyFlow(in, out),
		})
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].TokenAddress < flows[j].TokenAddress })
	return flows
}

// classifyFlow buckets a token's net flow as inflow, outflow, or neutral
// when the net is small relative to the gross volume moved.
func classifyFlow(in, out float64) DominantFlow {
	gross := in + out
	net := in - out
	if gross == 0 || math.Abs(net)/gross < neutralFlowRatio {
		return FlowNeutral
	}
	if net > 0 {
		return FlowInflow
	}
	return FlowOutflow
}

func (a *EntityAggregator) classifyBridge(buckets map[string]*BridgeActivity, counterparty, network string, usdValue float64) {
	if a.labels == nil {
		return
	}
	bridge, ok := a.labels.Bridge(counterparty)
	if !ok {
		return
	}
	direction := bridgeDirection(network, bridge.ToChain)
	key := bridge.Name + "|" + bridge.ToChain + "|" + string(direction)
	b, ok := buckets[key]
	if !ok {
		b = &BridgeActivity{BridgeName: bridge.Name, ToChain: bridge.ToChain, Direction: direction}
		buckets[key] = b
	}
	b.TxCount++
	b.VolumeUSD += usdValue
}

// bridgeDirection classifies a bridge transfer's direction. L1 is ETH;
// every other closed-enum network is treated as an L2 for this purpose.
func bridgeDirection(fromNetwork, toNetwork string) BridgeDirection {
	const l1 = "ETH"
	switch {
	case fromNetwork == l1 && toNetwork != l1:
		return BridgeL1ToL2
	case fromNetwork != l1 && toNetwork == l1:
		return BridgeL2ToL1
	default:
		return BridgeCross
	}
}

func flattenBridges(buckets map[string]*BridgeActivity) []BridgeActivity {
	out := make([]BridgeActivity, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VolumeUSD > out[j].VolumeUSD })
	return out
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
