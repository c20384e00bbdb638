package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/flowscope/iac/domain/labels"
	"github.com/flowscope/iac/domain/price"
	"github.com/flowscope/iac/services/ingestion"
)

func TestNodeAnalyticsBuilderComputeEmptyAddressReturnsZeroValue(t *testing.T) {
	store := ingestion.NewMemoryStore()
	b := NewNodeAnalyticsBuilder(store, price.ZeroProvider{}, nil, time.Hour)

	analytics, err := b.Compute(context.Background(), anchorAddr, "ETH")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if analytics.TxCount != 0 || analytics.HubScore != 0 || analytics.InfluenceScore != 0 {
		t.Errorf("expected all-zero analytics for an address with no events, got %+v", analytics)
	}
}

func TestNodeAnalyticsBuilderComputeAggregatesBothDirections(t *testing.T) {
	now := time.Now()
	events := []ingestion.UnifiedEvent{
		{Network: "ETH", TxHash: "0xo1", BlockNumber: 1, Timestamp: now.Unix(), From: anchorAddr, To: counterpartyOne, TokenAddress: usdcAddr, Amount: "100", EventType: ingestion.EventTransfer},
		{Network: "ETH", TxHash: "0xi1", BlockNumber: 2, Timestamp: now.Unix(), From: counterpartyOne, To: anchorAddr, TokenAddress: usdcAddr, Amount: "40", EventType: ingestion.EventTransfer},
	}
	store := seedStore(t, events)
	prices := price.StaticProvider{Prices: map[string]float64{usdcAddr: 1.0}}
	b := NewNodeAnalyticsBuilder(store, prices, nil, time.Hour)

	analytics, err := b.Compute(context.Background(), anchorAddr, "ETH")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if analytics.OutVolumeUSD != 100 || analytics.InVolumeUSD != 40 {
		t.Errorf("expected in=40 out=100, got in=%v out=%v", analytics.InVolumeUSD, analytics.OutVolumeUSD)
	}
	if analytics.TotalVolumeUSD != 140 || analytics.NetFlowUSD != -60 {
		t.Errorf("expected total=140 net=-60, got total=%v net=%v", analytics.TotalVolumeUSD, analytics.NetFlowUSD)
	}
	if analytics.TxCount != 2 || analytics.UniqueOutDegree != 1 || analytics.UniqueInDegree != 1 {
		t.Errorf("unexpected degree/tx counts: %+v", analytics)
	}
	for _, score := range []float64{analytics.HubScore, analytics.RecencyScore, analytics.ActivityScore, analytics.InfluenceScore} {
		if score < 0 || score > 1 {
			t.Errorf("expected every derived score in [0,1], got %v", score)
		}
	}
}

func TestNodeAnalyticsBuilderTagsKnownEntityAndBoostsInfluence(t *testing.T) {
	exchangeAddr := "0x28c6c06298d514db089934071355e5743bf21d60"
	now := time.Now()
	events := []ingestion.UnifiedEvent{
		{Network: "ETH", TxHash: "0xe1", BlockNumber: 1, Timestamp: now.Unix(), From: counterpartyOne, To: exchangeAddr, TokenAddress: usdcAddr, Amount: "500", EventType: ingestion.EventTransfer},
	}
	store := seedStore(t, events)
	prices := price.StaticProvider{Prices: map[string]float64{usdcAddr: 1.0}}

	withLabels := NewNodeAnalyticsBuilder(store, prices, labels.Default(), time.Hour)
	tagged, err := withLabels.Compute(context.Background(), exchangeAddr, "ETH")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if tagged.EntityType != "EXCHANGE" {
		t.Fatalf("expected exchange entity tag, got %+v", tagged)
	}

	withoutLabels := NewNodeAnalyticsBuilder(store, prices, nil, time.Hour)
	untagged, err := withoutLabels.Compute(context.Background(), exchangeAddr, "ETH")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if untagged.InfluenceScore >= tagged.InfluenceScore {
		t.Errorf("expected known-entity boost to raise influenceScore: tagged=%v untagged=%v", tagged.InfluenceScore, untagged.InfluenceScore)
	}
}

func TestNodeAnalyticsBuilderGetServesFreshThenCached(t *testing.T) {
	now := time.Now()
	events := []ingestion.UnifiedEvent{
		{Network: "ETH", TxHash: "0xc1", BlockNumber: 1, Timestamp: now.Unix(), From: anchorAddr, To: counterpartyOne, TokenAddress: usdcAddr, Amount: "10", EventType: ingestion.EventTransfer},
	}
	store := seedStore(t, events)
	b := NewNodeAnalyticsBuilder(store, price.ZeroProvider{}, nil, time.Hour)

	first, err := b.Get(context.Background(), anchorAddr, "ETH")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first.Stale {
		t.Error("expected first Get (cache miss -> compute) to not be marked stale")
	}

	second, err := b.Get(context.Background(), anchorAddr, "ETH")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Analytics.TxCount != first.Analytics.TxCount {
		t.Errorf("expected cached Get to return the same record, got %+v vs %+v", second.Analytics, first.Analytics)
	}
}

func TestNodeAnalyticsBuilderInvalidateForcesRecompute(t *testing.T) {
	store := ingestion.NewMemoryStore()
	b := NewNodeAnalyticsBuilder(store, price.ZeroProvider{}, nil, time.Hour)

	if _, err := b.Get(context.Background(), anchorAddr, "ETH"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	b.Invalidate(anchorAddr, "ETH")

	now := time.Now()
	events := []ingestion.UnifiedEvent{
		{Network: "ETH", TxHash: "0xnew", BlockNumber: 1, Timestamp: now.Unix(), From: anchorAddr, To: counterpartyOne, TokenAddress: usdcAddr, Amount: "10", EventType: ingestion.EventTransfer},
	}
	for i := range events {
		events[i].EventID = ingestion.ComputeEventID(events[i].Network, events[i].TxHash, events[i].LogIndex)
	}
	if _, err := store.InsertMany(context.Background(), events); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	res, err := b.Get(context.Background(), anchorAddr, "ETH")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Analytics.TxCount != 1 {
		t.Errorf("expected invalidated cache to recompute and see the new event, got txCount=%d", res.Analytics.TxCount)
	}
}

func TestBatchComputePreservesInputOrder(t *testing.T) {
	now := time.Now()
	addrs := []string{
		"0xbatch00000000000000000000000000000001",
		"0xbatch00000000000000000000000000000002",
		"0xbatch00000000000000000000000000000003",
		"0xbatch00000000000000000000000000000004",
	}

	var events []ingestion.UnifiedEvent
	for i, addr := range addrs {
		events = append(events, ingestion.UnifiedEvent{
			Network: "ETH", TxHash: "0xbtx" + itoaTest(i), BlockNumber: uint64(i + 1), Timestamp: now.Unix(),
			From: addr, To: counterpartyOne, TokenAddress: usdcAddr, Amount: "10", EventType: ingestion.EventTransfer,
		})
	}
	store := seedStore(t, events)
	b := NewNodeAnalyticsBuilder(store, price.StaticProvider{Prices: map[string]float64{usdcAddr: 1.0}}, nil, time.Hour)

	results, err := b.BatchCompute(context.Background(), addrs, "ETH")
	if err != nil {
		t.Fatalf("BatchCompute: %v", err)
	}
	if len(results) != len(addrs) {
		t.Fatalf("expected %d results, got %d", len(addrs), len(results))
	}
	for i, addr := range addrs {
		if results[i].Analytics.Address != addr {
			t.Errorf("result %d: expected address %s, got %s", i, addr, results[i].Analytics.Address)
		}
	}
}

func TestTopKByInfluenceOrdersDescending(t *testing.T) {
	now := time.Now()
	addrLowActivity := "0xlow00000000000000000000000000000000001"
	addrHighActivity := "0xhigh000000000000000000000000000000001"

	var events []ingestion.UnifiedEvent
	events = append(events, ingestion.UnifiedEvent{
		Network: "ETH", TxHash: "0xlowtx", BlockNumber: 1, Timestamp: now.Unix(),
		From: addrLowActivity, To: counterpartyOne, TokenAddress: usdcAddr, Amount: "10", EventType: ingestion.EventTransfer,
	})
	for i := 0; i < 10; i++ {
		events = append(events, ingestion.UnifiedEvent{
			Network: "ETH", TxHash: "0xhightx" + itoaTest(i), BlockNumber: uint64(i + 2), Timestamp: now.Unix(),
			From: addrHighActivity, To: counterpartyOne, TokenAddress: usdcAddr, Amount: "1000", EventType: ingestion.EventTransfer,
		})
	}
	store := seedStore(t, events)
	prices := price.StaticProvider{Prices: map[string]float64{usdcAddr: 1.0}}
	b := NewNodeAnalyticsBuilder(store, prices, nil, time.Hour)

	top, err := b.TopKByInfluence(context.Background(), []string{addrLowActivity, addrHighActivity}, "ETH", 2)
	if err != nil {
		t.Fatalf("TopKByInfluence: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 results, got %d", len(top))
	}
	if top[0].Address != addrHighActivity {
		t.Errorf("expected the high-activity address to rank first, got %s", top[0].Address)
	}
}
