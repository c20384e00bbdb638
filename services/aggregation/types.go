// Package aggregation rolls the unified event ledger into per-edge
// relation aggregates, per-address node analytics, per-entity holdings
// and flows, and periodic frozen snapshots of all three.
package aggregation

import "time"

// Direction is an edge's orientation relative to the anchor address a
// relation query was made for.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// ConfidenceLevel buckets a relation's numeric confidence score.
type ConfidenceLevel string

const (
	ConfidenceLow       ConfidenceLevel = "LOW"
	ConfidenceMedium    ConfidenceLevel = "MEDIUM"
	ConfidenceHigh      ConfidenceLevel = "HIGH"
	ConfidenceVeryHigh  ConfidenceLevel = "VERY_HIGH"
)

// AggregatedRelation is a directed edge aggregate between two addresses on
// one network, derived by C8 from recent ledger activity.
type AggregatedRelation struct {
	From            string          `db:"from_address" json:"from"`
	To              string          `db:"to_address" json:"to"`
	Network         string          `db:"network" json:"network"`
	TxCount         int             `db:"tx_count" json:"txCount"`
	VolumeUSD       float64         `db:"volume_usd" json:"volumeUsd"`
	VolumeNative    string          `db:"volume_native" json:"volumeNative"`
	AvgTxSize       float64         `db:"avg_tx_size" json:"avgTxSize"`
	FirstSeen       time.Time       `db:"first_seen" json:"firstSeen"`
	LastSeen        time.Time       `db:"last_seen" json:"lastSeen"`
	Direction       Direction       `db:"direction" json:"direction"`
	Counterparty    string          `db:"counterparty" json:"counterparty"`
	Tokens          []string        `db:"-" json:"tokens"`
	Confidence      float64         `db:"confidence" json:"confidence"`
	ConfidenceLevel ConfidenceLevel `db:"confidence_level" json:"confidenceLevel"`
	Weight          float64         `db:"weight" json:"weight"`
	EntityType      string          `db:"entity_type" json:"entityType,omitempty"`
	EntityName      string          `db:"entity_name" json:"entityName,omitempty"`
}

// NodeAnalytics is a per-address, per-network analytics record built by C9.
type NodeAnalytics struct {
	Address         string    `db:"address" json:"address"`
	Network         string    `db:"network" json:"network"`
	InVolumeUSD     float64   `db:"in_volume_usd" json:"inVolumeUsd"`
	OutVolumeUSD    float64   `db:"out_volume_usd" json:"outVolumeUsd"`
	TotalVolumeUSD  float64   `db:"total_volume_usd" json:"totalVolumeUsd"`
	NetFlowUSD      float64   `db:"net_flow_usd" json:"netFlowUsd"`
	InTxCount       int       `db:"in_tx_count" json:"inTxCount"`
	OutTxCount      int       `db:"out_tx_count" json:"outTxCount"`
	TxCount         int       `db:"tx_count" json:"txCount"`
	UniqueInDegree  int       `db:"unique_in_degree" json:"uniqueInDegree"`
	UniqueOutDegree int       `db:"unique_out_degree" json:"uniqueOutDegree"`
	HubScore        float64   `db:"hub_score" json:"hubScore"`
	FirstSeen       time.Time `db:"first_seen" json:"firstSeen"`
	LastSeen        time.Time `db:"last_seen" json:"lastSeen"`
	RecencyScore    float64   `db:"recency_score" json:"recencyScore"`
	InfluenceScore  float64   `db:"influence_score" json:"influenceScore"`
	ActivityScore   float64   `db:"activity_score" json:"activityScore"`
	EntityType      string    `db:"entity_type" json:"entityType,omitempty"`
	EntityName      string    `db:"entity_name" json:"entityName,omitempty"`
	Tags            []string  `db:"-" json:"tags,omitempty"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// DominantFlow classifies an entity's net per-token flow direction.
type DominantFlow string

const (
	FlowInflow  DominantFlow = "inflow"
	FlowOutflow DominantFlow = "outflow"
	FlowNeutral DominantFlow = "neutral"
)

// EntityHolding is one token's net balance and USD value across an
// entity's addresses.
type EntityHolding struct {
	TokenAddress string  `json:"tokenAddress"`
	NetBalance   string  `json:"netBalance"`
	ValueUSD     float64 `json:"valueUsd"`
	PercentOfAUM float64 `json:"percentOfAum"`
}

// EntityFlowPoint is one day's net USD flow for an entity.
type EntityFlowPoint struct {
	Date      string  `json:"date"`
	NetUSD    float64 `json:"netUsd"`
	InflowUSD float64 `json:"inflowUsd"`
	OutflowUSD float64 `json:"outflowUsd"`
}

// EntityTokenFlow is the per-token flow breakdown alongside the daily series.
type EntityTokenFlow struct {
	TokenAddress  string       `json:"tokenAddress"`
	InflowUSD     float64      `json:"inflowUsd"`
	OutflowUSD    float64      `json:"outflowUsd"`
	DominantFlow  DominantFlow `json:"dominantFlow"`
}

// BridgeDirection classifies a detected bridge transfer.
type BridgeDirection string

const (
	BridgeL1ToL2  BridgeDirection = "L1→L2"
	BridgeL2ToL1  BridgeDirection = "L2→L1"
	BridgeCross   BridgeDirection = "Cross-chain"
)

// BridgeActivity groups an entity's transfers through a known bridge
// contract by destination chain and direction.
type BridgeActivity struct {
	BridgeName    string          `json:"bridgeName"`
	ToChain       string          `json:"toChain"`
	Direction     BridgeDirection `json:"direction"`
	TxCount       int             `json:"txCount"`
	VolumeUSD     float64         `json:"volumeUsd"`
}

// EntityReport is the full C10 output for one entity.
type EntityReport struct {
	EntityName string            `json:"entityName"`
	Holdings   []EntityHolding   `json:"holdings"`
	Flows      []EntityFlowPoint `json:"flows"`
	TokenFlows []EntityTokenFlow `json:"tokenFlows"`
	Bridges    []BridgeActivity  `json:"bridges"`
}

// SnapshotWindow is the closed set of windows C13 materializes.
type SnapshotWindow string

const (
	Window24h SnapshotWindow = "24h"
	Window7d  SnapshotWindow = "7d"
	Window30d SnapshotWindow = "30d"
)

// SnapshotActor is one address's flow metrics within a snapshot.
type SnapshotActor struct {
	Address            string  `json:"address"`
	Network            string  `json:"network"`
	VolumeUSD          float64 `json:"volumeUsd"`
	TxCount            int     `json:"txCount"`
	BurstScore         float64 `json:"burstScore"`
	ParticipationTrend float64 `json:"participationTrend"`
}

// SnapshotEdge is one weighted corridor within a snapshot.
type SnapshotEdge struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Network string  `json:"network"`
	Weight  float64 `json:"weight"`
}

// SnapshotStats summarizes a snapshot's scope.
type SnapshotStats struct {
	ActorCount    int     `json:"actorCount"`
	EdgeCount     int     `json:"edgeCount"`
	AvgVolumeUSD  float64 `json:"avgVolumeUsd"`
}

// SignalSnapshot is a frozen, window-scoped view over C8 (relation) and C9
// (node analytics) outputs; C10 entity reports are not read into it.
type SignalSnapshot struct {
	SnapshotID string          `db:"snapshot_id" json:"snapshotId"`
	Window     SnapshotWindow  `db:"window" json:"window"`
	SnapshotAt time.Time       `db:"snapshot_at" json:"snapshotAt"`
	Actors     []SnapshotActor `db:"-" json:"actors"`
	Edges      []SnapshotEdge  `db:"-" json:"edges"`
	Stats      SnapshotStats   `db:"-" json:"stats"`
}
