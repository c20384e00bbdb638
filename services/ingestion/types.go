// Package ingestion implements the chain-ingestion pipeline: fetching raw
// transfer logs per network, planning gap-free block windows, advancing a
// per-chain sync state machine, guarding against replayed events, and
// persisting the result to the unified event ledger.
package ingestion

import "time"

// SyncStatus is the per-chain health state tracked by ChainSyncState.
type SyncStatus string

const (
	StatusOK       SyncStatus = "OK"
	StatusDegraded SyncStatus = "DEGRADED"
	StatusPaused   SyncStatus = "PAUSED"
	StatusError    SyncStatus = "ERROR"
)

// WindowReason tags why a BlockWindow was sized the way it was.
type WindowReason string

const (
	ReasonNormal   WindowReason = "NORMAL"
	ReasonCatchup  WindowReason = "CATCHUP"
	ReasonBackfill WindowReason = "BACKFILL"
	ReasonRecovery WindowReason = "RECOVERY"
)

// IngestionSource tags how a UnifiedEvent entered the ledger.
type IngestionSource string

const (
	SourceRPC       IngestionSource = "rpc"
	SourceBackfill  IngestionSource = "backfill"
	SourceBootstrap IngestionSource = "bootstrap"
)

// EventType enumerates the kinds of normalized events the ledger stores.
// The set is closed; unknown tags are rejected at the adapter boundary.
type EventType string

const (
	EventTransfer EventType = "TRANSFER"
)

// UnifiedEvent is the network-agnostic, normalized ledger row that every
// aggregation component reads. (network, txHash, logIndex) uniquely
// identifies an event; re-insertion is a no-op enforced by the replay
// guard's content-addressable EventID.
type UnifiedEvent struct {
	EventID         string          `db:"event_id" json:"eventId"`
	Network         string          `db:"network" json:"network"`
	ChainID         int64           `db:"chain_id" json:"chainId"`
	TxHash          string          `db:"tx_hash" json:"txHash"`
	LogIndex        int             `db:"log_index" json:"logIndex"`
	BlockNumber     uint64          `db:"block_number" json:"blockNumber"`
	Timestamp       int64           `db:"timestamp" json:"timestamp"`
	From            string          `db:"from_address" json:"from"`
	To              string          `db:"to_address" json:"to"`
	TokenAddress    string          `db:"token_address" json:"tokenAddress,omitempty"`
	Amount          string          `db:"amount" json:"amount"`
	AmountUSD       *float64        `db:"amount_usd" json:"amountUsd,omitempty"`
	EventType       EventType       `db:"event_type" json:"eventType"`
	IngestionSource IngestionSource `db:"ingestion_source" json:"ingestionSource"`
}

// ChainSyncState is the single source of truth for one network's ingestion
// progress. All writes go through SyncStateStore's mutex-guarded methods;
// only C3 mutates this record.
type ChainSyncState struct {
	Network             string     `db:"network" json:"network"`
	LastSyncedBlock     uint64     `db:"last_synced_block" json:"lastSyncedBlock"`
	LastHeadBlock       uint64     `db:"last_head_block" json:"lastHeadBlock"`
	Status              SyncStatus `db:"status" json:"status"`
	PauseReason         string     `db:"pause_reason" json:"pauseReason,omitempty"`
	ErrorCount          int        `db:"error_count" json:"errorCount"`
	ConsecutiveErrors   int        `db:"consecutive_errors" json:"consecutiveErrors"`
	LastError           string     `db:"last_error" json:"lastError,omitempty"`
	LastErrorAt         *time.Time `db:"last_error_at" json:"lastErrorAt,omitempty"`
	LastSuccessAt       *time.Time `db:"last_success_at" json:"lastSuccessAt,omitempty"`
	TotalEventsIngested int64      `db:"total_events_ingested" json:"totalEventsIngested"`
	AvgEventsPerBlock   float64    `db:"avg_events_per_block" json:"avgEventsPerBlock"`
	AvgLatencyMs        float64    `db:"avg_latency_ms" json:"avgLatencyMs"`
}

// Lag returns the number of blocks this chain is behind its last observed
// head — the principal health signal consulted by C12.
func (s ChainSyncState) Lag() uint64 {
	if s.LastHeadBlock <= s.LastSyncedBlock {
		return 0
	}
	return s.LastHeadBlock - s.LastSyncedBlock
}

// BlockWindow is the ephemeral, validated fetch plan C4 hands to C1.
type BlockWindow struct {
	Network        string       `json:"network"`
	FromBlock      uint64       `json:"fromBlock"`
	ToBlock        uint64       `json:"toBlock"`
	WindowSize     uint64       `json:"windowSize"`
	Reason         WindowReason `json:"reason"`
	TargetHead     uint64       `json:"targetHead"`
	LagAfterWindow uint64       `json:"lagAfterWindow"`
}

// RpcProvider is one endpoint in a network's pool, with live runtime
// counters. Only C2 mutates the runtime fields.
type RpcProvider struct {
	ProviderID    string        `json:"providerId"`
	URL           string        `json:"-"`
	Weight        int           `json:"weight"`
	RateLimit     int           `json:"rateLimit"` // requests/minute
	CooldownMs    int64         `json:"cooldownMs"`
	Enabled       bool          `json:"enabled"`
	RequestCount  int64         `json:"requestCount"`
	ErrorCount    int64         `json:"errorCount"`
	InFlight      int32         `json:"inFlight"`
	LastError     string        `json:"lastError,omitempty"`
	CooldownUntil time.Time     `json:"cooldownUntil,omitempty"`
	Timeout       time.Duration `json:"-"`
}

// RawEvent is what C1.fetch returns before normalization: a single decoded
// ERC-20 Transfer log, still carrying hex-formatted fields.
type RawEvent struct {
	Network      string
	TxHash       string
	LogIndex     int
	BlockNumber  uint64
	BlockTime    *int64 // nil if the block timestamp could not be retrieved
	FromHex      string
	ToHex        string
	TokenAddress string
	AmountHex    string
}
