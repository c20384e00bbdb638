package ingestion

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/flowscope/iac/domain/network"
	ierrors "github.com/flowscope/iac/infrastructure/errors"
	"github.com/flowscope/iac/infrastructure/logging"
	"github.com/flowscope/iac/infrastructure/metrics"
	"github.com/flowscope/iac/infrastructure/resilience"
)

// erc20TransferTopic0 is keccak256("Transfer(address,address,uint256)"),
// the only log topic C1 subscribes to.
const erc20TransferTopic0 = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	LogIndex    string   `json:"logIndex"`
}

type rpcBlock struct {
	Timestamp string `json:"timestamp"`
}

// ChainAdapter is the single point of contact with one network's JSON-RPC
// endpoints: it fetches raw ERC-20 Transfer logs and normalizes them into
// ledger-ready events. All other components operate on network-agnostic
// types and never speak JSON-RPC directly.
type ChainAdapter struct {
	network    network.ID
	pool       *ProviderPool
	httpClient *http.Client
	timeout    time.Duration
	log        *logrus.Entry
	metrics    *metrics.Metrics
}

// NewChainAdapter constructs an adapter bound to one network's provider
// pool.
func NewChainAdapter(id network.ID, pool *ProviderPool, timeout time.Duration) *ChainAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChainAdapter{
		network:    id,
		pool:       pool,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		log:        logging.Default().WithChain(string(id)),
	}
}

// SetMetrics attaches a metrics sink that every RPC call records duration
// and outcome against; nil disables recording.
func (a *ChainAdapter) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// LatestBlock returns the chain's current head block number via
// eth_blockNumber.
func (a *ChainAdapter) LatestBlock(ctx context.Context) (uint64, error) {
	var raw string
	if err := a.call(ctx, "eth_blockNumber", nil, &raw); err != nil {
		return 0, err
	}
	return parseHexUint(raw)
}

// Fetch retrieves every ERC-20 Transfer log in [fromBlock, toBlock] and
// returns it as RawEvent, still carrying hex-formatted fields. Block
// timestamps are resolved per distinct block number, not per log, to keep
// RPC calls proportional to blocks touched rather than logs returned, and
// are resolved concurrently since a window can easily span hundreds of
// distinct blocks.
func (a *ChainAdapter) Fetch(ctx context.Context, fromBlock, toBlock uint64) ([]RawEvent, error) {
	filter := map[string]interface{}{
		"fromBlock": hexUint(fromBlock),
		"toBlock":   hexUint(toBlock),
		"topics":    []string{erc20TransferTopic0},
	}

	var logs []rpcLog
	if err := a.call(ctx, "eth_getLogs", []interface{}{filter}, &logs); err != nil {
		return nil, err
	}

	blockNums := make(map[uint64]struct{})
	events := make([]RawEvent, 0, len(logs))

	for _, l := range logs {
		if len(l.Topics) < 3 {
			// A Transfer log always carries 3 topics (signature, from, to);
			// anything short of that is malformed and is dropped rather
			// than risk normalizing garbage.
			a.log.WithFields(map[string]interface{}{"txHash": l.TxHash}).Warn("skipping log with fewer than 3 topics")
			continue
		}
		blockNum, err := parseHexUint(l.BlockNumber)
		if err != nil {
			continue
		}
		blockNums[blockNum] = struct{}{}
	}

	blockTimes := a.blockTimestamps(ctx, blockNums)

	for _, l := range logs {
		if len(l.Topics) < 3 {
			continue
		}

		blockNum, err := parseHexUint(l.BlockNumber)
		if err != nil {
			continue
		}
		logIndex, err := parseHexUint(l.LogIndex)
		if err != nil {
			continue
		}

		events = append(events, RawEvent{
			Network:      string(a.network),
			TxHash:       l.TxHash,
			LogIndex:     int(logIndex),
			BlockNumber:  blockNum,
			BlockTime:    blockTimes[blockNum],
			FromHex:      l.Topics[1],
			ToHex:        l.Topics[2],
			TokenAddress: l.Address,
			AmountHex:    l.Data,
		})
	}

	return events, nil
}

// blockTimestamps resolves every distinct block number in nums concurrently,
// one goroutine per block, and returns a map from block number to resolved
// timestamp (nil entries mark blocks whose timestamp could not be resolved).
func (a *ChainAdapter) blockTimestamps(ctx context.Context, nums map[uint64]struct{}) map[uint64]*int64 {
	results := make(map[uint64]*int64, len(nums))
	var mu sync.Mutex

	group, gctx := errgroup.WithContext(ctx)
	for blockNum := range nums {
		blockNum := blockNum
		group.Go(func() error {
			ts := a.blockTimestamp(gctx, blockNum)
			mu.Lock()
			results[blockNum] = ts
			mu.Unlock()
			return nil
		})
	}
	// blockTimestamp never returns an error itself and every goroutine
	// returns nil, so Wait always returns nil.
	_ = group.Wait()

	return results
}

// blockTimestamp resolves a block's timestamp, retrying transient RPC
// failures before giving up; it returns nil (rather than an error) once
// retries are exhausted so a single bad block doesn't fail the whole
// window — Normalize falls back to the current time for a nil BlockTime.
func (a *ChainAdapter) blockTimestamp(ctx context.Context, blockNum uint64) *int64 {
	var block rpcBlock
	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
		return a.call(ctx, "eth_getBlockByNumber", []interface{}{hexUint(blockNum), false}, &block)
	})
	if err != nil {
		a.log.WithError(err).Warn("failed to resolve block timestamp, will fall back to ingest time")
		return nil
	}
	ts, err := parseHexUint(block.Timestamp)
	if err != nil {
		return nil
	}
	signed := int64(ts)
	return &signed
}

// Normalize converts raw hex-formatted logs into ledger-ready
// UnifiedEvent records: addresses are lowercased, amounts converted from
// hex to base-10 decimal strings, and missing timestamps degrade to the
// current time rather than blocking ingestion.
func (a *ChainAdapter) Normalize(raws []RawEvent) []UnifiedEvent {
	out := make([]UnifiedEvent, 0, len(raws))
	for _, r := range raws {
		ts := time.Now().Unix()
		if r.BlockTime != nil {
			ts = *r.BlockTime
		}

		out = append(out, UnifiedEvent{
			Network:      r.Network,
			ChainID:      network.ID(r.Network).ChainID(),
			TxHash:       strings.ToLower(r.TxHash),
			LogIndex:     r.LogIndex,
			BlockNumber:  r.BlockNumber,
			Timestamp:    ts,
			From:         topicToAddress(r.FromHex),
			To:           topicToAddress(r.ToHex),
			TokenAddress: strings.ToLower(r.TokenAddress),
			Amount:       hexToDecimalString(r.AmountHex),
			EventType:    EventTransfer,
		})
	}
	return out
}

// call performs one JSON-RPC request against the best available provider
// in the pool, releasing it afterward with the observed outcome.
func (a *ChainAdapter) call(ctx context.Context, method string, params []interface{}, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		if a.metrics == nil {
			return
		}
		status := "success"
		if err != nil {
			status = "failed"
		}
		a.metrics.RecordBlockchainTx("iac", string(a.network), method, status, time.Since(start))
	}()

	provider, err := a.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		a.pool.Release(provider.ProviderID, err)
		return ierrors.Internal("failed to marshal rpc request", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, provider.URL, bytes.NewReader(body))
	if err != nil {
		a.pool.Release(provider.ProviderID, err)
		return ierrors.Internal("failed to build rpc request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.pool.Release(provider.ProviderID, err)
		return ierrors.RPCTransient(provider.ProviderID, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		a.pool.Release(provider.ProviderID, err)
		return ierrors.RPCTransient(provider.ProviderID, err)
	}

	if rpcResp.Error != nil {
		rpcErr := fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
		a.pool.Release(provider.ProviderID, rpcErr)
		return ierrors.RPCTransient(provider.ProviderID, rpcErr)
	}

	a.pool.Release(provider.ProviderID, nil)

	if out == nil {
		return nil
	}
	if s, ok := out.(*string); ok {
		return json.Unmarshal(rpcResp.Result, s)
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func hexUint(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 16, 64)
}

// topicToAddress extracts a 20-byte address from a 32-byte log topic,
// lowercased with a 0x prefix.
func topicToAddress(topic string) string {
	topic = strings.TrimPrefix(topic, "0x")
	if len(topic) < 40 {
		return "0x" + strings.ToLower(topic)
	}
	return "0x" + strings.ToLower(topic[len(topic)-40:])
}

// hexToDecimalString converts a hex-encoded uint256 log data field into
// its base-10 decimal string representation.
func hexToDecimalString(h string) string {
	h = strings.TrimPrefix(h, "0x")
	if h == "" {
		return "0"
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return "0"
	}
	n := new(big.Int).SetBytes(raw)
	return n.String()
}
