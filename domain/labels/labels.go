// Package labels holds the static, versioned entity and bridge label maps
// that C8/C9/C10 consult to annotate addresses. Updating these maps is a
// deployment event, not a runtime mutation — callers receive immutable
// snapshots, never a module-level singleton to mutate in place.
package labels

import "strings"

// Entity describes a known counterparty address.
type Entity struct {
	Type string // e.g. "EXCHANGE", "PROTOCOL", "BRIDGE"
	Name string
}

// Bridge describes a known bridge contract and the chain it connects to.
type Bridge struct {
	Name    string
	ToChain string
}

// Map is an immutable snapshot of the known-entity and bridge-contract
// label tables, keyed by lowercased address.
type Map struct {
	entities map[string]Entity
	bridges  map[string]Bridge
}

// NewMap builds a Map from entity and bridge tables keyed by address in any
// case; keys are normalized to lowercase internally.
func NewMap(entities map[string]Entity, bridges map[string]Bridge) *Map {
	m := &Map{
		entities: make(map[string]Entity, len(entities)),
		bridges:  make(map[string]Bridge, len(bridges)),
	}
	for addr, e := range entities {
		m.entities[strings.ToLower(addr)] = e
	}
	for addr, b := range bridges {
		m.bridges[strings.ToLower(addr)] = b
	}
	return m
}

// Entity looks up a known entity by address.
func (m *Map) Entity(address string) (Entity, bool) {
	if m == nil {
		return Entity{}, false
	}
	e, ok := m.entities[strings.ToLower(address)]
	return e, ok
}

// Bridge looks up a known bridge contract by address.
func (m *Map) Bridge(address string) (Bridge, bool) {
	if m == nil {
		return Bridge{}, false
	}
	b, ok := m.bridges[strings.ToLower(address)]
	return b, ok
}

// IsBridge reports whether address is a known bridge contract.
func (m *Map) IsBridge(address string) bool {
	_, ok := m.Bridge(address)
	return ok
}

// Default returns a small seed map of well-known hot wallets, protocol
// routers, and bridge contracts. Deployments are expected to override this
// with their own curated table via configuration; this exists so the core
// has a sane starting point and so tests do not need to fabricate one.
func Default() *Map {
	return NewMap(
		map[string]Entity{
			"0x28c6c06298d514db089934071355e5743bf21d60": {Type: "EXCHANGE", Name: "Binance 14"},
			"0xdfd5293d8e347dfe59e90efd55b2956a1343963d": {Type: "EXCHANGE", Name: "Binance 7"},
			"0x3304e22ddaa22bcdc5fca2269b418046ae7424a2": {Type: "EXCHANGE", Name: "Binance 15"},
			"0x7a250d5630b4cf539739df2c5dacb4c659f2488d": {Type: "PROTOCOL", Name: "Uniswap V2 Router"},
			"0xe592427a0aece92de3edee1f18e0157c05861564": {Type: "PROTOCOL", Name: "Uniswap V3 Router"},
			"0x68b3465833fb72a70ecdf485e0e4c7bd8665fc45": {Type: "PROTOCOL", Name: "Uniswap V3 Router 2"},
		},
		map[string]Bridge{
			"0x8ea8dc3b3e09d02dd4e88e0c0eae1e17e9be7b2a": {Name: "Arbitrum Bridge", ToChain: "ARB"},
			"0x99c9fc46f92e8a1c0dec1b1747d010903e884be1": {Name: "Optimism Bridge", ToChain: "OP"},
			"0x3154cf16ccdb4c6d922629664174b904d80f2c35": {Name: "Base Bridge", ToChain: "BASE"},
		},
	)
}
