package ingestion

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flowscope/iac/domain/network"
)

// ProviderConfig is the configuration-time shape of one RPC endpoint,
// before C2 wraps it with runtime counters.
type ProviderConfig struct {
	ProviderID string
	URL        string
	Weight     int
	RateLimit  int // requests/minute
	CooldownMs int64
	Enabled    bool
}

// NetworkConfig holds everything C6 needs to drive one chain's worker loop.
type NetworkConfig struct {
	Network          network.ID
	Providers        []ProviderConfig
	StartBlock       uint64
	MaxWindowSize    uint64 // 0 means use the built-in per-chain default
	HeadBufferBlocks uint64
}

// Config holds the ingestion core's full runtime configuration: storage,
// per-network provider tables, window overrides, and loop timing.
type Config struct {
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	Networks []NetworkConfig

	QuantumWindows   int // validated to be >= 1; the chain loops run windows back to back and never read it
	BackfillBurst    int // not read by the orchestrator; BACKFILL/CATCHUP windows get no extra burst
	IdleSleep        time.Duration
	RequestTimeout   time.Duration
	MaxBackoff       time.Duration
	ErrorResetPeriod time.Duration // cadence at which Orchestrator.Run calls SyncStateStore.ResetErrorCounts
}

// DefaultConfig returns a Config with conservative defaults and no
// networks configured; LoadFromEnv or the caller must populate Networks.
func DefaultConfig() *Config {
	return &Config{
		PostgresPort:     5432,
		PostgresDB:       "iac",
		PostgresUser:     "iac",
		PostgresSSLMode:  "require",
		QuantumWindows:   1,
		BackfillBurst:    4,
		IdleSleep:        5 * time.Second,
		RequestTimeout:   30 * time.Second,
		MaxBackoff:       2 * time.Minute,
		ErrorResetPeriod: 5 * time.Minute,
	}
}

// LoadFromEnv loads configuration from environment variables, all prefixed
// IAC_ to keep this core's credentials isolated from any co-located
// service. Network/provider tables use an IAC_NET_<NETWORK>_* scheme keyed
// by each network tag listed in IAC_NETWORKS.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("IAC_POSTGRES_HOST"); v != "" {
		cfg.PostgresHost = v
	}
	if v := os.Getenv("IAC_POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.PostgresPort = p
		}
	}
	if v := os.Getenv("IAC_POSTGRES_DB"); v != "" {
		cfg.PostgresDB = v
	}
	if v := os.Getenv("IAC_POSTGRES_USER"); v != "" {
		cfg.PostgresUser = v
	}
	if v := os.Getenv("IAC_POSTGRES_PASSWORD"); v != "" {
		cfg.PostgresPassword = v
	}
	if v := os.Getenv("IAC_POSTGRES_SSLMODE"); v != "" {
		cfg.PostgresSSLMode = v
	}

	if v := os.Getenv("IAC_NETWORKS"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			id, ok := network.Parse(raw)
			if !ok {
				continue
			}
			nc := NetworkConfig{Network: id, HeadBufferBlocks: 5}
			envPrefix := "IAC_NET_" + string(id) + "_"
			if rpc := os.Getenv(envPrefix + "RPC_URLS"); rpc != "" {
				for i, url := range strings.Split(rpc, ",") {
					nc.Providers = append(nc.Providers, ProviderConfig{
						ProviderID: fmt.Sprintf("%s-%d", id, i),
						URL:        strings.TrimSpace(url),
						Weight:     1,
						RateLimit:  300,
						Enabled:    true,
					})
				}
			}
			if start := os.Getenv(envPrefix + "START_BLOCK"); start != "" {
				if s, err := strconv.ParseUint(start, 10, 64); err == nil {
					nc.StartBlock = s
				}
			}
			if win := os.Getenv(envPrefix + "MAX_WINDOW"); win != "" {
				if w, err := strconv.ParseUint(win, 10, 64); err == nil {
					nc.MaxWindowSize = w
				}
			}
			cfg.Networks = append(cfg.Networks, nc)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is complete enough to start the
// orchestrator.
func (c *Config) Validate() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("IAC_POSTGRES_HOST is required")
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("IAC_POSTGRES_PASSWORD is required")
	}
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network is required")
	}
	seen := make(map[network.ID]bool, len(c.Networks))
	for _, n := range c.Networks {
		if !n.Network.Valid() {
			return fmt.Errorf("invalid network: %s", n.Network)
		}
		if seen[n.Network] {
			return fmt.Errorf("duplicate network: %s", n.Network)
		}
		seen[n.Network] = true
		if len(n.Providers) == 0 {
			return fmt.Errorf("network %s has no configured RPC providers", n.Network)
		}
	}
	if c.QuantumWindows < 1 {
		return fmt.Errorf("quantum windows must be >= 1")
	}
	return nil
}

// GetPostgresDSN returns the PostgreSQL connection string.
func (c *Config) GetPostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresDB,
		c.PostgresUser, c.PostgresPassword, c.PostgresSSLMode,
	)
}

// NetworkConfigFor looks up the configuration for one network, or ok=false if
// it is not configured.
func (c *Config) NetworkConfigFor(id network.ID) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if n.Network == id {
			return n, true
		}
	}
	return NetworkConfig{}, false
}
