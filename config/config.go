package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tolelom/continuity/merge"
	"github.com/tolelom/continuity/peer"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote node to pull from on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // remote node ID
	Addr string `json:"addr"` // http(s)://host:port
}

// GenesisConfig describes a ledger's initial witness set, per spec.md
// §4.1: the first block's consensusProof is trivial (its own merge
// event), so there is no alloc/balance concept to seed here.
type GenesisConfig struct {
	LedgerID  string   `json:"ledger_id"`
	Witnesses []string `json:"witnesses"` // authorised initial witness pubkey hexes
}

// ThresholdsConfig is the typed threshold struct spec.md §9 REDESIGN
// FLAGS calls for, replacing ad-hoc merge-time constants with config
// fields that round-trip into merge.Config.
type ThresholdsConfig struct {
	WitnessTargetThreshold  string  `json:"witness_target_threshold"`
	WitnessMinimumThreshold string  `json:"witness_minimum_threshold"`
	PeerMinimumThreshold    string  `json:"peer_minimum_threshold"`
	OperationReadyChance    float64 `json:"operation_ready_chance"`
}

// ToMergeConfig converts to the merge package's runtime type.
func (t ThresholdsConfig) ToMergeConfig() merge.Config {
	return merge.Config{
		WitnessTargetThreshold:  t.WitnessTargetThreshold,
		WitnessMinimumThreshold: t.WitnessMinimumThreshold,
		PeerMinimumThreshold:    t.PeerMinimumThreshold,
		OperationReadyChance:    t.OperationReadyChance,
	}
}

func thresholdsFromMergeConfig(c merge.Config) ThresholdsConfig {
	return ThresholdsConfig{
		WitnessTargetThreshold:  c.WitnessTargetThreshold,
		WitnessMinimumThreshold: c.WitnessMinimumThreshold,
		PeerMinimumThreshold:    c.PeerMinimumThreshold,
		OperationReadyChance:    c.OperationReadyChance,
	}
}

// ReputationConfig is the typed form of peer.Config (spec.md §4.2).
type ReputationConfig struct {
	MaxFailure                 int64 `json:"max_failure"`
	MinFailure                 int64 `json:"min_failure"`
	MaxFailureGracePeriod      int64 `json:"max_failure_grace_period"`
	MaxIdle                    int64 `json:"max_idle"`
	MinIdle                    int64 `json:"min_idle"`
	MaxIdleGracePeriod         int64 `json:"max_idle_grace_period"`
	PositiveReputationCapacity int   `json:"positive_reputation_capacity"`
}

// ToPeerConfig converts to the peer package's runtime type.
func (r ReputationConfig) ToPeerConfig() peer.Config {
	return peer.Config{
		MaxFailure:                 r.MaxFailure,
		MinFailure:                 r.MinFailure,
		MaxFailureGracePeriod:      r.MaxFailureGracePeriod,
		MaxIdle:                    r.MaxIdle,
		MinIdle:                    r.MinIdle,
		MaxIdleGracePeriod:         r.MaxIdleGracePeriod,
		PositiveReputationCapacity: r.PositiveReputationCapacity,
	}
}

func reputationFromPeerConfig(c peer.Config) ReputationConfig {
	return ReputationConfig{
		MaxFailure:                 c.MaxFailure,
		MinFailure:                 c.MinFailure,
		MaxFailureGracePeriod:      c.MaxFailureGracePeriod,
		MaxIdle:                    c.MaxIdle,
		MinIdle:                    c.MinIdle,
		MaxIdleGracePeriod:         c.MaxIdleGracePeriod,
		PositiveReputationCapacity: c.PositiveReputationCapacity,
	}
}

// Config holds all node configuration.
type Config struct {
	NodeID            string           `json:"node_id"`
	DataDir           string           `json:"data_dir"`
	RPCPort           int              `json:"rpc_port"`
	GossipPort        int              `json:"gossip_port"`
	MaxOperationBytes int              `json:"max_operation_bytes"` // 0 → validator.DefaultMaxOperationBytes
	Genesis           GenesisConfig    `json:"genesis"`
	SeedPeers         []SeedPeer       `json:"seed_peers,omitempty"`
	TLS               *TLSConfig       `json:"tls,omitempty"`
	RPCAuthToken      string           `json:"rpc_auth_token,omitempty"`
	Thresholds        ThresholdsConfig `json:"thresholds"`
	Reputation        ReputationConfig `json:"reputation"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:     "node0",
		DataDir:    "./data",
		RPCPort:    8545,
		GossipPort: 30303,
		Genesis: GenesisConfig{
			LedgerID:  "continuity-dev",
			Witnesses: []string{},
		},
		Thresholds: thresholdsFromMergeConfig(merge.DefaultConfig()),
		Reputation: reputationFromPeerConfig(peer.DefaultConfig()),
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.LedgerID == "" {
		return fmt.Errorf("genesis.ledger_id must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.GossipPort <= 0 || c.GossipPort > 65535 {
		return fmt.Errorf("gossip_port must be 1-65535, got %d", c.GossipPort)
	}
	if c.RPCPort == c.GossipPort {
		return fmt.Errorf("rpc_port and gossip_port must not be the same (%d)", c.RPCPort)
	}
	if len(c.Genesis.Witnesses) == 0 {
		return fmt.Errorf("genesis.witnesses list must not be empty")
	}
	for i, w := range c.Genesis.Witnesses {
		b, err := hex.DecodeString(w)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("genesis.witnesses[%d]: must be 64-char hex (32 bytes ed25519 pubkey), got %q", i, w)
		}
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
