package config

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/continuity/block"
	"github.com/tolelom/continuity/crypto"
	"github.com/tolelom/continuity/dag"
)

// LedgerConfigOperation is the opaque operation payload carried by the
// genesis ledger's first regular event: it is how the initial witness
// set becomes part of the DAG itself instead of living only in
// out-of-band config, so any peer that syncs from genesis can recover it.
type LedgerConfigOperation struct {
	Type      string   `json:"type"`
	LedgerID  string   `json:"ledgerId"`
	Witnesses []string `json:"witnesses"`
}

// Genesis bundles the two founding events and the trivial block #0 that
// commits them.
type Genesis struct {
	MergeEvent  *dag.Event
	ConfigEvent *dag.Event
	Block       *block.Block
}

// CreateGenesis builds and signs the genesis merge event (no parents, per
// dag.Event.IsGenesis), the ledger-configuration regular event that
// descends from it, and the height-0 block that commits both. Unlike
// later blocks, its consensusProof is the genesis merge event's own hash:
// there is no quorum to reach yet, so the proof is definitional rather
// than derived (spec.md §4.1).
func CreateGenesis(cfg *Config, founderPriv crypto.PrivateKey, timestamp int64) (*Genesis, error) {
	founderPub := founderPriv.Public()

	mergeEvent := &dag.Event{
		Kind:    dag.KindMerge,
		Creator: founderPub.Hex(),
	}
	if err := mergeEvent.Sign(founderPriv); err != nil {
		return nil, fmt.Errorf("config: sign genesis merge event: %w", err)
	}

	payload, err := json.Marshal(LedgerConfigOperation{
		Type:      "ledger_config",
		LedgerID:  cfg.Genesis.LedgerID,
		Witnesses: cfg.Genesis.Witnesses,
	})
	if err != nil {
		return nil, fmt.Errorf("config: marshal ledger config operation: %w", err)
	}

	configEvent := &dag.Event{
		Kind:        dag.KindRegular,
		Creator:     founderPub.Hex(),
		TreeHash:    mergeEvent.EventHash,
		ParentHash:  []string{mergeEvent.EventHash},
		MergeHeight: mergeEvent.MergeHeight + 1,
		Operation:   payload,
	}
	if err := configEvent.Sign(founderPriv); err != nil {
		return nil, fmt.Errorf("config: sign ledger config event: %w", err)
	}

	genesisBlock, err := block.New(0, "", []string{mergeEvent.EventHash, configEvent.EventHash}, []string{mergeEvent.EventHash}, timestamp)
	if err != nil {
		return nil, fmt.Errorf("config: build genesis block: %w", err)
	}

	return &Genesis{MergeEvent: mergeEvent, ConfigEvent: configEvent, Block: genesisBlock}, nil
}
