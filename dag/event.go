// Package dag implements the event store described in spec.md §3: the
// append-only, content-addressed DAG of regular and merge events that
// underlies the ledger. It owns event hashing/signing, structural
// validation, and the node-local indices the gossip, merge, and
// consensus packages read from.
package dag

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/continuity/crypto"
)

// Kind distinguishes a creator's own regular events (one operation, one
// parent) from merge events (no operation, one or more parents, exactly
// one of which is the creator's own chain).
type Kind string

const (
	KindRegular Kind = "regular"
	KindMerge   Kind = "merge"
)

// Meta is node-local bookkeeping around an Event. It is never part of the
// signed/hashed form and is never gossiped.
type Meta struct {
	Consensus     bool  `json:"consensus"`
	ConsensusDate int64 `json:"consensusDate,omitempty"`
	Created       int64 `json:"created"`
	Updated       int64 `json:"updated"`
}

// Event is a single DAG node: a regular event carrying one opaque
// operation, or a merge event carrying none. See spec.md §3 for the full
// field semantics and invariants.
type Event struct {
	EventHash        string          `json:"eventHash"`
	Kind             Kind            `json:"kind"`
	Creator          string          `json:"creator"` // hex-encoded ed25519 public key
	TreeHash         string          `json:"treeHash,omitempty"`
	ParentHash       []string        `json:"parentHash"`
	BasisBlockHeight int64           `json:"basisBlockHeight"`
	MergeHeight      int64           `json:"mergeHeight"`
	Operation        json.RawMessage `json:"operation,omitempty"`
	Signature        string          `json:"signature"`
}

// Record pairs a stored Event with its node-local Meta.
type Record struct {
	Event Event `json:"event"`
	Meta  Meta  `json:"meta"`
}

// body is the subset of Event fields that make up the hashed/signed
// content: eventHash and signature are themselves derived from it and so
// are excluded (spec.md §3 invariant 2).
type body struct {
	Kind             Kind            `json:"kind"`
	Creator          string          `json:"creator"`
	TreeHash         string          `json:"treeHash,omitempty"`
	ParentHash       []string        `json:"parentHash"`
	BasisBlockHeight int64           `json:"basisBlockHeight"`
	MergeHeight      int64           `json:"mergeHeight"`
	Operation        json.RawMessage `json:"operation,omitempty"`
}

func (e *Event) body() body {
	return body{
		Kind:             e.Kind,
		Creator:          e.Creator,
		TreeHash:         e.TreeHash,
		ParentHash:       e.ParentHash,
		BasisBlockHeight: e.BasisBlockHeight,
		MergeHeight:      e.MergeHeight,
		Operation:        e.Operation,
	}
}

// ComputeHash returns e's content hash: the multibase-encoded blake2b-256
// digest of e's canonical body.
func (e *Event) ComputeHash() (string, error) {
	data, err := Canonicalize(e.body())
	if err != nil {
		return "", fmt.Errorf("event: compute hash: %w", err)
	}
	return crypto.Hash(data), nil
}

// Sign computes e's EventHash from its current body and signs it with
// priv, setting both EventHash and Signature. Call this last, after every
// other field is in its final form.
func (e *Event) Sign(priv crypto.PrivateKey) error {
	hash, err := e.ComputeHash()
	if err != nil {
		return err
	}
	e.EventHash = hash
	e.Signature = crypto.Sign(priv, []byte(hash))
	return nil
}

// Verify recomputes e's content hash and checks it against EventHash, then
// checks Signature against that hash using pub. Both must hold for e to be
// accepted (spec.md §4.1 validation order, steps 2-3).
func (e *Event) Verify(pub crypto.PublicKey) error {
	computed, err := e.ComputeHash()
	if err != nil {
		return err
	}
	if computed != e.EventHash {
		return fmt.Errorf("event hash mismatch: stored %s computed %s", e.EventHash, computed)
	}
	return crypto.Verify(pub, []byte(e.EventHash), e.Signature)
}

func (e *Event) IsMerge() bool   { return e.Kind == KindMerge }
func (e *Event) IsRegular() bool { return e.Kind == KindRegular }

// IsGenesis reports whether e is the ledger's genesis merge event: the
// unique merge event with no parents at all.
func (e *Event) IsGenesis() bool {
	return e.Kind == KindMerge && len(e.ParentHash) == 0
}
