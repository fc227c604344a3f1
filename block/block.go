// Package block implements the committed-block layer of spec.md §4.6: a
// Block is the durable record of one ConsensusEngine round, carrying the
// ordered event set and the consensusProof (sorted Y-event hashes) that
// lets any node re-derive why the block was finalized.
package block

import (
	"fmt"

	"github.com/tolelom/continuity/crypto"
	"github.com/tolelom/continuity/dag"
)

// Header is the hashed, chained portion of a Block.
type Header struct {
	Height            int64    `json:"height"`
	PreviousBlockHash string   `json:"previousBlockHash"`
	BlockHash         string   `json:"blockHash"`
	ConsensusProof    []string `json:"consensusProof"`
	EventCount        int      `json:"eventCount"`
	Timestamp         int64    `json:"timestamp"`
}

// Block is a finalized slice of the DAG: the events consensus decided on,
// plus the header that chains it to the previous block.
type Block struct {
	Header Header   `json:"header"`
	Events []string `json:"events"` // event hashes, ordered per consensus.Outcome.BlockEvents
}

// hashedHeader deliberately omits Timestamp as well as BlockHash: two
// honest nodes committing the same decided event set can observe
// different wall-clock instants, and spec.md §8's agreement invariant
// requires blockHash_h to be identical across nodes at the same height.
// Timestamp is carried on Header as unhashed, informational metadata.
type hashedHeader struct {
	Height            int64    `json:"height"`
	PreviousBlockHash string   `json:"previousBlockHash"`
	ConsensusProof    []string `json:"consensusProof"`
	EventCount        int      `json:"eventCount"`
}

// ComputeHash hashes everything in Header except BlockHash and Timestamp,
// the same shadow-struct pattern dag.Event uses to exclude its own hash
// field.
func (h Header) ComputeHash() (string, error) {
	data, err := dag.Canonicalize(hashedHeader{
		Height:            h.Height,
		PreviousBlockHash: h.PreviousBlockHash,
		ConsensusProof:    h.ConsensusProof,
		EventCount:        h.EventCount,
	})
	if err != nil {
		return "", fmt.Errorf("block: canonicalize header: %w", err)
	}
	return crypto.Hash(data), nil
}

// New builds a Block from one consensus round's outcome and stamps its
// hash. timestamp is caller-supplied (worker passes wall-clock time) and
// carried as unhashed metadata only, so differing local clocks across
// honest nodes never produce differing block hashes for the same round.
func New(height int64, previousBlockHash string, events []string, consensusProof []string, timestamp int64) (*Block, error) {
	header := Header{
		Height:            height,
		PreviousBlockHash: previousBlockHash,
		ConsensusProof:    consensusProof,
		EventCount:        len(events),
		Timestamp:         timestamp,
	}
	hash, err := header.ComputeHash()
	if err != nil {
		return nil, err
	}
	header.BlockHash = hash
	return &Block{Header: header, Events: events}, nil
}

// VerifyIntegrity recomputes the header hash and checks it matches what is
// stored, catching tampering or storage corruption independent of chain
// linkage (see Store.Append for linkage checks).
func (b *Block) VerifyIntegrity() error {
	computed, err := b.Header.ComputeHash()
	if err != nil {
		return err
	}
	if computed != b.Header.BlockHash {
		return fmt.Errorf("block: hash mismatch: stored %s computed %s", b.Header.BlockHash, computed)
	}
	if b.Header.EventCount != len(b.Events) {
		return fmt.Errorf("block %s: eventCount %d does not match %d stored events", b.Header.BlockHash, b.Header.EventCount, len(b.Events))
	}
	return nil
}
