// Package witness selects the deterministic witness set of spec.md §3/§4.5
// from the previous block's state. A Selector is constructed explicitly
// and passed to the worker (the merger uses FaultTolerance) rather than
// reached through a global registry, per the
// "no process-wide singletons for consensus methods" redesign note in
// spec.md §9.
package witness

import (
	"fmt"
	"sort"

	"github.com/tolelom/continuity/crypto"
)

// Selector picks the witness set for the block that follows
// previousBlockHash, out of the peers (plus the local node) known to be
// reachable at that height. |result| is always 3f+1 for the largest f
// such that 3f+1 <= len(candidates).
type Selector interface {
	SelectWitnesses(previousBlockHash string, candidates []string) ([]string, error)
}

// Deterministic salts each candidate with the previous block hash and
// sorts by the resulting digest, so every honest node computes the same
// witness set without needing a leader or a coordination round.
type Deterministic struct{}

// NewDeterministic returns the default Selector.
func NewDeterministic() *Deterministic { return &Deterministic{} }

func (Deterministic) SelectWitnesses(previousBlockHash string, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("witness: no candidates for block after %s", previousBlockHash)
	}

	n := len(candidates)
	f := (n - 1) / 3
	size := 3*f + 1
	if size > n {
		size = n
	}

	type scored struct {
		id    string
		score string
	}
	ranked := make([]scored, len(candidates))
	for i, id := range candidates {
		ranked[i] = scored{id: id, score: crypto.Hash([]byte(previousBlockHash + ":" + id))}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score < ranked[j].score })

	out := make([]string, size)
	for i := 0; i < size; i++ {
		out[i] = ranked[i].id
	}
	return out, nil
}

// FaultTolerance returns f for a witness set of the given size (3f+1).
func FaultTolerance(witnessCount int) int {
	if witnessCount <= 0 {
		return 0
	}
	return (witnessCount - 1) / 3
}
