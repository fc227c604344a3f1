// Package consensus implements the ConsensusEngine of spec.md §4.5: the
// Continuity2017 witness/support/Y-event algorithm that turns a pending
// DAG slice into an ordered, agreed-upon block of events.
package consensus

import (
	"sort"

	"github.com/tolelom/continuity/dag"
)

// Engine holds no ledger state; every Evaluate call is a pure function of
// its slice and witness set, so one Engine value can serve every ledger a
// node runs.
type Engine struct{}

// New constructs a ConsensusEngine.
func New() *Engine { return &Engine{} }

// Input is everything Evaluate needs about the current round.
type Input struct {
	Slice           *dag.Slice
	WitnessSet      map[string]bool // creator id -> is a witness for this block
	ForkedCreators  map[string]bool // creators with a detected fork in Slice; excluded from support entirely
	NextBlockHeight int64
}

// Outcome is the result of one evaluation cycle (spec.md §4.5 step 6).
type Outcome struct {
	Consensus      bool
	BlockHeight    int64
	BlockEvents    []string // ordered event hashes, (mergeHeight asc, eventHash asc)
	ConsensusProof []string // the Y-event hashes whose mutual endorsement closed the decision
}

// Evaluate runs one round of witness identification, support computation,
// and Y-event election over in.Slice.
func (e *Engine) Evaluate(in Input) (Outcome, error) {
	// Creators with a detected fork are dropped from the witness set
	// before anything else is derived from it: they count for neither
	// the fault-tolerance denominator nor as voters, per spec.md §4.5's
	// "creators with detected forks in the slice are excluded from
	// support computation ... count for no one".
	effectiveWitnesses := make(map[string]bool, len(in.WitnessSet))
	for id := range in.WitnessSet {
		if in.ForkedCreators[id] {
			continue
		}
		effectiveWitnesses[id] = true
	}

	f := faultTolerance(len(effectiveWitnesses))
	quorum := 2*f + 1

	witnessEvents := make([]*dag.Record, 0)
	for _, rec := range in.Slice.Events {
		if rec.Event.Kind == dag.KindMerge && effectiveWitnesses[rec.Event.Creator] {
			witnessEvents = append(witnessEvents, rec)
		}
	}
	if len(witnessEvents) == 0 {
		return Outcome{Consensus: false}, nil
	}

	ancestors := newAncestorCache(in.Slice)

	// support(e) = distinct witness creators w with a witness merge event
	// that descends from (or is) e: as later witness events come to see
	// e in their own causal history, e accumulates support from them.
	support := make(map[string]map[string]bool, len(witnessEvents))
	for _, e := range witnessEvents {
		support[e.Event.EventHash] = make(map[string]bool)
	}
	for _, voter := range witnessEvents {
		anc := ancestors.of(voter.Event.EventHash)
		for _, candidate := range witnessEvents {
			if anc[candidate.Event.EventHash] {
				support[candidate.Event.EventHash][voter.Event.Creator] = true
			}
		}
	}

	var yEvents []*dag.Record
	yCreators := make(map[string]bool)
	for _, e := range witnessEvents {
		if len(support[e.Event.EventHash]) >= quorum {
			yEvents = append(yEvents, e)
			yCreators[e.Event.Creator] = true
		}
	}

	if len(yCreators) < quorum {
		return Outcome{Consensus: false}, nil
	}

	decided := make(map[string]bool)
	for _, y := range yEvents {
		for h := range ancestors.of(y.Event.EventHash) {
			decided[h] = true
		}
	}

	blockEvents := make([]*dag.Record, 0, len(decided))
	for h := range decided {
		rec, ok := in.Slice.Events[h]
		if !ok {
			continue // outside the pending slice: already part of a prior block
		}
		blockEvents = append(blockEvents, rec)
	}
	sort.Slice(blockEvents, func(i, j int) bool {
		a, b := blockEvents[i].Event, blockEvents[j].Event
		if a.MergeHeight != b.MergeHeight {
			return a.MergeHeight < b.MergeHeight
		}
		return a.EventHash < b.EventHash
	})

	hashes := make([]string, len(blockEvents))
	for i, rec := range blockEvents {
		hashes[i] = rec.Event.EventHash
	}
	proof := make([]string, len(yEvents))
	for i, y := range yEvents {
		proof[i] = y.Event.EventHash
	}
	sort.Strings(proof)

	return Outcome{
		Consensus:      true,
		BlockHeight:    in.NextBlockHeight,
		BlockEvents:    hashes,
		ConsensusProof: proof,
	}, nil
}

func faultTolerance(witnessCount int) int {
	if witnessCount <= 0 {
		return 0
	}
	return (witnessCount - 1) / 3
}

// ancestorCache memoizes each event's transitive closure of ancestors
// (including itself) within the given slice. Computation never crosses
// the slice boundary: anything not in the pending slice is already part
// of a prior, already-decided block and is irrelevant to this round.
type ancestorCache struct {
	slice *dag.Slice
	memo  map[string]map[string]bool
}

func newAncestorCache(slice *dag.Slice) *ancestorCache {
	return &ancestorCache{slice: slice, memo: make(map[string]map[string]bool)}
}

func (c *ancestorCache) of(hash string) map[string]bool {
	if set, ok := c.memo[hash]; ok {
		return set
	}
	set := map[string]bool{hash: true}
	c.memo[hash] = set // break cycles defensively; the DAG is acyclic by invariant
	rec, ok := c.slice.Events[hash]
	if !ok {
		return set
	}
	for _, p := range rec.Event.ParentHash {
		for h := range c.of(p) {
			set[h] = true
		}
	}
	return set
}
