// Package merge implements the Merger described in spec.md §4.4: given the
// local node's view of un-merged creator heads and a threshold policy, it
// produces at most one new local merge event per worker cycle.
package merge

import (
	"math/rand"
	"sort"

	"github.com/tolelom/continuity/crypto"
	"github.com/tolelom/continuity/dag"
	"github.com/tolelom/continuity/witness"
)

// Merger owns no state of its own: every call reads the store fresh, so
// it is safe to reuse across cycles.
type Merger struct {
	store      dag.Store
	cfg        Config
	selfID     string
	priv       crypto.PrivateKey
	genesis    string
	randFloat  func() float64
}

// New constructs a Merger for the node identified by selfID (its hex
// public key, matching dag.Event.Creator) signing with priv. genesisHash
// is the ledger's genesis merge event hash, used as the tree parent for a
// node that has not yet produced a merge event of its own.
func New(store dag.Store, cfg Config, selfID string, priv crypto.PrivateKey, genesisHash string) *Merger {
	return &Merger{
		store:     store,
		cfg:       cfg,
		selfID:    selfID,
		priv:      priv,
		genesis:   genesisHash,
		randFloat: rand.Float64,
	}
}

// Result is what Merge produced this cycle.
type Result struct {
	Event             *dag.Event
	Attempted         bool // true if thresholds were met and a merge event was built
	IncludedOperation bool // true if the merge event also advanced this creator's regular-event tip
}

// Merge attempts to build and insert one new merge event. witnessSet is
// the creator-id set selected by witness.Selector for the ledger's
// current block height; withheld names creators (forked, or otherwise
// Byzantine) to exclude from candidate parents.
func (m *Merger) Merge(witnessSet map[string]bool, withheld map[string]bool, basisBlockHeight int64) (Result, error) {
	slice, err := m.store.GetRecentHistory()
	if err != nil {
		return Result{}, err
	}

	mergeHead, hasMerge, err := m.store.GetLocalBranchHead(m.selfID)
	if err != nil {
		return Result{}, err
	}
	base := m.genesis
	if hasMerge {
		base = mergeHead
	}

	treeHash := base
	includedOperation := false
	if tip := selfRegularTip(slice, m.selfID, base); tip != "" && m.randFloat() < m.cfg.OperationReadyChance {
		treeHash = tip
		includedOperation = true
	}

	witnessHeads, nonWitnessHeads := partitionHeads(slice, m.selfID, witnessSet, withheld)
	// A still-pending genesis event shows up as its founder's head; when it
	// is also this node's tree base it is not a non-tree parent.
	for _, heads := range []*[]string{&witnessHeads, &nonWitnessHeads} {
		kept := (*heads)[:0]
		for _, h := range *heads {
			if h != base && h != treeHash {
				kept = append(kept, h)
			}
		}
		*heads = kept
	}

	f := witness.FaultTolerance(len(witnessSet))
	witnessMin, err := resolveThreshold(m.cfg.WitnessMinimumThreshold, f)
	if err != nil {
		return Result{}, err
	}
	witnessTarget, err := resolveThreshold(m.cfg.WitnessTargetThreshold, f)
	if err != nil {
		return Result{}, err
	}
	peerMin, err := resolveThreshold(m.cfg.PeerMinimumThreshold, f)
	if err != nil {
		return Result{}, err
	}

	if len(witnessHeads) < witnessMin || len(nonWitnessHeads) < peerMin {
		return Result{Attempted: false}, nil
	}

	sortHeads(witnessHeads)
	sortHeads(nonWitnessHeads)
	if len(witnessHeads) > witnessTarget {
		witnessHeads = witnessHeads[:witnessTarget]
	}

	parents := make([]string, 0, 1+len(witnessHeads)+len(nonWitnessHeads))
	parents = append(parents, treeHash)
	seenHash := map[string]bool{treeHash: true}
	byCreator := make(map[string]bool)
	for _, h := range append(append([]string{}, witnessHeads...), nonWitnessHeads...) {
		if seenHash[h] {
			continue // same event already carried in as the tree parent
		}
		rec, err := m.store.Get(h)
		if err != nil {
			return Result{}, err
		}
		if byCreator[rec.Event.Creator] {
			continue // reject candidate sets parenting two events by the same creator
		}
		byCreator[rec.Event.Creator] = true
		seenHash[h] = true
		parents = append(parents, h)
	}

	var maxParentHeight int64 = -1
	for _, p := range parents {
		rec, err := m.store.Get(p)
		if err != nil {
			return Result{}, err
		}
		if rec.Event.MergeHeight > maxParentHeight {
			maxParentHeight = rec.Event.MergeHeight
		}
	}

	ev := &dag.Event{
		Kind:             dag.KindMerge,
		Creator:          m.selfID,
		TreeHash:         treeHash,
		ParentHash:       parents,
		BasisBlockHeight: basisBlockHeight,
		MergeHeight:      maxParentHeight + 1,
	}
	if err := ev.Sign(m.priv); err != nil {
		return Result{}, err
	}

	if _, err := m.store.Insert(ev, dag.OriginLocal); err != nil {
		return Result{}, err
	}

	return Result{Event: ev, Attempted: true, IncludedOperation: includedOperation}, nil
}

// selfRegularTip walks the pending regular-event chain authored by
// creator starting at base, returning the hash of the furthest
// not-yet-merged event, or "" if creator has no pending regular events.
func selfRegularTip(slice *dag.Slice, creator, base string) string {
	tip := ""
	cursor := base
	for {
		children := slice.Children[cursor]
		next := ""
		for _, h := range children {
			rec, ok := slice.Events[h]
			if !ok || rec.Event.Kind != dag.KindRegular || rec.Event.Creator != creator {
				continue
			}
			next = h
			break
		}
		if next == "" {
			return tip
		}
		tip = next
		cursor = next
	}
}

// partitionHeads finds, for every creator other than self (and not
// withheld), the merge event among the pending slice with the greatest
// mergeHeight: its un-merged head. Heads are split by witness membership.
func partitionHeads(slice *dag.Slice, self string, witnessSet, withheld map[string]bool) (witnessHeads, nonWitnessHeads []string) {
	best := make(map[string]*dag.Record)
	for _, rec := range slice.Events {
		if rec.Event.Kind != dag.KindMerge {
			continue
		}
		creator := rec.Event.Creator
		if creator == self || withheld[creator] {
			continue
		}
		cur, ok := best[creator]
		if !ok || rec.Event.MergeHeight > cur.Event.MergeHeight {
			best[creator] = rec
		}
	}
	for creator, rec := range best {
		if witnessSet[creator] {
			witnessHeads = append(witnessHeads, rec.Event.EventHash)
		} else {
			nonWitnessHeads = append(nonWitnessHeads, rec.Event.EventHash)
		}
	}
	return witnessHeads, nonWitnessHeads
}

func sortHeads(heads []string) {
	sort.Strings(heads)
}
