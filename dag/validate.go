package dag

import (
	"github.com/tolelom/continuity/ledgererr"
)

// shapeCheck enforces the structural requirements of spec.md §3 that can
// be checked without touching the store: exactly one parent and a
// matching treeHash for a regular event, a tree parent among distinct
// parents for a non-genesis merge event, no operation on a merge event,
// and a present operation on a regular one. A non-genesis merge event
// with the tree parent as its only parent passes: the presence of a
// non-tree parent is not checked here.
func shapeCheck(ev *Event) error {
	if ev.Creator == "" {
		return ledgererr.New(ledgererr.KindValidation, "event: creator is required")
	}
	if ev.Signature == "" {
		return ledgererr.New(ledgererr.KindValidation, "event: signature is required")
	}
	if ev.EventHash == "" {
		return ledgererr.New(ledgererr.KindValidation, "event: eventHash is required")
	}
	if ev.MergeHeight < 0 {
		return ledgererr.New(ledgererr.KindValidation, "event: mergeHeight cannot be negative")
	}

	switch ev.Kind {
	case KindRegular:
		if len(ev.Operation) == 0 {
			return ledgererr.New(ledgererr.KindValidation, "regular event: operation is required")
		}
		if len(ev.ParentHash) != 1 {
			return ledgererr.New(ledgererr.KindValidation, "regular event: must have exactly one parent")
		}
		if ev.TreeHash == "" || ev.TreeHash != ev.ParentHash[0] {
			return ledgererr.New(ledgererr.KindValidation, "regular event: treeHash must equal its sole parent")
		}
	case KindMerge:
		if len(ev.Operation) != 0 {
			return ledgererr.New(ledgererr.KindValidation, "merge event: operation must be absent")
		}
		if ev.IsGenesis() {
			if ev.TreeHash != "" {
				return ledgererr.New(ledgererr.KindValidation, "genesis merge event: treeHash must be empty")
			}
			if ev.MergeHeight != 0 {
				return ledgererr.New(ledgererr.KindValidation, "genesis merge event: mergeHeight must be 0")
			}
			break
		}
		// A non-genesis merge event needs at least its tree parent; a
		// non-tree parent too is a Merger threshold policy (merge.Config),
		// not a structural requirement enforced here.
		if len(ev.ParentHash) < 1 {
			return ledgererr.New(ledgererr.KindValidation, "merge event: needs at least a tree parent")
		}
		if ev.TreeHash == "" {
			return ledgererr.New(ledgererr.KindValidation, "merge event: treeHash is required")
		}
		seen := make(map[string]bool, len(ev.ParentHash))
		foundTree := false
		for _, p := range ev.ParentHash {
			if seen[p] {
				return ledgererr.New(ledgererr.KindValidation, "merge event: duplicate parent hash")
			}
			seen[p] = true
			if p == ev.TreeHash {
				foundTree = true
			}
		}
		if !foundTree {
			return ledgererr.New(ledgererr.KindValidation, "merge event: treeHash must be among parentHash")
		}
	default:
		return ledgererr.New(ledgererr.KindValidation, "event: unknown kind "+string(ev.Kind))
	}
	return nil
}
