package dag

// Origin records whether an event reached this node from its own creator
// (a local append) or from a remote peer (gossip). The merge package only
// ever produces OriginLocal inserts for its own creator's events.
type Origin string

const (
	OriginLocal Origin = "local"
	OriginPeer  Origin = "peer"
)

// InsertOutcome reports what Insert actually did.
type InsertOutcome string

const (
	OutcomeInserted  InsertOutcome = "inserted"
	OutcomeDuplicate InsertOutcome = "duplicate"
)

// Slice is the bounded window of not-yet-consensus events a node holds,
// together with the edges the consensus and merge packages need to walk
// it. It is rebuilt from the pending index on every call to
// GetRecentHistory rather than kept resident, since the pending set is
// small relative to full history.
type Slice struct {
	Events   map[string]*Record
	Children map[string][]string // hash -> hashes of events that name it as a parent
}

// Store is the append-only DAG backing every node. Implementations must
// apply the validation order of spec.md §4.1: shape, signature and
// content-hash, parent presence, tree-parent/fork check, mergeHeight.
type Store interface {
	// Insert validates and appends ev. A duplicate EventHash yields
	// OutcomeDuplicate and a nil error: inserting twice is not an error.
	Insert(ev *Event, origin Origin) (InsertOutcome, error)

	Exists(hash string) (bool, error)
	Get(hash string) (*Record, error)

	// GetLocalBranchHead returns the hash of the latest merge event
	// authored by creator, or ok=false if creator has none yet (it will
	// build off the genesis merge event instead).
	GetLocalBranchHead(creator string) (hash string, ok bool, err error)

	// GetRecentHistory returns every event not yet marked consensus.
	GetRecentHistory() (*Slice, error)

	// MarkConsensus records that hashes were ordered into blockHeight at
	// consensusDate (unix seconds) and removes them from the pending set.
	MarkConsensus(hashes []string, blockHeight int64, consensusDate int64) error

	// ForkedCreators returns the set of creators with a detected fork.
	// The merge package must exclude them from future tree parents and
	// the consensus package must exclude their events from witness
	// elections (spec.md §3 invariant 4).
	ForkedCreators() (map[string]bool, error)
}
