package gossip

import "github.com/tolelom/continuity/dag"

// PullRequest asks a peer for everything it believes the local node is
// missing for one ledger, starting from cursor (empty for "from the
// beginning").
type PullRequest struct {
	LedgerID string `json:"ledgerId"`
	Cursor   string `json:"cursor,omitempty"`
}

// PullResponse is an ordered batch of merge events plus whatever regular
// events they reference, together with an updated cursor (spec.md §4.3).
type PullResponse struct {
	MergeEvents         []*dag.Event `json:"mergeEvents"`
	RegularEvents       []*dag.Event `json:"regularEvents"`
	Cursor              string       `json:"cursor"`
	RequiredBlockHeight int64        `json:"requiredBlockHeight"`
}

// NotifyRequest is a fire-and-forget "I have new events" signal.
type NotifyRequest struct {
	LedgerID string `json:"ledgerId"`
	PeerID   string `json:"peerId"`
}

// GetEventsRequest asks a peer for specific events by hash, used for the
// bounded recursive fetch that resolves MissingParents during insert.
type GetEventsRequest struct {
	LedgerID string   `json:"ledgerId"`
	Hashes   []string `json:"hashes"`
}

// GetEventsResponse returns whichever of the requested hashes the peer
// has. Missing entries are simply absent, not an error.
type GetEventsResponse struct {
	Events []*dag.Event `json:"events"`
}

// wireError is the JSON body returned on a non-2xx HTTP response so the
// client can recover the intended error kind instead of just a status
// code (spec.md §4.3's NetworkError/NotFoundError/ValidationError map).
type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
