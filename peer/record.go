// Package peer implements the PeerRegistry described in spec.md §4.2: the
// reputation, backoff, and idle accounting that drives which remote peers
// the gossip client pulls from on each worker cycle.
package peer

// Idle marks that a peer's last successful pull returned no new events,
// together with the local block height observed at that time.
type Idle struct {
	Time             int64 `json:"time"`
	LocalBlockHeight int64 `json:"localBlockHeight"`
}

// Record is everything the registry tracks about one remote peer.
type Record struct {
	PeerID        string `json:"peerId"`
	Address       string `json:"address"`
	Reputation    int    `json:"reputation"`
	IsRecommended bool   `json:"isRecommended"`

	BackoffUntil        int64  `json:"backoffUntil"`
	LastPullAt          int64  `json:"lastPullAt"`
	LastPushAt          int64  `json:"lastPushAt"`
	LastPullResult      string `json:"lastPullResult"`
	Cursor              string `json:"cursor"`
	RequiredBlockHeight int64  `json:"requiredBlockHeight"`

	ConsecutiveFailures int    `json:"consecutiveFailures"`
	FirstFailure        *int64 `json:"firstFailure,omitempty"`
	Idle                *Idle  `json:"idle,omitempty"`

	// failureStartReputation snapshots reputation the moment a failure
	// streak began, so later failures in the same streak can be scored
	// relative to where it started rather than compounding off the
	// already-decremented value (spec.md §4.2 "derive points ...
	// set reputation = min(start-1, start-points)").
	FailureStartReputation int `json:"failureStartReputation"`

	Sequence int64 `json:"sequence"`
}

// SuccessOutcome is the result of a pull that completed without error.
type SuccessOutcome struct {
	MergeEventsReceived int
	Cursor              *string
	BlockHeight         int64
}

// FailureOutcome is the result of a pull (or notify) that failed.
type FailureOutcome struct {
	Err   error
	Cursor *string
	Fatal bool
}

// Config holds the tunable thresholds of the reputation/backoff/idle
// algorithm (spec.md §9's typed replacement for the original's dynamic
// config object).
type Config struct {
	MaxFailure            int64 // seconds, backoff ceiling for failures
	MinFailure            int64 // seconds, per-consecutive-failure backoff unit
	MaxFailureGracePeriod int64 // seconds, reputation decay window for failures

	MaxIdle            int64 // seconds, backoff ceiling for idle penalty
	MinIdle            int64 // seconds, per-point backoff unit for idle penalty
	MaxIdleGracePeriod int64 // seconds, window dividing 100 reputation points

	PositiveReputationCapacity int // spec.md §4.2 "100" in the 110-peer target
}

// DefaultConfig returns the values spec.md §8's scenarios are written
// against.
func DefaultConfig() Config {
	return Config{
		MaxFailure:                 300,
		MinFailure:                 5,
		MaxFailureGracePeriod:      60,
		MaxIdle:                    300,
		MinIdle:                    5,
		MaxIdleGracePeriod:         600,
		PositiveReputationCapacity: 100,
	}
}
