package peer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tolelom/continuity/ledgererr"
	"github.com/tolelom/continuity/storage"
)

const (
	keyPeer    = "peer:"
	keyWitness = "witness:"
)

// Registry is the PeerRegistry contract of spec.md §4.2.
type Registry interface {
	Upsert(rec *Record) error
	Get(peerID string) (*Record, error)
	Delete(peerID string) error

	// Candidates returns peers with backoffUntil <= now, ordered by
	// (isRecommended desc, reputation desc, lastPullAt asc).
	Candidates(now int64) ([]*Record, error)

	RecordSuccess(peerID string, now int64, outcome SuccessOutcome) error
	RecordFailure(peerID string, now int64, outcome FailureOutcome) error

	// Count returns the number of known peers with reputation <=
	// maxReputation.
	Count(maxReputation int) (int, error)

	SetWitnesses(peerIDs []string) error
	IsWitness(peerID string) (bool, error)
}

// DBRegistry is the Registry implementation shared by production (over
// storage.LevelDB) and tests (over testutil.MemDB).
type DBRegistry struct {
	db  storage.DB
	cfg Config
}

// NewDBRegistry wraps db as a PeerRegistry using cfg's thresholds.
func NewDBRegistry(db storage.DB, cfg Config) *DBRegistry {
	return &DBRegistry{db: db, cfg: cfg}
}

func (r *DBRegistry) Upsert(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("peer: marshal record: %w", err)
	}
	return r.db.Set([]byte(keyPeer+rec.PeerID), data)
}

func (r *DBRegistry) Get(peerID string) (*Record, error) {
	data, err := r.db.Get([]byte(keyPeer + peerID))
	if err != nil {
		if err == ledgererr.ErrNotFound {
			return nil, ledgererr.New(ledgererr.KindNotFound, "peer: "+peerID+" not found")
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("peer: unmarshal record %s: %w", peerID, err)
	}
	return &rec, nil
}

func (r *DBRegistry) Delete(peerID string) error {
	return r.db.Delete([]byte(keyPeer + peerID))
}

func (r *DBRegistry) all() ([]*Record, error) {
	it := r.db.NewIterator([]byte(keyPeer))
	defer it.Release()
	var out []*Record
	for it.Next() {
		var rec Record
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			return nil, fmt.Errorf("peer: unmarshal record: %w", err)
		}
		out = append(out, &rec)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("peer: scan: %w", err)
	}
	return out, nil
}

func (r *DBRegistry) Candidates(now int64) ([]*Record, error) {
	records, err := r.all()
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, rec := range records {
		if rec.BackoffUntil <= now {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsRecommended != b.IsRecommended {
			return a.IsRecommended
		}
		if a.Reputation != b.Reputation {
			return a.Reputation > b.Reputation
		}
		return a.LastPullAt < b.LastPullAt
	})
	return out, nil
}

func (r *DBRegistry) Count(maxReputation int) (int, error) {
	records, err := r.all()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range records {
		if rec.Reputation <= maxReputation {
			n++
		}
	}
	return n, nil
}

func (r *DBRegistry) SetWitnesses(peerIDs []string) error {
	existing, err := r.witnessSet()
	if err != nil {
		return err
	}
	batch := r.db.NewBatch()
	for id := range existing {
		batch.Delete([]byte(keyWitness + id))
	}
	for _, id := range peerIDs {
		batch.Set([]byte(keyWitness+id), []byte("1"))
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("peer: set witnesses: %w", err)
	}
	return nil
}

func (r *DBRegistry) witnessSet() (map[string]bool, error) {
	it := r.db.NewIterator([]byte(keyWitness))
	defer it.Release()
	out := make(map[string]bool)
	for it.Next() {
		out[strings.TrimPrefix(string(it.Key()), keyWitness)] = true
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("peer: scan witnesses: %w", err)
	}
	return out, nil
}

func (r *DBRegistry) IsWitness(peerID string) (bool, error) {
	_, err := r.db.Get([]byte(keyWitness + peerID))
	if err == nil {
		return true, nil
	}
	if err == ledgererr.ErrNotFound {
		return false, nil
	}
	return false, err
}

// RecordFailure applies spec.md §4.2's failure branch of the reputation
// algorithm. A fatal outcome (protocol violation) short-circuits the rest
// of the algorithm: the peer is simply removed.
func (r *DBRegistry) RecordFailure(peerID string, now int64, outcome FailureOutcome) error {
	if outcome.Fatal {
		return r.Delete(peerID)
	}

	rec, err := r.Get(peerID)
	if err != nil {
		return err
	}
	isWitness, err := r.IsWitness(peerID)
	if err != nil {
		return err
	}

	rec.ConsecutiveFailures++
	if rec.ConsecutiveFailures == 1 {
		rec.FailureStartReputation = rec.Reputation
		rec.FirstFailure = &now
		rec.Reputation = rec.FailureStartReputation - 1
	} else {
		elapsed := now - *rec.FirstFailure
		points := int(elapsed/r.cfg.MaxFailureGracePeriod) * 100
		byElapsed := rec.FailureStartReputation - points
		byFloor := rec.FailureStartReputation - 1
		if byElapsed < byFloor {
			rec.Reputation = byElapsed
		} else {
			rec.Reputation = byFloor
		}
	}

	if outcome.Cursor != nil {
		rec.Cursor = *outcome.Cursor
	}
	rec.LastPullResult = "failure"

	backoff := r.cfg.MinFailure * int64(rec.ConsecutiveFailures)
	if backoff > r.cfg.MaxFailure {
		backoff = r.cfg.MaxFailure
	}
	rec.BackoffUntil = now + backoff

	if rec.Reputation < 0 {
		if isWitness {
			rec.Reputation = 0
		} else {
			return r.Delete(peerID)
		}
	}
	return r.Upsert(rec)
}

// RecordSuccess applies spec.md §4.2's success branch of the reputation
// algorithm, including the capacity drop and idle-penalty sub-cases.
func (r *DBRegistry) RecordSuccess(peerID string, now int64, outcome SuccessOutcome) error {
	rec, err := r.Get(peerID)
	if err != nil {
		return err
	}
	isWitness, err := r.IsWitness(peerID)
	if err != nil {
		return err
	}

	if !isWitness && rec.Reputation == 0 {
		count, err := r.Count(0)
		if err != nil {
			return err
		}
		if count >= r.cfg.PositiveReputationCapacity {
			return r.Delete(peerID)
		}
	}

	rec.ConsecutiveFailures = 0
	rec.FirstFailure = nil
	rec.BackoffUntil = now
	rec.LastPullResult = "success"
	rec.LastPullAt = now
	if outcome.Cursor != nil {
		rec.Cursor = *outcome.Cursor
	}
	if outcome.BlockHeight != 0 {
		rec.RequiredBlockHeight = outcome.BlockHeight
	}

	switch {
	case outcome.MergeEventsReceived > 0:
		if rec.Reputation+1 > 100 {
			rec.Reputation = 100
		} else {
			rec.Reputation++
		}
		rec.Idle = nil
	case rec.Idle == nil:
		rec.Idle = &Idle{Time: now, LocalBlockHeight: outcome.BlockHeight}
	case outcome.BlockHeight == rec.Idle.LocalBlockHeight:
		rec.Idle.Time = now
	default:
		timePerPoint := ceilDiv(r.cfg.MaxIdleGracePeriod, 100)
		points := (now - rec.Idle.Time) / timePerPoint
		rec.Reputation -= int(points)
		rec.Idle.Time += points * timePerPoint
		rec.Idle.LocalBlockHeight = outcome.BlockHeight

		backoffAdd := r.cfg.MinIdle * max64(1, points)
		if backoffAdd > r.cfg.MaxIdle {
			backoffAdd = r.cfg.MaxIdle
		}
		rec.BackoffUntil = now + backoffAdd
	}

	if rec.Reputation < 0 {
		if isWitness {
			rec.Reputation = 0
		} else {
			return r.Delete(peerID)
		}
	}
	return r.Upsert(rec)
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
