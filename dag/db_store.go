package dag

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tolelom/continuity/crypto"
	"github.com/tolelom/continuity/ledgererr"
	"github.com/tolelom/continuity/storage"
)

const (
	keyEvent    = "evt:"
	keyMergeHd  = "mhead:"
	keyPending  = "pend:"
	keyTreeTake = "tchild:"
	keyForked   = "forked:"
)

// DBStore is the Store implementation shared by production (over
// storage.LevelDB) and tests (over testutil.MemDB) — anything satisfying
// storage.DB works, so the validation and indexing logic below is written
// exactly once.
type DBStore struct {
	db storage.DB
}

// NewDBStore wraps db as a DAG Store.
func NewDBStore(db storage.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Insert(ev *Event, origin Origin) (InsertOutcome, error) {
	if err := shapeCheck(ev); err != nil {
		return "", err
	}

	exists, err := s.Exists(ev.EventHash)
	if err != nil {
		return "", err
	}
	if exists {
		return OutcomeDuplicate, nil
	}

	pub, err := crypto.PubKeyFromHex(ev.Creator)
	if err != nil {
		return "", ledgererr.Wrap(ledgererr.KindValidation, "event: creator is not a valid public key", err)
	}
	if err := ev.Verify(pub); err != nil {
		return "", ledgererr.Wrap(ledgererr.KindValidation, "event: signature or content hash invalid", err)
	}

	var maxParentHeight int64 = -1
	var missing []string
	for _, p := range ev.ParentHash {
		parent, err := s.Get(p)
		if err != nil {
			missing = append(missing, p)
			continue
		}
		if parent.Event.MergeHeight > maxParentHeight {
			maxParentHeight = parent.Event.MergeHeight
		}
	}
	if len(missing) > 0 {
		return "", ledgererr.MissingParents(missing)
	}

	forked := false
	if !ev.IsGenesis() {
		claimKey := []byte(keyTreeTake + ev.Creator + ":" + ev.TreeHash)
		if prior, err := s.db.Get(claimKey); err == nil {
			if string(prior) != ev.EventHash {
				forked = true
			}
		} else if err != ledgererr.ErrNotFound {
			return "", fmt.Errorf("dag: read fork claim: %w", err)
		}
	}

	expectedHeight := maxParentHeight + 1
	if ev.IsGenesis() {
		expectedHeight = 0
	}
	if ev.MergeHeight != expectedHeight {
		return "", ledgererr.New(ledgererr.KindProtocolViolation,
			fmt.Sprintf("event %s: mergeHeight %d does not match expected %d", ev.EventHash, ev.MergeHeight, expectedHeight))
	}

	if forked {
		if err := s.db.Set([]byte(keyForked+ev.Creator), []byte("1")); err != nil {
			return "", fmt.Errorf("dag: record forked creator: %w", err)
		}
		return "", ledgererr.New(ledgererr.KindProtocolViolation,
			fmt.Sprintf("creator %s: treeHash %s already claimed by a different event", ev.Creator, ev.TreeHash))
	}

	now := time.Now().Unix()
	rec := &Record{Event: *ev, Meta: Meta{Created: now, Updated: now}}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("dag: marshal record: %w", err)
	}

	batch := s.db.NewBatch()
	batch.Set([]byte(keyEvent+ev.EventHash), data)
	batch.Set([]byte(keyPending+ev.EventHash), []byte("1"))
	if !ev.IsGenesis() {
		batch.Set([]byte(keyTreeTake+ev.Creator+":"+ev.TreeHash), []byte(ev.EventHash))
	}
	if ev.IsMerge() {
		batch.Set([]byte(keyMergeHd+ev.Creator), []byte(ev.EventHash))
	}
	if err := batch.Write(); err != nil {
		return "", fmt.Errorf("dag: write event: %w", err)
	}
	return OutcomeInserted, nil
}

func (s *DBStore) Exists(hash string) (bool, error) {
	_, err := s.db.Get([]byte(keyEvent + hash))
	if err == nil {
		return true, nil
	}
	if err == ledgererr.ErrNotFound {
		return false, nil
	}
	return false, err
}

func (s *DBStore) Get(hash string) (*Record, error) {
	data, err := s.db.Get([]byte(keyEvent + hash))
	if err != nil {
		if err == ledgererr.ErrNotFound {
			return nil, ledgererr.New(ledgererr.KindNotFound, "dag: event "+hash+" not found")
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("dag: unmarshal record %s: %w", hash, err)
	}
	return &rec, nil
}

func (s *DBStore) GetLocalBranchHead(creator string) (string, bool, error) {
	data, err := s.db.Get([]byte(keyMergeHd + creator))
	if err != nil {
		if err == ledgererr.ErrNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

func (s *DBStore) GetRecentHistory() (*Slice, error) {
	slice := &Slice{
		Events:   make(map[string]*Record),
		Children: make(map[string][]string),
	}
	it := s.db.NewIterator([]byte(keyPending))
	defer it.Release()
	var hashes []string
	for it.Next() {
		hashes = append(hashes, strings.TrimPrefix(string(it.Key()), keyPending))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("dag: scan pending: %w", err)
	}
	for _, h := range hashes {
		rec, err := s.Get(h)
		if err != nil {
			return nil, err
		}
		slice.Events[h] = rec
		for _, p := range rec.Event.ParentHash {
			slice.Children[p] = append(slice.Children[p], h)
		}
	}
	return slice, nil
}

func (s *DBStore) MarkConsensus(hashes []string, blockHeight int64, consensusDate int64) error {
	batch := s.db.NewBatch()
	for _, h := range hashes {
		rec, err := s.Get(h)
		if err != nil {
			return err
		}
		rec.Meta.Consensus = true
		rec.Meta.ConsensusDate = consensusDate
		rec.Meta.Updated = consensusDate
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("dag: marshal record %s: %w", h, err)
		}
		batch.Set([]byte(keyEvent+h), data)
		batch.Delete([]byte(keyPending + h))
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("dag: mark consensus for block %d: %w", blockHeight, err)
	}
	return nil
}

func (s *DBStore) ForkedCreators() (map[string]bool, error) {
	out := make(map[string]bool)
	it := s.db.NewIterator([]byte(keyForked))
	defer it.Release()
	for it.Next() {
		out[strings.TrimPrefix(string(it.Key()), keyForked)] = true
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("dag: scan forked creators: %w", err)
	}
	return out, nil
}
