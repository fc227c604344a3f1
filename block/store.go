package block

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/tolelom/continuity/ledgererr"
	"github.com/tolelom/continuity/storage"
)

// Store is the committed-block persistence interface, grounded on the
// teacher's core.BlockStore/Blockchain split but collapsed into one type:
// Store both persists blocks and tracks the tip, the way dag.Store and
// peer.Registry already do for their own tables.
type Store interface {
	Append(b *Block) error
	GetByHash(hash string) (*Block, error)
	GetByHeight(height int64) (*Block, error)
	Tip() (*Block, bool, error)
}

const (
	keyBlockByHash   = "block:"
	keyBlockByHeight = "height:"
	keyTip           = "chain:tip"
)

// DBStore is the Store implementation shared by production LevelDB and
// test MemDB, over the common storage.DB interface.
type DBStore struct {
	mu sync.RWMutex
	db storage.DB
}

// NewDBStore wraps db as a block Store.
func NewDBStore(db storage.DB) *DBStore {
	return &DBStore{db: db}
}

// Append validates height continuity and previousBlockHash linkage against
// the current tip, then commits the block and advances the tip atomically.
func (s *DBStore) Append(b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tip, ok, err := s.tipLocked()
	if err != nil {
		return err
	}
	if ok {
		if b.Header.Height != tip.Header.Height+1 {
			return ledgererr.New(ledgererr.KindProtocolViolation,
				fmt.Sprintf("block height %d does not follow tip %d", b.Header.Height, tip.Header.Height))
		}
		if b.Header.PreviousBlockHash != tip.Header.BlockHash {
			return ledgererr.New(ledgererr.KindProtocolViolation,
				fmt.Sprintf("block %s: previousBlockHash %s does not match tip %s", b.Header.BlockHash, b.Header.PreviousBlockHash, tip.Header.BlockHash))
		}
	} else if b.Header.Height != 0 {
		return ledgererr.New(ledgererr.KindProtocolViolation, "first committed block must be height 0")
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("block: marshal: %w", err)
	}

	batch := s.db.NewBatch()
	batch.Set([]byte(keyBlockByHash+b.Header.BlockHash), data)
	batch.Set([]byte(keyBlockByHeight+strconv.FormatInt(b.Header.Height, 10)), []byte(b.Header.BlockHash))
	batch.Set([]byte(keyTip), []byte(b.Header.BlockHash))
	if err := batch.Write(); err != nil {
		return fmt.Errorf("block: commit height %d: %w", b.Header.Height, err)
	}
	return nil
}

func (s *DBStore) GetByHash(hash string) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getByHash(hash)
}

func (s *DBStore) getByHash(hash string) (*Block, error) {
	data, err := s.db.Get([]byte(keyBlockByHash + hash))
	if err != nil {
		if err == ledgererr.ErrNotFound {
			return nil, ledgererr.New(ledgererr.KindNotFound, "block: "+hash+" not found")
		}
		return nil, err
	}
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("block: unmarshal %s: %w", hash, err)
	}
	return &b, nil
}

func (s *DBStore) GetByHeight(height int64) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, err := s.db.Get([]byte(keyBlockByHeight + strconv.FormatInt(height, 10)))
	if err != nil {
		if err == ledgererr.ErrNotFound {
			return nil, ledgererr.New(ledgererr.KindNotFound, fmt.Sprintf("block: height %d not found", height))
		}
		return nil, err
	}
	return s.getByHash(string(hash))
}

func (s *DBStore) Tip() (*Block, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tipLocked()
}

func (s *DBStore) tipLocked() (*Block, bool, error) {
	hash, err := s.db.Get([]byte(keyTip))
	if err != nil {
		if err == ledgererr.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	b, err := s.getByHash(string(hash))
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}
