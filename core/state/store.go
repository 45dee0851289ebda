package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"zkusd/storage"
)

var (
	// ErrConflict reports that a key read by the transaction changed before it
	// could commit. Callers re-read fresh state and resubmit.
	ErrConflict = errors.New("state: concurrent modification detected")
	// ErrTxnClosed is returned when a committed or discarded transaction is used.
	ErrTxnClosed = errors.New("state: transaction already closed")
)

// Reader is the read side shared by transactions and query views. Get returns
// (nil, nil) when the key has never been written.
type Reader interface {
	Get(key []byte) ([]byte, error)
	KVGet(key []byte, out interface{}) (bool, error)
}

// Store layers optimistic transactions over a key-value backend. Every key
// carries an in-memory version that is bumped on each committed write.
// Versions restart at zero with the process; no transaction outlives it.
type Store struct {
	mu       sync.Mutex
	db       storage.Database
	versions map[string]uint64
}

// NewStore wraps the supplied database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db, versions: make(map[string]uint64)}
}

// Begin opens a transaction. Transactions are not safe for concurrent use by
// multiple goroutines.
func (s *Store) Begin() *Txn {
	return &Txn{
		store:  s,
		reads:  make(map[string]uint64),
		writes: make(map[string]*pendingWrite),
	}
}

func (s *Store) load(key []byte) ([]byte, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := s.versions[string(key)]
	value, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, version, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return value, version, nil
}

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Txn buffers writes and records the version of every key it reads. Commit
// applies the buffered writes only if none of the observed versions moved.
type Txn struct {
	store  *Store
	reads  map[string]uint64
	writes map[string]*pendingWrite
	order  []string
	closed bool
}

// Get returns the value visible to the transaction: its own buffered write if
// any, otherwise the committed value (recording its version).
func (t *Txn) Get(key []byte) ([]byte, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	k := string(key)
	if w, ok := t.writes[k]; ok {
		if w.deleted {
			return nil, nil
		}
		return append([]byte(nil), w.value...), nil
	}
	value, version, err := t.store.load(key)
	if err != nil {
		return nil, err
	}
	if prev, seen := t.reads[k]; seen && prev != version {
		return nil, ErrConflict
	}
	t.reads[k] = version
	return value, nil
}

// Put buffers a write.
func (t *Txn) Put(key, value []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	t.buffer(string(key), &pendingWrite{value: append([]byte(nil), value...)})
	return nil
}

// Delete buffers a removal.
func (t *Txn) Delete(key []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	t.buffer(string(key), &pendingWrite{deleted: true})
	return nil
}

func (t *Txn) buffer(k string, w *pendingWrite) {
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = w
}

// KVGet decodes the RLP value stored under key into out. It reports false when
// the key is absent.
func (t *Txn) KVGet(key []byte, out interface{}) (bool, error) {
	data, err := t.Get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}

// KVPut RLP-encodes value and buffers it under key.
func (t *Txn) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key, err)
	}
	return t.Put(key, encoded)
}

// Dirty reports whether the transaction buffered any write.
func (t *Txn) Dirty() bool { return len(t.order) > 0 }

// Commit validates the read set and atomically persists the buffered writes.
func (t *Txn) Commit() error {
	if t.closed {
		return ErrTxnClosed
	}
	t.closed = true
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.stale() {
		return ErrConflict
	}
	if len(t.order) == 0 {
		return nil
	}
	batch := storage.NewBatch()
	for _, k := range t.order {
		w := t.writes[k]
		if w.deleted {
			batch.Delete([]byte(k))
		} else {
			batch.Put([]byte(k), w.value)
		}
	}
	if err := s.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	for _, k := range t.order {
		s.versions[k]++
	}
	return nil
}

// stale reports whether any observed version moved. The store lock must be
// held.
func (t *Txn) stale() bool {
	for k, version := range t.reads {
		if t.store.versions[k] != version {
			return true
		}
	}
	return false
}

// Discard drops the buffered writes. It is safe to call after Commit.
func (t *Txn) Discard() {
	t.closed = true
	t.writes = nil
	t.order = nil
}

// View runs fn against a throwaway transaction. Nothing fn writes persists.
// When fn succeeds the read set is validated, so every value fn observed
// belongs to one committed state; otherwise ErrConflict is returned.
func (s *Store) View(fn func(r Reader) error) error {
	txn := s.Begin()
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if txn.stale() {
		return ErrConflict
	}
	return nil
}

// Update runs fn inside a transaction and commits it when fn succeeds.
func (s *Store) Update(fn func(txn *Txn) error) error {
	txn := s.Begin()
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}
