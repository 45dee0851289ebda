package events

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bbolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"

	"zkusd/core/types"
)

var (
	bucketJournal = []byte("journal")
	bucketMeta    = []byte("meta")
	keyHead       = []byte("head")
)

// ErrChainBroken is returned by Verify when a stored entry does not hash to
// the value recorded by its successor.
var ErrChainBroken = errors.New("events: journal hash chain broken")

// Entry is a journaled event. Hash commits to the previous entry's hash, the
// sequence number and the event payload.
type Entry struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Prev       string            `json:"prev"`
	Hash       string            `json:"hash"`
}

type journalHead struct {
	Sequence uint64   `json:"sequence"`
	Hash     [32]byte `json:"hash"`
}

// Journal is an append-only bbolt log of emitted events. It implements
// Emitter so it can be attached to the engines directly.
type Journal struct {
	mu     sync.Mutex
	db     *bbolt.DB
	logger *slog.Logger
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("events: create journal dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("events: open journal: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketJournal); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("events: init journal: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Emit implements the Emitter interface. Events without a payload are ignored.
// Engines emit after their state commit, so delivery is at most once: a failed
// append is logged and the event is not retried.
func (j *Journal) Emit(evt Event) {
	if j == nil || evt == nil {
		return
	}
	payload, ok := evt.(Payload)
	if !ok {
		return
	}
	if _, err := j.Append(payload.Event()); err != nil {
		j.logger.Error("journal append failed", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt as the next entry of the chain and returns it.
func (j *Journal) Append(evt *types.Event) (Entry, error) {
	if evt == nil {
		return Entry{}, fmt.Errorf("events: nil event")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	var entry Entry
	err := j.db.Update(func(tx *bbolt.Tx) error {
		head, err := readHead(tx)
		if err != nil {
			return err
		}
		seq := head.Sequence + 1
		hash := entryHash(head.Hash, seq, evt)
		entry = Entry{
			Sequence:   seq,
			Type:       evt.Type,
			Attributes: copyAttributes(evt.Attributes),
			Prev:       hex.EncodeToString(head.Hash[:]),
			Hash:       hex.EncodeToString(hash[:]),
		}
		encoded, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketJournal).Put(sequenceKey(seq), encoded); err != nil {
			return err
		}
		next, err := json.Marshal(journalHead{Sequence: seq, Hash: hash})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyHead, next)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("events: append: %w", err)
	}
	return entry, nil
}

// Head returns the latest sequence number (zero when empty).
func (j *Journal) Head() (uint64, error) {
	var head journalHead
	err := j.db.View(func(tx *bbolt.Tx) error {
		var err error
		head, err = readHead(tx)
		return err
	})
	return head.Sequence, err
}

// Entries returns up to limit entries starting at sequence from (inclusive).
// A non-positive limit returns everything from the starting point.
func (j *Journal) Entries(from uint64, limit int) ([]Entry, error) {
	if from == 0 {
		from = 1
	}
	var out []Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketJournal).Cursor()
		for k, v := cursor.Seek(sequenceKey(from)); k != nil; k, v = cursor.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("events: read journal: %w", err)
	}
	return out, nil
}

// Verify recomputes the hash chain from genesis and checks it against the
// stored head.
func (j *Journal) Verify() error {
	return j.db.View(func(tx *bbolt.Tx) error {
		head, err := readHead(tx)
		if err != nil {
			return err
		}
		var prev [32]byte
		var expected uint64 = 1
		cursor := tx.Bucket(bucketJournal).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.Sequence != expected {
				return fmt.Errorf("%w: sequence %d, want %d", ErrChainBroken, entry.Sequence, expected)
			}
			if entry.Prev != hex.EncodeToString(prev[:]) {
				return fmt.Errorf("%w: entry %d prev mismatch", ErrChainBroken, entry.Sequence)
			}
			hash := entryHash(prev, entry.Sequence, &types.Event{Type: entry.Type, Attributes: entry.Attributes})
			if entry.Hash != hex.EncodeToString(hash[:]) {
				return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, entry.Sequence)
			}
			prev = hash
			expected++
		}
		if head.Sequence != expected-1 || head.Hash != prev {
			return fmt.Errorf("%w: head does not match last entry", ErrChainBroken)
		}
		return nil
	})
}

func readHead(tx *bbolt.Tx) (journalHead, error) {
	var head journalHead
	raw := tx.Bucket(bucketMeta).Get(keyHead)
	if raw == nil {
		return head, nil
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return head, fmt.Errorf("events: decode journal head: %w", err)
	}
	return head, nil
}

func sequenceKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

func entryHash(prev [32]byte, seq uint64, evt *types.Event) [32]byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(prev[:])
	buf.Write(sequenceKey(seq))
	writeDelimited(buf, []byte(evt.Type))
	keys := make([]string, 0, len(evt.Attributes))
	for k := range evt.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeDelimited(buf, []byte(k))
		writeDelimited(buf, []byte(evt.Attributes[k]))
	}
	return blake3.Sum256(buf.Bytes())
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}

func copyAttributes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
