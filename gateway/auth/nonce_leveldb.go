package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	prefixNonce    = []byte("n/")
	prefixObserved = []byte("o/")
)

// LevelDBNonces persists nonce observations in LevelDB. Observations are
// indexed by big-endian timestamp so pruning is a range delete.
type LevelDBNonces struct {
	db *leveldb.DB
}

// OpenLevelDBNonces opens (or creates) the nonce database at path.
func OpenLevelDBNonces(path string) (*LevelDBNonces, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("auth: nonce store path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: open nonce store: %w", err)
	}
	return &LevelDBNonces{db: db}, nil
}

// Close releases the database.
func (p *LevelDBNonces) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func composite(rec NonceRecord) string {
	return rec.APIKey + "|" + rec.Timestamp + "|" + rec.Nonce
}

func nonceKey(id string) []byte {
	return append(append([]byte(nil), prefixNonce...), id...)
}

func observedKey(at int64, id string) []byte {
	key := make([]byte, 0, len(prefixObserved)+8+len(id))
	key = append(key, prefixObserved...)
	key = binary.BigEndian.AppendUint64(key, uint64(at))
	return append(key, id...)
}

// EnsureNonce records rec and reports whether it had been seen before.
func (p *LevelDBNonces) EnsureNonce(_ context.Context, rec NonceRecord) (bool, error) {
	if rec.APIKey == "" || rec.Timestamp == "" || rec.Nonce == "" {
		return false, fmt.Errorf("auth: nonce record incomplete")
	}
	id := composite(rec)
	_, err := p.db.Get(nonceKey(id), nil)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, leveldb.ErrNotFound):
		return false, err
	}
	at := rec.ObservedAt.UTC().UnixNano()
	var stamp [8]byte
	binary.BigEndian.PutUint64(stamp[:], uint64(at))
	batch := new(leveldb.Batch)
	batch.Put(nonceKey(id), stamp[:])
	batch.Put(observedKey(at, id), nil)
	return false, p.db.Write(batch, nil)
}

// RecentNonces returns observations at or after cutoff.
func (p *LevelDBNonces) RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error) {
	iter := p.db.NewIterator(&util.Range{
		Start: observedKey(cutoff.UTC().UnixNano(), ""),
		Limit: util.BytesPrefix(prefixObserved).Limit,
	}, nil)
	defer iter.Release()
	var out []NonceRecord
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := iter.Key()
		if len(key) < len(prefixObserved)+8 {
			continue
		}
		at := int64(binary.BigEndian.Uint64(key[len(prefixObserved):]))
		parts := strings.SplitN(string(key[len(prefixObserved)+8:]), "|", 3)
		if len(parts) != 3 {
			continue
		}
		out = append(out, NonceRecord{APIKey: parts[0], Timestamp: parts[1], Nonce: parts[2], ObservedAt: time.Unix(0, at).UTC()})
	}
	return out, iter.Error()
}

// PruneNonces deletes observations older than cutoff.
func (p *LevelDBNonces) PruneNonces(ctx context.Context, cutoff time.Time) error {
	iter := p.db.NewIterator(&util.Range{
		Start: prefixObserved,
		Limit: observedKey(cutoff.UTC().UnixNano(), ""),
	}, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := iter.Key()
		if len(key) < len(prefixObserved)+8 {
			continue
		}
		batch.Delete(append([]byte(nil), key...))
		batch.Delete(nonceKey(string(key[len(prefixObserved)+8:])))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	return p.db.Write(batch, nil)
}
