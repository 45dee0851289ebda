package types

import (
	"crypto/sha256"
	"encoding/json"
)

// BlockHeader is the keeper's record of a clock tick. Heights drive oracle
// freshness and fallback slot parity.
type BlockHeader struct {
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
	PrevHash  []byte `json:"prevHash"`
	// JournalHead is the event journal sequence at the time of the tick.
	JournalHead uint64 `json:"journalHead"`
}

// Hash returns the SHA-256 digest of the JSON-encoded header. An empty
// PrevHash hashes the same as a nil one.
func (h *BlockHeader) Hash() ([]byte, error) {
	canonical := *h
	if len(canonical.PrevHash) == 0 {
		canonical.PrevHash = nil
	}
	b, err := json.Marshal(canonical)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}
