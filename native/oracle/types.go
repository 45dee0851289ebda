package oracle

import (
	"zkusd/core/state"
	"zkusd/native/registry"
)

const (
	// DefaultMaxAgeBlocks is the recency window applied when none is configured.
	DefaultMaxAgeBlocks uint64 = 20
	// DefaultMaxParticipants bounds the unsettled submissions of one round.
	DefaultMaxParticipants = 16
)

// Feed is the singleton aggregation record.
type Feed struct {
	// Round is the submission cursor. Slots tagged with the current round are
	// pending; settlement advances it.
	Round           uint64
	AggregatedPrice uint64
	SettledHeight   uint64
	FallbackEven    uint64
	FallbackOdd     uint64
}

// Submission is the per-identity slot. A slot whose Round equals the feed's
// Round is unsettled.
type Submission struct {
	Submitter [20]byte
	Price     uint64
	Round     uint64
	Height    uint64
}

// RoundRecord is the settled outcome of a round.
type RoundRecord struct {
	Round       uint64
	Price       uint64
	Submissions uint64
	Height      uint64
}

// Registry exposes the protocol parameters consumed by the aggregator.
type Registry interface {
	Whitelist(r state.Reader) (registry.Whitelist, error)
	OracleFee(r state.Reader) (uint64, error)
	IsHalted(r state.Reader) (bool, error)
	IsAdmin(r state.Reader, addr [20]byte) (bool, error)
}

// BaseLedger pays submission fees out of the oracle account.
type BaseLedger interface {
	Balance(r state.Reader, addr [20]byte) (uint64, error)
	Transfer(tx *state.Txn, from, to [20]byte, amount uint64) error
}

// Collaborators pins the external components for the lifetime of an aggregator.
type Collaborators struct {
	Registry   Registry
	BaseLedger BaseLedger
}

// Config bounds the aggregator.
type Config struct {
	// MaxAgeBlocks is how many blocks a settled price stays fresh.
	MaxAgeBlocks uint64 `toml:"MaxAgeBlocks"`
	// MaxParticipants bounds the number of identities holding slots.
	MaxParticipants int `toml:"MaxParticipants"`
	// Account holds the base asset used to reward submitters.
	Account [20]byte `toml:"-"`
}

// Normalise applies defaults to unset values.
func (c Config) Normalise() Config {
	cfg := c
	if cfg.MaxAgeBlocks == 0 {
		cfg.MaxAgeBlocks = DefaultMaxAgeBlocks
	}
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = DefaultMaxParticipants
	}
	return cfg
}
