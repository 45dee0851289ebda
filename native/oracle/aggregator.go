// Package oracle aggregates whitelisted price submissions into the price the
// vault engine consumes, with admin-maintained fallback slots for liveness.
package oracle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"zkusd/core/events"
	"zkusd/core/state"
	"zkusd/crypto"
	nativecommon "zkusd/native/common"
	"zkusd/native/registry"
	"zkusd/observability"
)

var (
	ErrPriceZero            = errors.New("oracle: price must be positive")
	ErrSenderNotWhitelisted = errors.New("oracle: sender not in whitelist")
	ErrInvalidWhitelist     = errors.New("oracle: whitelist snapshot does not match registry")
	ErrPendingActionExists  = errors.New("oracle: submission already pending for this round")
	ErrCapacityExceeded     = errors.New("oracle: participant capacity exceeded")
	ErrOracleExpired        = errors.New("oracle: no fresh or fallback price available")
	ErrUnauthorized         = errors.New("oracle: caller is not the admin")
	ErrRoundNotFound        = errors.New("oracle: round not settled")
	errNilState             = errors.New("oracle: state not configured")
)

const (
	slotEven = "even"
	slotOdd  = "odd"
)

var (
	keyFeed  = state.Key("oracle", []byte("feed"))
	keyIndex = state.Key("oracle", []byte("index"))
)

func slotKey(addr [20]byte) []byte { return state.Key("oracle:slot", addr[:]) }

func roundKey(round uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	return state.Key("oracle:round", buf[:])
}

// Aggregator runs the submit/settle protocol. Block height is advanced by the
// keeper and read atomically.
type Aggregator struct {
	store   *state.Store
	collab  Collaborators
	cfg     Config
	height  atomic.Uint64
	emitter events.Emitter
	metrics *observability.OracleMetrics
}

// NewAggregator constructs an aggregator over store.
func NewAggregator(store *state.Store, collab Collaborators, cfg Config) (*Aggregator, error) {
	if store == nil {
		return nil, errNilState
	}
	if collab.Registry == nil {
		return nil, fmt.Errorf("oracle: registry not configured")
	}
	if collab.BaseLedger == nil {
		return nil, fmt.Errorf("oracle: base ledger not configured")
	}
	return &Aggregator{
		store:   store,
		collab:  collab,
		cfg:     cfg.Normalise(),
		emitter: events.NoopEmitter{},
		metrics: observability.Oracle(),
	}, nil
}

// SetEmitter configures the event emitter used by the aggregator.
func (a *Aggregator) SetEmitter(emitter events.Emitter) {
	if a == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	a.emitter = emitter
}

// SetBlockHeight records the current block height.
func (a *Aggregator) SetBlockHeight(height uint64) {
	if a == nil {
		return
	}
	a.height.Store(height)
}

// BlockHeight returns the current block height.
func (a *Aggregator) BlockHeight() uint64 {
	if a == nil {
		return 0
	}
	return a.height.Load()
}

// Config returns the normalised configuration.
func (a *Aggregator) Config() Config { return a.cfg }

func loadFeed(r state.Reader) (Feed, error) {
	var feed Feed
	if _, err := r.KVGet(keyFeed, &feed); err != nil {
		return Feed{}, err
	}
	return feed, nil
}

func loadIndex(r state.Reader) ([][20]byte, error) {
	var index [][20]byte
	if _, err := r.KVGet(keyIndex, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func loadSlot(r state.Reader, addr [20]byte) (Submission, bool, error) {
	var slot Submission
	ok, err := r.KVGet(slotKey(addr), &slot)
	return slot, ok, err
}

func contains(index [][20]byte, addr [20]byte) bool {
	for _, member := range index {
		if member == addr {
			return true
		}
	}
	return false
}

// SubmitPrice records submitter's price for the current round. The snapshot
// must equal the registry whitelist exactly. When the oracle account can
// cover it, the configured fee is paid to the submitter.
func (a *Aggregator) SubmitPrice(submitter crypto.Address, price uint64, snapshot registry.Whitelist) error {
	if a == nil || a.store == nil {
		return errNilState
	}
	var evt events.PriceSubmitted
	err := a.store.Update(func(tx *state.Txn) error {
		if price == 0 {
			return ErrPriceZero
		}
		if err := nativecommon.Guard(a.collab.Registry, tx); err != nil {
			return err
		}
		caller := submitter.Array()
		if !snapshot.Contains(caller) {
			return ErrSenderNotWhitelisted
		}
		stored, err := a.collab.Registry.Whitelist(tx)
		if err != nil {
			return err
		}
		if !stored.Equal(snapshot) {
			return ErrInvalidWhitelist
		}
		feed, err := loadFeed(tx)
		if err != nil {
			return err
		}
		slot, ok, err := loadSlot(tx, caller)
		if err != nil {
			return err
		}
		if ok && slot.Round == feed.Round {
			return ErrPendingActionExists
		}
		index, err := loadIndex(tx)
		if err != nil {
			return err
		}
		index, pending, err := a.reconcile(tx, index, stored, feed.Round)
		if err != nil {
			return err
		}
		if pending >= a.cfg.MaxParticipants {
			return ErrCapacityExceeded
		}
		if !contains(index, caller) {
			if err := tx.KVPut(keyIndex, append(index, caller)); err != nil {
				return err
			}
		}
		next := Submission{Submitter: caller, Price: price, Round: feed.Round, Height: a.BlockHeight()}
		if err := tx.KVPut(slotKey(caller), next); err != nil {
			return err
		}
		paid, err := a.payFee(tx, caller)
		if err != nil {
			return err
		}
		evt = events.PriceSubmitted{Submitter: submitter, Price: price, Round: feed.Round, FeePaid: paid}
		return nil
	})
	a.metrics.RecordSubmission(err, evt.FeePaid)
	if err != nil {
		return err
	}
	a.emitter.Emit(evt)
	return nil
}

func (a *Aggregator) payFee(tx *state.Txn, to [20]byte) (uint64, error) {
	if a.cfg.Account == ([20]byte{}) || a.cfg.Account == to {
		return 0, nil
	}
	fee, err := a.collab.Registry.OracleFee(tx)
	if err != nil || fee == 0 {
		return 0, err
	}
	balance, err := a.collab.BaseLedger.Balance(tx, a.cfg.Account)
	if err != nil {
		return 0, err
	}
	if balance < fee {
		return 0, nil
	}
	if err := a.collab.BaseLedger.Transfer(tx, a.cfg.Account, to, fee); err != nil {
		return 0, err
	}
	return fee, nil
}

// SettlePriceUpdate aggregates every slot of the current round into the
// median price and advances the round. It reports false and changes nothing
// when the round has no submissions.
func (a *Aggregator) SettlePriceUpdate() (RoundRecord, bool, error) {
	if a == nil || a.store == nil {
		return RoundRecord{}, false, errNilState
	}
	var record RoundRecord
	settled := false
	err := a.store.Update(func(tx *state.Txn) error {
		feed, err := loadFeed(tx)
		if err != nil {
			return err
		}
		index, err := loadIndex(tx)
		if err != nil {
			return err
		}
		prices := make([]uint64, 0, len(index))
		for _, addr := range index {
			slot, ok, err := loadSlot(tx, addr)
			if err != nil {
				return err
			}
			if ok && slot.Round == feed.Round {
				prices = append(prices, slot.Price)
			}
		}
		if len(prices) == 0 {
			return nil
		}
		height := a.BlockHeight()
		record = RoundRecord{
			Round:       feed.Round,
			Price:       median(prices),
			Submissions: uint64(len(prices)),
			Height:      height,
		}
		if err := tx.KVPut(roundKey(feed.Round), record); err != nil {
			return err
		}
		feed.AggregatedPrice = record.Price
		feed.SettledHeight = height
		feed.Round++
		if err := tx.KVPut(keyFeed, feed); err != nil {
			return err
		}
		if err := a.compact(tx, index, feed.Round); err != nil {
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return RoundRecord{}, false, err
	}
	if settled {
		a.metrics.RecordSettlement(record.Price)
		a.metrics.SetPending(0)
		a.emitter.Emit(events.PriceSettled{
			Round:       record.Round,
			Price:       record.Price,
			Submissions: int(record.Submissions),
			Height:      record.Height,
		})
	}
	return record, settled, nil
}

// compact drops identities removed from the whitelist together with their
// slots. Remaining identities keep their slots.
func (a *Aggregator) compact(tx *state.Txn, index [][20]byte, round uint64) error {
	whitelist, err := a.collab.Registry.Whitelist(tx)
	if err != nil {
		return err
	}
	_, _, err = a.reconcile(tx, index, whitelist, round)
	return err
}

// reconcile removes identities that left the whitelist and hold no slot for
// round, and counts the slots pending in round. The index is rewritten only
// when it shrinks.
func (a *Aggregator) reconcile(tx *state.Txn, index [][20]byte, whitelist registry.Whitelist, round uint64) ([][20]byte, int, error) {
	kept := make([][20]byte, 0, len(index))
	pending := 0
	for _, addr := range index {
		slot, ok, err := loadSlot(tx, addr)
		if err != nil {
			return nil, 0, err
		}
		live := ok && slot.Round == round
		if live {
			pending++
		}
		if live || whitelist.Contains(addr) {
			kept = append(kept, addr)
			continue
		}
		if ok {
			if err := tx.Delete(slotKey(addr)); err != nil {
				return nil, 0, err
			}
		}
	}
	if len(kept) == len(index) {
		return index, pending, nil
	}
	if err := tx.KVPut(keyIndex, kept); err != nil {
		return nil, 0, err
	}
	return kept, pending, nil
}

// UpdateFallbackPrice writes the admin fallback price into the slot selected
// by the current block parity.
func (a *Aggregator) UpdateFallbackPrice(caller crypto.Address, price uint64) error {
	if a == nil || a.store == nil {
		return errNilState
	}
	height := a.BlockHeight()
	slot := slotEven
	if height%2 == 1 {
		slot = slotOdd
	}
	err := a.store.Update(func(tx *state.Txn) error {
		admin, err := a.collab.Registry.IsAdmin(tx, caller.Array())
		if err != nil {
			return err
		}
		if !admin {
			return ErrUnauthorized
		}
		if price == 0 {
			return ErrPriceZero
		}
		feed, err := loadFeed(tx)
		if err != nil {
			return err
		}
		if slot == slotEven {
			feed.FallbackEven = price
		} else {
			feed.FallbackOdd = price
		}
		return tx.KVPut(keyFeed, feed)
	})
	if err != nil {
		return err
	}
	a.emitter.Emit(events.FallbackUpdated{Price: price, Slot: slot, Height: height})
	return nil
}

// GetPrice returns the aggregated price while it is within MaxAgeBlocks of the
// current height, otherwise the fallback price.
func (a *Aggregator) GetPrice(r state.Reader) (uint64, error) {
	if a == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(a.collab.Registry, r); err != nil {
		return 0, err
	}
	feed, err := loadFeed(r)
	if err != nil {
		return 0, err
	}
	height := a.BlockHeight()
	if feed.AggregatedPrice > 0 && (height < feed.SettledHeight || height-feed.SettledHeight <= a.cfg.MaxAgeBlocks) {
		return feed.AggregatedPrice, nil
	}
	a.metrics.RecordFallbackRead()
	return fallback(feed, height)
}

// GetFallbackPrice returns the fallback slot that is not writable at the
// current block parity, or the other slot when that one was never set.
func (a *Aggregator) GetFallbackPrice(r state.Reader) (uint64, error) {
	if a == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(a.collab.Registry, r); err != nil {
		return 0, err
	}
	feed, err := loadFeed(r)
	if err != nil {
		return 0, err
	}
	return fallback(feed, a.BlockHeight())
}

func fallback(feed Feed, height uint64) (uint64, error) {
	read, other := feed.FallbackOdd, feed.FallbackEven
	if height%2 == 1 {
		read, other = feed.FallbackEven, feed.FallbackOdd
	}
	if read > 0 {
		return read, nil
	}
	if other > 0 {
		return other, nil
	}
	return 0, ErrOracleExpired
}

// Price is GetPrice against committed state.
func (a *Aggregator) Price() (uint64, error) {
	var price uint64
	err := a.view(func(r state.Reader) error {
		var err error
		price, err = a.GetPrice(r)
		return err
	})
	return price, err
}

// FallbackPrice is GetFallbackPrice against committed state.
func (a *Aggregator) FallbackPrice() (uint64, error) {
	var price uint64
	err := a.view(func(r state.Reader) error {
		var err error
		price, err = a.GetFallbackPrice(r)
		return err
	})
	return price, err
}

// Feed returns the committed feed record.
func (a *Aggregator) Feed() (Feed, error) {
	var feed Feed
	err := a.view(func(r state.Reader) error {
		var err error
		feed, err = loadFeed(r)
		return err
	})
	return feed, err
}

// Pending lists the unsettled submissions of the current round.
func (a *Aggregator) Pending() ([]Submission, error) {
	var out []Submission
	err := a.view(func(r state.Reader) error {
		feed, err := loadFeed(r)
		if err != nil {
			return err
		}
		index, err := loadIndex(r)
		if err != nil {
			return err
		}
		for _, addr := range index {
			slot, ok, err := loadSlot(r, addr)
			if err != nil {
				return err
			}
			if ok && slot.Round == feed.Round {
				out = append(out, slot)
			}
		}
		return nil
	})
	if err == nil {
		a.metrics.SetPending(len(out))
	}
	return out, err
}

// Round returns the settled record for round.
func (a *Aggregator) Round(round uint64) (RoundRecord, error) {
	var record RoundRecord
	err := a.view(func(r state.Reader) error {
		ok, err := r.KVGet(roundKey(round), &record)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRoundNotFound
		}
		return nil
	})
	return record, err
}

func (a *Aggregator) view(fn func(r state.Reader) error) error {
	if a == nil || a.store == nil {
		return errNilState
	}
	return a.store.View(fn)
}
