// Package registry holds the protocol-wide parameters consumed by the vault
// and oracle engines: the admin identity, the treasury, the fee schedule, the
// emergency halt switch and the versioned oracle whitelist.
package registry

import (
	"errors"
	"fmt"

	"zkusd/core/events"
	"zkusd/core/state"
	"zkusd/crypto"
)

const (
	// MaxProtocolFeeBps bounds the share of vault yield routed to the treasury.
	MaxProtocolFeeBps = 10_000
	// DefaultMaxMembers bounds the oracle whitelist when no capacity is configured.
	DefaultMaxMembers = 32
)

var (
	ErrUnauthorized       = errors.New("registry: caller is not the admin")
	ErrNotInitialized     = errors.New("registry: not initialized")
	ErrAlreadyInitialized = errors.New("registry: already initialized")
	ErrInvalidFee         = errors.New("registry: protocol fee exceeds 100%")
	ErrWhitelistTooLarge  = errors.New("registry: whitelist exceeds capacity")
	ErrDuplicateMember    = errors.New("registry: duplicate whitelist member")
	ErrZeroAddress        = errors.New("registry: address must be set")
	errNilState           = errors.New("registry: state not configured")
)

var (
	keyParams    = state.Key("registry", []byte("params"))
	keyWhitelist = state.Key("registry", []byte("whitelist"))
)

// Params is the persisted registry record.
type Params struct {
	Admin          [20]byte
	Treasury       [20]byte
	ProtocolFeeBps uint64
	OracleFee      uint64
	Halted         bool
}

// Whitelist is the versioned, ordered set of identities allowed to submit
// oracle prices. Snapshots are compared by exact value.
type Whitelist struct {
	Version uint64
	Members [][20]byte
}

// Equal reports whether two snapshots carry the same version and members in
// the same order.
func (w Whitelist) Equal(other Whitelist) bool {
	if w.Version != other.Version || len(w.Members) != len(other.Members) {
		return false
	}
	for i := range w.Members {
		if w.Members[i] != other.Members[i] {
			return false
		}
	}
	return true
}

// Contains reports whether addr is a member.
func (w Whitelist) Contains(addr [20]byte) bool {
	for _, member := range w.Members {
		if member == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the snapshot.
func (w Whitelist) Clone() Whitelist {
	return Whitelist{Version: w.Version, Members: append([][20]byte(nil), w.Members...)}
}

// Registry reads and mutates the protocol parameters. Reads go through the
// caller's transaction so the halt flag participates in conflict detection.
type Registry struct {
	store      *state.Store
	emitter    events.Emitter
	maxMembers int
}

// New constructs a registry over the supplied store.
func New(store *state.Store, maxMembers int) *Registry {
	if maxMembers <= 0 {
		maxMembers = DefaultMaxMembers
	}
	return &Registry{store: store, emitter: events.NoopEmitter{}, maxMembers: maxMembers}
}

// SetEmitter configures the event emitter used for admin changes.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if r == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emitter = emitter
}

// MaxMembers returns the whitelist capacity.
func (r *Registry) MaxMembers() int { return r.maxMembers }

// Init writes the genesis parameters. It fails when the registry already holds
// parameters.
func (r *Registry) Init(params Params, whitelist Whitelist) error {
	if r == nil || r.store == nil {
		return errNilState
	}
	if params.Admin == ([20]byte{}) || params.Treasury == ([20]byte{}) {
		return ErrZeroAddress
	}
	if params.ProtocolFeeBps > MaxProtocolFeeBps {
		return ErrInvalidFee
	}
	if err := r.validateMembers(whitelist.Members); err != nil {
		return err
	}
	return r.store.Update(func(txn *state.Txn) error {
		var existing Params
		ok, err := txn.KVGet(keyParams, &existing)
		if err != nil {
			return err
		}
		if ok {
			return ErrAlreadyInitialized
		}
		if err := txn.KVPut(keyParams, params); err != nil {
			return err
		}
		return txn.KVPut(keyWhitelist, whitelist.Clone())
	})
}

func (r *Registry) validateMembers(members [][20]byte) error {
	if len(members) > r.maxMembers {
		return fmt.Errorf("%w: %d > %d", ErrWhitelistTooLarge, len(members), r.maxMembers)
	}
	seen := make(map[[20]byte]struct{}, len(members))
	for _, member := range members {
		if member == ([20]byte{}) {
			return ErrZeroAddress
		}
		if _, dup := seen[member]; dup {
			return ErrDuplicateMember
		}
		seen[member] = struct{}{}
	}
	return nil
}

// Params loads the current parameter record.
func (r *Registry) Params(rd state.Reader) (Params, error) {
	var params Params
	ok, err := rd.KVGet(keyParams, &params)
	if err != nil {
		return Params{}, err
	}
	if !ok {
		return Params{}, ErrNotInitialized
	}
	return params, nil
}

// ProtocolFee returns the treasury share of vault yield in basis points.
func (r *Registry) ProtocolFee(rd state.Reader) (uint64, error) {
	params, err := r.Params(rd)
	return params.ProtocolFeeBps, err
}

// OracleFee returns the base-asset amount paid per accepted submission.
func (r *Registry) OracleFee(rd state.Reader) (uint64, error) {
	params, err := r.Params(rd)
	return params.OracleFee, err
}

// Treasury returns the protocol fee recipient.
func (r *Registry) Treasury(rd state.Reader) ([20]byte, error) {
	params, err := r.Params(rd)
	return params.Treasury, err
}

// IsHalted reports the emergency halt switch. An uninitialized registry is
// treated as halted.
func (r *Registry) IsHalted(rd state.Reader) (bool, error) {
	params, err := r.Params(rd)
	if errors.Is(err, ErrNotInitialized) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return params.Halted, nil
}

// IsAdmin reports whether addr is the registry admin.
func (r *Registry) IsAdmin(rd state.Reader, addr [20]byte) (bool, error) {
	params, err := r.Params(rd)
	if err != nil {
		return false, err
	}
	return params.Admin == addr, nil
}

// Whitelist returns the stored oracle whitelist.
func (r *Registry) Whitelist(rd state.Reader) (Whitelist, error) {
	var whitelist Whitelist
	ok, err := rd.KVGet(keyWhitelist, &whitelist)
	if err != nil {
		return Whitelist{}, err
	}
	if !ok {
		return Whitelist{}, ErrNotInitialized
	}
	return whitelist, nil
}

func (r *Registry) mutate(caller crypto.Address, fn func(txn *state.Txn, params *Params) error) error {
	if r == nil || r.store == nil {
		return errNilState
	}
	return r.store.Update(func(txn *state.Txn) error {
		params, err := r.Params(txn)
		if err != nil {
			return err
		}
		if params.Admin != caller.Array() {
			return ErrUnauthorized
		}
		if err := fn(txn, &params); err != nil {
			return err
		}
		return txn.KVPut(keyParams, params)
	})
}

// SetHalted flips the emergency halt switch.
func (r *Registry) SetHalted(caller crypto.Address, halted bool) error {
	err := r.mutate(caller, func(_ *state.Txn, params *Params) error {
		params.Halted = halted
		return nil
	})
	if err != nil {
		return err
	}
	r.emitter.Emit(events.HaltChanged{Halted: halted, By: caller})
	return nil
}

// SetProtocolFee updates the treasury share of vault yield.
func (r *Registry) SetProtocolFee(caller crypto.Address, bps uint64) error {
	if bps > MaxProtocolFeeBps {
		return ErrInvalidFee
	}
	return r.mutate(caller, func(_ *state.Txn, params *Params) error {
		params.ProtocolFeeBps = bps
		return nil
	})
}

// SetOracleFee updates the per-submission oracle reward.
func (r *Registry) SetOracleFee(caller crypto.Address, fee uint64) error {
	return r.mutate(caller, func(_ *state.Txn, params *Params) error {
		params.OracleFee = fee
		return nil
	})
}

// SetTreasury changes the protocol fee recipient.
func (r *Registry) SetTreasury(caller crypto.Address, treasury crypto.Address) error {
	if treasury.IsZero() {
		return ErrZeroAddress
	}
	return r.mutate(caller, func(_ *state.Txn, params *Params) error {
		params.Treasury = treasury.Array()
		return nil
	})
}

// SetWhitelist replaces the oracle whitelist and bumps its version. Snapshots
// held by submitters become stale immediately.
func (r *Registry) SetWhitelist(caller crypto.Address, members [][20]byte) (Whitelist, error) {
	if err := r.validateMembers(members); err != nil {
		return Whitelist{}, err
	}
	var next Whitelist
	err := r.mutate(caller, func(txn *state.Txn, _ *Params) error {
		current, err := r.Whitelist(txn)
		if err != nil {
			return err
		}
		next = Whitelist{Version: current.Version + 1, Members: append([][20]byte(nil), members...)}
		return txn.KVPut(keyWhitelist, next)
	})
	if err != nil {
		return Whitelist{}, err
	}
	r.emitter.Emit(events.WhitelistUpdated{Version: next.Version, Members: len(next.Members)})
	return next, nil
}
