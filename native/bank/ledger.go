// Package bank keeps the base-asset and zkUSD balances. zkUSD supply only
// changes through Mint and Burn, both of which redeem a vault-issued
// interaction token before touching balances.
package bank

import (
	"errors"
	"fmt"
	"math"

	"zkusd/core/state"
	"zkusd/core/types"
)

// Asset identifies a ledger denomination.
type Asset string

const (
	AssetBase  Asset = "BASE"
	AssetZkUsd Asset = "ZKUSD"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
	ErrUnknownAsset        = errors.New("bank: unknown asset")
	ErrNoVerifier          = errors.New("bank: interaction verifier not configured")
	ErrSelfTransfer        = errors.New("bank: sender and recipient are identical")
)

// InteractionVerifier redeems the one-time token a vault issues before it
// asks the ledger to mint or burn. It must consume the token in tx.
type InteractionVerifier interface {
	AssertInteractionFlag(tx *state.Txn, token types.InteractionToken) error
}

// Ledger stores balances under hashed keys in the shared state store.
type Ledger struct {
	verifier InteractionVerifier
}

// NewLedger constructs an empty ledger. The verifier is attached later because
// the vault engine itself depends on the ledger.
func NewLedger() *Ledger { return &Ledger{} }

// SetVerifier configures the component allowed to authorise mint and burn.
func (l *Ledger) SetVerifier(verifier InteractionVerifier) {
	if l == nil {
		return
	}
	l.verifier = verifier
}

func validAsset(asset Asset) error {
	switch asset {
	case AssetBase, AssetZkUsd:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAsset, asset)
	}
}

func balanceKey(asset Asset, addr [20]byte) []byte {
	return state.Key("bank:balance", []byte(asset), addr[:])
}

func supplyKey(asset Asset) []byte {
	return state.Key("bank:supply", []byte(asset))
}

func readUint(r state.Reader, key []byte) (uint64, error) {
	var value uint64
	if _, err := r.KVGet(key, &value); err != nil {
		return 0, err
	}
	return value, nil
}

// Balance returns the holdings of addr in asset.
func (l *Ledger) Balance(r state.Reader, asset Asset, addr [20]byte) (uint64, error) {
	if err := validAsset(asset); err != nil {
		return 0, err
	}
	return readUint(r, balanceKey(asset, addr))
}

// Supply returns the total amount of asset credited so far minus burns.
func (l *Ledger) Supply(r state.Reader, asset Asset) (uint64, error) {
	if err := validAsset(asset); err != nil {
		return 0, err
	}
	return readUint(r, supplyKey(asset))
}

func (l *Ledger) adjust(tx *state.Txn, key []byte, delta uint64, credit bool) error {
	current, err := readUint(tx, key)
	if err != nil {
		return err
	}
	if credit {
		if current > math.MaxUint64-delta {
			return ErrBalanceOverflow
		}
		return tx.KVPut(key, current+delta)
	}
	if current < delta {
		return ErrInsufficientBalance
	}
	return tx.KVPut(key, current-delta)
}

// Credit issues amount of asset to addr. Used for genesis allocations.
func (l *Ledger) Credit(tx *state.Txn, asset Asset, addr [20]byte, amount uint64) error {
	if err := validAsset(asset); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	if err := l.adjust(tx, balanceKey(asset, addr), amount, true); err != nil {
		return err
	}
	return l.adjust(tx, supplyKey(asset), amount, true)
}

// Transfer moves amount of asset between two accounts.
func (l *Ledger) Transfer(tx *state.Txn, asset Asset, from, to [20]byte, amount uint64) error {
	if err := validAsset(asset); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	if from == to {
		return ErrSelfTransfer
	}
	if err := l.adjust(tx, balanceKey(asset, from), amount, false); err != nil {
		return err
	}
	return l.adjust(tx, balanceKey(asset, to), amount, true)
}

// Mint credits zkUSD to recipient after redeeming token.
func (l *Ledger) Mint(tx *state.Txn, recipient [20]byte, amount uint64, token types.InteractionToken) error {
	if err := l.redeem(tx, token); err != nil {
		return err
	}
	return l.Credit(tx, AssetZkUsd, recipient, amount)
}

// Burn destroys zkUSD held by owner after redeeming token.
func (l *Ledger) Burn(tx *state.Txn, owner [20]byte, amount uint64, token types.InteractionToken) error {
	if err := l.redeem(tx, token); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	if err := l.adjust(tx, balanceKey(AssetZkUsd, owner), amount, false); err != nil {
		return err
	}
	return l.adjust(tx, supplyKey(AssetZkUsd), amount, false)
}

func (l *Ledger) redeem(tx *state.Txn, token types.InteractionToken) error {
	if l == nil || l.verifier == nil {
		return ErrNoVerifier
	}
	return l.verifier.AssertInteractionFlag(tx, token)
}

// AssetLedger narrows the ledger to one denomination.
type AssetLedger struct {
	ledger *Ledger
	asset  Asset
}

// Asset returns a view of the ledger bound to asset.
func (l *Ledger) Asset(asset Asset) AssetLedger {
	return AssetLedger{ledger: l, asset: asset}
}

// Balance returns the holdings of addr.
func (a AssetLedger) Balance(r state.Reader, addr [20]byte) (uint64, error) {
	return a.ledger.Balance(r, a.asset, addr)
}

// Transfer moves amount between two accounts.
func (a AssetLedger) Transfer(tx *state.Txn, from, to [20]byte, amount uint64) error {
	return a.ledger.Transfer(tx, a.asset, from, to, amount)
}
