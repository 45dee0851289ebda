package vault

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"zkusd/core/events"
	"zkusd/core/state"
	"zkusd/core/types"
	"zkusd/crypto"
	nativecommon "zkusd/native/common"
	"zkusd/native/fixedpoint"
	"zkusd/observability"
)

var (
	ErrAmountZero             = errors.New("vault: amount must be positive")
	ErrInvalidSecret          = errors.New("vault: secret does not match ownership commitment")
	ErrInsufficientCollateral = errors.New("vault: amount exceeds collateral")
	ErrBalanceZero            = errors.New("vault: vault balance is zero")
	ErrHealthFactorTooLow     = errors.New("vault: health factor below minimum")
	ErrHealthFactorTooHigh    = errors.New("vault: health factor above liquidation threshold")
	ErrAmountExceedsDebt      = errors.New("vault: amount exceeds debt")
	ErrVaultNotFound          = errors.New("vault: vault not found")
	ErrVaultExists            = errors.New("vault: vault already exists")
	ErrInteractionPending     = errors.New("vault: interaction already in flight")
	ErrInteractionNotConsumed = errors.New("vault: interaction token was not redeemed")
	ErrInvalidInteraction     = errors.New("vault: invalid interaction token")
	errNilState               = errors.New("vault engine: state not configured")
)

func errMissingCollaborator(name string) error {
	return fmt.Errorf("vault engine: %s not configured", name)
}

const (
	opCreate    = "create"
	opDeposit   = "deposit_collateral"
	opRedeem    = "redeem_collateral"
	opMint      = "mint_zkusd"
	opBurn      = "burn_zkusd"
	opLiquidate = "liquidate"
)

var keySequence = state.Key("vault", []byte("sequence"))

func vaultKey(addr [20]byte) []byte { return state.Key("vault", addr[:]) }

func indexKey(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return state.Key("vault:index", buf[:])
}

// Engine executes vault state transitions. Every operation runs in its own
// state transaction; events are emitted only after the transaction commits.
type Engine struct {
	store   *state.Store
	collab  Collaborators
	emitter events.Emitter
	metrics *observability.VaultMetrics
}

// NewEngine constructs a vault engine bound to the supplied collaborators.
func NewEngine(store *state.Store, collab Collaborators) (*Engine, error) {
	if store == nil {
		return nil, errNilState
	}
	if err := collab.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		store:   store,
		collab:  collab,
		emitter: events.NoopEmitter{},
		metrics: observability.Vaults(),
	}, nil
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) run(op string, fn func(tx *state.Txn) (events.Event, error)) error {
	if e == nil || e.store == nil {
		return errNilState
	}
	start := time.Now()
	var evt events.Event
	err := e.store.Update(func(tx *state.Txn) error {
		var err error
		evt, err = fn(tx)
		return err
	})
	e.metrics.Observe(op, err, time.Since(start))
	if err != nil {
		return err
	}
	if evt != nil {
		e.emitter.Emit(evt)
	}
	return nil
}

func vaultAddress(addr [20]byte) crypto.Address {
	return crypto.AddressFromArray(crypto.VaultPrefix, addr)
}

func loadVault(r state.Reader, addr [20]byte) (*Vault, error) {
	v := new(Vault)
	ok, err := r.KVGet(vaultKey(addr), v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVaultNotFound
	}
	return v, nil
}

func putVault(tx *state.Txn, v *Vault) error {
	return tx.KVPut(vaultKey(v.Address), v)
}

func checkSecret(v *Vault, secret []byte) error {
	commitment := crypto.Commitment(secret)
	if subtle.ConstantTimeCompare(commitment[:], v.OwnershipCommitment[:]) != 1 {
		return ErrInvalidSecret
	}
	return nil
}

func (e *Engine) price(r state.Reader) (uint64, error) {
	if err := nativecommon.Guard(e.collab.Registry, r); err != nil {
		return 0, err
	}
	return e.collab.PriceSource.GetPrice(r)
}

func readSequence(r state.Reader) (uint64, error) {
	var seq uint64
	if _, err := r.KVGet(keySequence, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// CreateVault registers a new empty vault controlled by the preimage of
// commitment and returns its address.
func (e *Engine) CreateVault(commitment [32]byte) (crypto.Address, error) {
	var created [20]byte
	var count uint64
	err := e.run(opCreate, func(tx *state.Txn) (events.Event, error) {
		seq, err := readSequence(tx)
		if err != nil {
			return nil, err
		}
		addr := crypto.VaultAddress(commitment, seq)
		created = addr.Array()
		if _, err := loadVault(tx, created); err == nil {
			return nil, ErrVaultExists
		} else if !errors.Is(err, ErrVaultNotFound) {
			return nil, err
		}
		if err := putVault(tx, &Vault{Address: created, OwnershipCommitment: commitment}); err != nil {
			return nil, err
		}
		if err := tx.KVPut(indexKey(seq), created); err != nil {
			return nil, err
		}
		count = seq + 1
		if err := tx.KVPut(keySequence, count); err != nil {
			return nil, err
		}
		return events.VaultCreated{Vault: addr}, nil
	})
	if err != nil {
		return crypto.Address{}, err
	}
	e.metrics.SetVaultCount(count)
	return vaultAddress(created), nil
}

// DepositCollateral moves amount of the base asset from caller into the vault.
func (e *Engine) DepositCollateral(vault, caller crypto.Address, amount uint64, secret []byte) error {
	return e.run(opDeposit, func(tx *state.Txn) (events.Event, error) {
		if amount == 0 {
			return nil, ErrAmountZero
		}
		v, err := loadVault(tx, vault.Array())
		if err != nil {
			return nil, err
		}
		if err := checkSecret(v, secret); err != nil {
			return nil, err
		}
		if v.CollateralAmount > math.MaxUint64-amount {
			return nil, fixedpoint.ErrOverflow
		}
		evt := events.CollateralDeposited{
			Vault:            vaultAddress(v.Address),
			Depositor:        caller,
			AmountDeposited:  amount,
			CollateralAmount: v.CollateralAmount,
			DebtAmount:       v.DebtAmount,
		}
		if err := e.collab.BaseLedger.Transfer(tx, caller.Array(), v.Address, amount); err != nil {
			return nil, err
		}
		v.CollateralAmount += amount
		if err := putVault(tx, v); err != nil {
			return nil, err
		}
		return evt, nil
	})
}

// RedeemCollateral releases amount of collateral to caller together with any
// yield accrued on the vault account, minus the protocol fee on that yield.
// An amount of zero claims the yield alone.
func (e *Engine) RedeemCollateral(vault, caller crypto.Address, amount uint64, secret []byte) error {
	return e.run(opRedeem, func(tx *state.Txn) (events.Event, error) {
		v, err := loadVault(tx, vault.Array())
		if err != nil {
			return nil, err
		}
		balance, err := e.collab.BaseLedger.Balance(tx, v.Address)
		if err != nil {
			return nil, err
		}
		if balance == 0 {
			return nil, ErrBalanceZero
		}
		if err := checkSecret(v, secret); err != nil {
			return nil, err
		}
		if amount > v.CollateralAmount {
			return nil, ErrInsufficientCollateral
		}
		price, err := e.price(tx)
		if err != nil {
			return nil, err
		}
		remaining := v.CollateralAmount - amount
		hf, err := HealthFactor(remaining, v.DebtAmount, price)
		if err != nil {
			return nil, err
		}
		if hf < MinHealthFactor {
			return nil, ErrHealthFactorTooLow
		}

		var yield uint64
		if balance > v.CollateralAmount {
			yield = balance - v.CollateralAmount
		}
		feeBps, err := e.collab.Registry.ProtocolFee(tx)
		if err != nil {
			return nil, err
		}
		fee, err := fixedpoint.MulDiv(yield, feeBps, basisPoints)
		if err != nil {
			return nil, err
		}
		if fee > yield {
			fee = yield
		}
		if fee > 0 {
			treasury, err := e.collab.Registry.Treasury(tx)
			if err != nil {
				return nil, err
			}
			if err := e.collab.BaseLedger.Transfer(tx, v.Address, treasury, fee); err != nil {
				return nil, err
			}
		}
		payout := amount + (yield - fee)
		if err := e.collab.BaseLedger.Transfer(tx, v.Address, caller.Array(), payout); err != nil {
			return nil, err
		}
		v.CollateralAmount = remaining
		if err := putVault(tx, v); err != nil {
			return nil, err
		}
		return events.CollateralRedeemed{
			Vault:            vaultAddress(v.Address),
			Recipient:        caller,
			AmountRedeemed:   amount,
			YieldPaid:        yield - fee,
			ProtocolFee:      fee,
			CollateralAmount: v.CollateralAmount,
			DebtAmount:       v.DebtAmount,
		}, nil
	})
}

// interact raises the interaction flag, hands a fresh token to call and
// verifies the ledger redeemed it. It returns the vault as stored afterwards.
func (e *Engine) interact(tx *state.Txn, v *Vault, call func(token types.InteractionToken) error) (*Vault, error) {
	if v.InteractionFlag {
		return nil, ErrInteractionPending
	}
	v.InteractionFlag = true
	v.InteractionNonce++
	if err := putVault(tx, v); err != nil {
		return nil, err
	}
	if err := call(types.InteractionToken{Vault: v.Address, Nonce: v.InteractionNonce}); err != nil {
		return nil, err
	}
	after, err := loadVault(tx, v.Address)
	if err != nil {
		return nil, err
	}
	if after.InteractionFlag {
		return nil, ErrInteractionNotConsumed
	}
	return after, nil
}

// MintZkUsd issues amount of zkUSD to recipient against the vault's collateral.
func (e *Engine) MintZkUsd(vault, recipient crypto.Address, amount uint64, secret []byte) error {
	return e.run(opMint, func(tx *state.Txn) (events.Event, error) {
		if amount == 0 {
			return nil, ErrAmountZero
		}
		v, err := loadVault(tx, vault.Array())
		if err != nil {
			return nil, err
		}
		if err := checkSecret(v, secret); err != nil {
			return nil, err
		}
		if v.InteractionFlag {
			return nil, ErrInteractionPending
		}
		price, err := e.price(tx)
		if err != nil {
			return nil, err
		}
		if v.DebtAmount > math.MaxUint64-amount {
			return nil, fixedpoint.ErrOverflow
		}
		newDebt := v.DebtAmount + amount
		hf, err := HealthFactor(v.CollateralAmount, newDebt, price)
		if err != nil {
			return nil, err
		}
		if hf < MinHealthFactor {
			return nil, ErrHealthFactorTooLow
		}
		v, err = e.interact(tx, v, func(token types.InteractionToken) error {
			return e.collab.TokenLedger.Mint(tx, recipient.Array(), amount, token)
		})
		if err != nil {
			return nil, err
		}
		v.DebtAmount = newDebt
		if err := putVault(tx, v); err != nil {
			return nil, err
		}
		return events.ZkUsdMinted{
			Vault:            vaultAddress(v.Address),
			Recipient:        recipient,
			AmountMinted:     amount,
			CollateralAmount: v.CollateralAmount,
			DebtAmount:       v.DebtAmount,
		}, nil
	})
}

// BurnZkUsd repays amount of the vault's debt with zkUSD held by caller.
func (e *Engine) BurnZkUsd(vault, caller crypto.Address, amount uint64, secret []byte) error {
	return e.run(opBurn, func(tx *state.Txn) (events.Event, error) {
		if amount == 0 {
			return nil, ErrAmountZero
		}
		v, err := loadVault(tx, vault.Array())
		if err != nil {
			return nil, err
		}
		if err := checkSecret(v, secret); err != nil {
			return nil, err
		}
		if v.DebtAmount < amount {
			return nil, ErrAmountExceedsDebt
		}
		v, err = e.interact(tx, v, func(token types.InteractionToken) error {
			return e.collab.TokenLedger.Burn(tx, caller.Array(), amount, token)
		})
		if err != nil {
			return nil, err
		}
		v.DebtAmount -= amount
		if err := putVault(tx, v); err != nil {
			return nil, err
		}
		return events.ZkUsdBurned{
			Vault:            vaultAddress(v.Address),
			Owner:            caller,
			AmountBurned:     amount,
			CollateralAmount: v.CollateralAmount,
			DebtAmount:       v.DebtAmount,
		}, nil
	})
}

// Liquidate closes an undercollateralized vault. The liquidator receives the
// whole collateral and repays the whole debt from its own zkUSD.
func (e *Engine) Liquidate(vault, liquidator crypto.Address) error {
	return e.run(opLiquidate, func(tx *state.Txn) (events.Event, error) {
		v, err := loadVault(tx, vault.Array())
		if err != nil {
			return nil, err
		}
		price, err := e.price(tx)
		if err != nil {
			return nil, err
		}
		hf, err := HealthFactor(v.CollateralAmount, v.DebtAmount, price)
		if err != nil {
			return nil, err
		}
		if hf > MinHealthFactor {
			return nil, ErrHealthFactorTooHigh
		}
		collateral, debt := v.CollateralAmount, v.DebtAmount
		if err := e.collab.BaseLedger.Transfer(tx, v.Address, liquidator.Array(), collateral); err != nil {
			return nil, err
		}
		v, err = e.interact(tx, v, func(token types.InteractionToken) error {
			return e.collab.TokenLedger.Burn(tx, liquidator.Array(), debt, token)
		})
		if err != nil {
			return nil, err
		}
		v.CollateralAmount = 0
		v.DebtAmount = 0
		if err := putVault(tx, v); err != nil {
			return nil, err
		}
		return events.VaultLiquidated{
			Vault:                     vaultAddress(v.Address),
			Liquidator:                liquidator,
			VaultCollateralLiquidated: collateral,
			VaultDebtRepaid:           debt,
			Price:                     price,
		}, nil
	})
}

// AssertInteractionFlag redeems a token issued by this engine. The vault's
// flag must be raised and its nonce must match; the flag is lowered in tx so a
// token is honoured exactly once.
func (e *Engine) AssertInteractionFlag(tx *state.Txn, token types.InteractionToken) error {
	if tx == nil || token.IsZero() {
		return ErrInvalidInteraction
	}
	v, err := loadVault(tx, token.Vault)
	if errors.Is(err, ErrVaultNotFound) {
		return ErrInvalidInteraction
	}
	if err != nil {
		return err
	}
	if !v.InteractionFlag || v.InteractionNonce != token.Nonce {
		return ErrInvalidInteraction
	}
	v.InteractionFlag = false
	return putVault(tx, v)
}

// HealthFactor returns the vault's health factor at the current price.
func (e *Engine) HealthFactor(vault crypto.Address) (uint64, error) {
	if e == nil || e.store == nil {
		return 0, errNilState
	}
	var hf uint64
	err := e.store.View(func(r state.Reader) error {
		v, err := loadVault(r, vault.Array())
		if err != nil {
			return err
		}
		price, err := e.price(r)
		if err != nil {
			return err
		}
		hf, err = HealthFactor(v.CollateralAmount, v.DebtAmount, price)
		return err
	})
	return hf, err
}

// Vault returns a copy of the stored vault.
func (e *Engine) Vault(vault crypto.Address) (Vault, error) {
	if e == nil || e.store == nil {
		return Vault{}, errNilState
	}
	var out Vault
	err := e.store.View(func(r state.Reader) error {
		v, err := loadVault(r, vault.Array())
		if err != nil {
			return err
		}
		out = *v
		return nil
	})
	return out, err
}

// Vaults lists every vault in creation order.
func (e *Engine) Vaults() ([]Vault, error) {
	if e == nil || e.store == nil {
		return nil, errNilState
	}
	var out []Vault
	err := e.store.View(func(r state.Reader) error {
		var err error
		out, err = listVaults(r)
		return err
	})
	return out, err
}

func listVaults(r state.Reader) ([]Vault, error) {
	count, err := readSequence(r)
	if err != nil {
		return nil, err
	}
	out := make([]Vault, 0, count)
	for seq := uint64(0); seq < count; seq++ {
		var addr [20]byte
		ok, err := r.KVGet(indexKey(seq), &addr)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v, err := loadVault(r, addr)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// Liquidatable returns the vaults with outstanding debt whose health factor is
// at or below MinHealthFactor at the current price.
func (e *Engine) Liquidatable() ([]Vault, error) {
	if e == nil || e.store == nil {
		return nil, errNilState
	}
	var out []Vault
	err := e.store.View(func(r state.Reader) error {
		price, err := e.price(r)
		if err != nil {
			return err
		}
		all, err := listVaults(r)
		if err != nil {
			return err
		}
		for _, v := range all {
			if v.DebtAmount == 0 {
				continue
			}
			hf, err := HealthFactor(v.CollateralAmount, v.DebtAmount, price)
			if err != nil {
				return err
			}
			if hf <= MinHealthFactor {
				out = append(out, v)
			}
		}
		return nil
	})
	if err == nil {
		e.metrics.SetLiquidatable(len(out))
	}
	return out, err
}
