package genesis

import (
	"errors"
	"fmt"

	"zkusd/core/state"
	"zkusd/native/bank"
	"zkusd/native/oracle"
	"zkusd/native/registry"
)

// Targets are the components seeded from genesis.
type Targets struct {
	Store    *state.Store
	Registry *registry.Registry
	Ledger   *bank.Ledger
	Oracle   *oracle.Aggregator
}

// Apply seeds the registry, base-asset balances and the initial fallback price.
// It reports false without touching state when the registry is already
// initialized.
func (r *Resolved) Apply(t Targets) (bool, error) {
	if r == nil {
		return false, fmt.Errorf("genesis: nil resolved spec")
	}
	if t.Store == nil || t.Registry == nil || t.Ledger == nil {
		return false, fmt.Errorf("genesis: store, registry and ledger required")
	}
	var initialized bool
	err := t.Store.View(func(rd state.Reader) error {
		_, err := t.Registry.Params(rd)
		switch {
		case err == nil:
			initialized = true
			return nil
		case errors.Is(err, registry.ErrNotInitialized):
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("genesis: inspect registry: %w", err)
	}
	if initialized {
		return false, nil
	}

	params := registry.Params{
		Admin:          r.Admin.Array(),
		Treasury:       r.Treasury.Array(),
		ProtocolFeeBps: r.ProtocolFeeBps,
		OracleFee:      r.OracleFee,
	}
	if err := t.Registry.Init(params, registry.Whitelist{Version: 1, Members: r.Whitelist}); err != nil {
		return false, fmt.Errorf("genesis: init registry: %w", err)
	}
	if len(r.Alloc) > 0 {
		err := t.Store.Update(func(tx *state.Txn) error {
			for _, alloc := range r.Alloc {
				if err := t.Ledger.Credit(tx, bank.AssetBase, alloc.Address, alloc.Base); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("genesis: credit allocations: %w", err)
		}
	}
	if r.FallbackPrice > 0 && t.Oracle != nil {
		if err := t.Oracle.UpdateFallbackPrice(r.Admin, r.FallbackPrice); err != nil {
			return false, fmt.Errorf("genesis: fallback price: %w", err)
		}
	}
	return true, nil
}
