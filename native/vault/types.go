package vault

import (
	"zkusd/core/state"
	"zkusd/core/types"
	"zkusd/crypto"
)

// Vault is the persisted record for a single collateral/debt position. Any
// holder of the secret behind OwnershipCommitment may operate it.
type Vault struct {
	Address             [20]byte
	CollateralAmount    uint64
	DebtAmount          uint64
	OwnershipCommitment [32]byte
	// InteractionFlag is raised while a mint or burn is in flight and lowered
	// by the token ledger through AssertInteractionFlag. At rest it is false.
	InteractionFlag  bool
	InteractionNonce uint64
}

// AddressString renders the vault identity in bech32 form.
func (v Vault) AddressString() string {
	return crypto.AddressFromArray(crypto.VaultPrefix, v.Address).String()
}

// TokenLedger mints and burns zkUSD. Both calls must redeem the supplied token
// through the vault's AssertInteractionFlag inside tx.
type TokenLedger interface {
	Mint(tx *state.Txn, recipient [20]byte, amount uint64, token types.InteractionToken) error
	Burn(tx *state.Txn, owner [20]byte, amount uint64, token types.InteractionToken) error
}

// BaseLedger moves the collateral asset. The vault address doubles as the
// account holding its collateral and any accrued yield.
type BaseLedger interface {
	Balance(r state.Reader, addr [20]byte) (uint64, error)
	Transfer(tx *state.Txn, from, to [20]byte, amount uint64) error
}

// Registry exposes the protocol parameters the vault consumes.
type Registry interface {
	ProtocolFee(r state.Reader) (uint64, error)
	Treasury(r state.Reader) ([20]byte, error)
	IsHalted(r state.Reader) (bool, error)
}

// PriceSource returns the current base-asset price in zkUSD units.
type PriceSource interface {
	GetPrice(r state.Reader) (uint64, error)
}

// Collaborators pins the external components for the lifetime of an engine.
type Collaborators struct {
	TokenLedger TokenLedger
	BaseLedger  BaseLedger
	Registry    Registry
	PriceSource PriceSource
}

func (c Collaborators) validate() error {
	switch {
	case c.TokenLedger == nil:
		return errMissingCollaborator("token ledger")
	case c.BaseLedger == nil:
		return errMissingCollaborator("base ledger")
	case c.Registry == nil:
		return errMissingCollaborator("registry")
	case c.PriceSource == nil:
		return errMissingCollaborator("price source")
	}
	return nil
}
