package types

// InteractionToken is the one-time capability a vault issues before asking the
// token ledger to mint or burn on its behalf. The ledger hands it back to the
// vault for redemption inside the same state transaction; a token is accepted
// exactly once.
type InteractionToken struct {
	Vault [20]byte
	Nonce uint64
}

// IsZero reports whether the token was never issued.
func (t InteractionToken) IsZero() bool {
	return t == InteractionToken{}
}
