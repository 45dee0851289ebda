package events

import (
	"zkusd/core/types"
	"zkusd/crypto"
)

// TypeTransfer is emitted for direct ledger transfers between accounts.
const TypeTransfer = "transfer.native"

// Transfer records a balance movement requested through the gateway.
type Transfer struct {
	Asset  string
	From   [20]byte
	To     [20]byte
	Amount uint64
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{Type: TypeTransfer, Attributes: map[string]string{
		"asset":  e.Asset,
		"from":   crypto.AddressFromArray(crypto.AccountPrefix, e.From).String(),
		"to":     crypto.AddressFromArray(crypto.AccountPrefix, e.To).String(),
		"amount": formatAmount(e.Amount),
	}}
}
