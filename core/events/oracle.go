package events

import (
	"strconv"

	"zkusd/core/types"
	"zkusd/crypto"
)

const (
	// TypeOraclePriceSubmitted is emitted when a whitelisted submitter records a price.
	TypeOraclePriceSubmitted = "oracle.price_submitted"
	// TypeOraclePriceSettled is emitted when a submission round is aggregated.
	TypeOraclePriceSettled = "oracle.price_settled"
	// TypeOracleFallbackUpdated is emitted when the admin writes a fallback slot.
	TypeOracleFallbackUpdated = "oracle.fallback_updated"
	// TypeRegistryHaltChanged is emitted when the emergency halt switch flips.
	TypeRegistryHaltChanged = "registry.halt_changed"
	// TypeRegistryWhitelistUpdated is emitted when the oracle whitelist rotates.
	TypeRegistryWhitelistUpdated = "registry.whitelist_updated"
)

type PriceSubmitted struct {
	Submitter crypto.Address
	Price     uint64
	Round     uint64
	FeePaid   uint64
}

func (PriceSubmitted) EventType() string { return TypeOraclePriceSubmitted }

func (e PriceSubmitted) Event() *types.Event {
	return &types.Event{
		Type: TypeOraclePriceSubmitted,
		Attributes: map[string]string{
			"submitter": e.Submitter.String(),
			"price":     formatAmount(e.Price),
			"round":     formatAmount(e.Round),
			"feePaid":   formatAmount(e.FeePaid),
		},
	}
}

type PriceSettled struct {
	Round       uint64
	Price       uint64
	Submissions int
	Height      uint64
}

func (PriceSettled) EventType() string { return TypeOraclePriceSettled }

func (e PriceSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeOraclePriceSettled,
		Attributes: map[string]string{
			"round":       formatAmount(e.Round),
			"price":       formatAmount(e.Price),
			"submissions": strconv.Itoa(e.Submissions),
			"height":      formatAmount(e.Height),
		},
	}
}

type FallbackUpdated struct {
	Price  uint64
	Slot   string
	Height uint64
}

func (FallbackUpdated) EventType() string { return TypeOracleFallbackUpdated }

func (e FallbackUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleFallbackUpdated,
		Attributes: map[string]string{
			"price":  formatAmount(e.Price),
			"slot":   e.Slot,
			"height": formatAmount(e.Height),
		},
	}
}

type HaltChanged struct {
	Halted bool
	By     crypto.Address
}

func (HaltChanged) EventType() string { return TypeRegistryHaltChanged }

func (e HaltChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeRegistryHaltChanged,
		Attributes: map[string]string{
			"halted": strconv.FormatBool(e.Halted),
			"by":     e.By.String(),
		},
	}
}

type WhitelistUpdated struct {
	Version uint64
	Members int
}

func (WhitelistUpdated) EventType() string { return TypeRegistryWhitelistUpdated }

func (e WhitelistUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRegistryWhitelistUpdated,
		Attributes: map[string]string{
			"version": formatAmount(e.Version),
			"members": strconv.Itoa(e.Members),
		},
	}
}
