package events

import (
	"strconv"

	"zkusd/core/types"
	"zkusd/crypto"
)

const (
	// TypeVaultNew is emitted when a vault is created.
	TypeVaultNew = "vault.new"
	// TypeVaultDepositCollateral is emitted after collateral is locked.
	TypeVaultDepositCollateral = "vault.deposit_collateral"
	// TypeVaultRedeemCollateral is emitted after collateral (and yield) is released.
	TypeVaultRedeemCollateral = "vault.redeem_collateral"
	// TypeVaultMintZkUsd is emitted after zkUSD is minted against a vault.
	TypeVaultMintZkUsd = "vault.mint_zkusd"
	// TypeVaultBurnZkUsd is emitted after zkUSD debt is repaid.
	TypeVaultBurnZkUsd = "vault.burn_zkusd"
	// TypeVaultLiquidate is emitted when a vault is liquidated.
	TypeVaultLiquidate = "vault.liquidate"
)

func formatAmount(v uint64) string { return strconv.FormatUint(v, 10) }

type VaultCreated struct {
	Vault crypto.Address
}

func (VaultCreated) EventType() string { return TypeVaultNew }

func (e VaultCreated) Event() *types.Event {
	return &types.Event{
		Type:       TypeVaultNew,
		Attributes: map[string]string{"vaultAddress": e.Vault.String()},
	}
}

// CollateralDeposited carries the vault balances observed before the deposit
// was applied.
type CollateralDeposited struct {
	Vault            crypto.Address
	Depositor        crypto.Address
	AmountDeposited  uint64
	CollateralAmount uint64
	DebtAmount       uint64
}

func (CollateralDeposited) EventType() string { return TypeVaultDepositCollateral }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultDepositCollateral,
		Attributes: map[string]string{
			"vaultAddress":          e.Vault.String(),
			"depositor":             e.Depositor.String(),
			"amountDeposited":       formatAmount(e.AmountDeposited),
			"vaultCollateralAmount": formatAmount(e.CollateralAmount),
			"vaultDebtAmount":       formatAmount(e.DebtAmount),
		},
	}
}

type CollateralRedeemed struct {
	Vault            crypto.Address
	Recipient        crypto.Address
	AmountRedeemed   uint64
	YieldPaid        uint64
	ProtocolFee      uint64
	CollateralAmount uint64
	DebtAmount       uint64
}

func (CollateralRedeemed) EventType() string { return TypeVaultRedeemCollateral }

func (e CollateralRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultRedeemCollateral,
		Attributes: map[string]string{
			"vaultAddress":          e.Vault.String(),
			"recipient":             e.Recipient.String(),
			"amountRedeemed":        formatAmount(e.AmountRedeemed),
			"yieldPaid":             formatAmount(e.YieldPaid),
			"protocolFee":           formatAmount(e.ProtocolFee),
			"vaultCollateralAmount": formatAmount(e.CollateralAmount),
			"vaultDebtAmount":       formatAmount(e.DebtAmount),
		},
	}
}

type ZkUsdMinted struct {
	Vault            crypto.Address
	Recipient        crypto.Address
	AmountMinted     uint64
	CollateralAmount uint64
	DebtAmount       uint64
}

func (ZkUsdMinted) EventType() string { return TypeVaultMintZkUsd }

func (e ZkUsdMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultMintZkUsd,
		Attributes: map[string]string{
			"vaultAddress":          e.Vault.String(),
			"recipient":             e.Recipient.String(),
			"amountMinted":          formatAmount(e.AmountMinted),
			"vaultCollateralAmount": formatAmount(e.CollateralAmount),
			"vaultDebtAmount":       formatAmount(e.DebtAmount),
		},
	}
}

type ZkUsdBurned struct {
	Vault            crypto.Address
	Owner            crypto.Address
	AmountBurned     uint64
	CollateralAmount uint64
	DebtAmount       uint64
}

func (ZkUsdBurned) EventType() string { return TypeVaultBurnZkUsd }

func (e ZkUsdBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultBurnZkUsd,
		Attributes: map[string]string{
			"vaultAddress":          e.Vault.String(),
			"owner":                 e.Owner.String(),
			"amountBurned":          formatAmount(e.AmountBurned),
			"vaultCollateralAmount": formatAmount(e.CollateralAmount),
			"vaultDebtAmount":       formatAmount(e.DebtAmount),
		},
	}
}

type VaultLiquidated struct {
	Vault                     crypto.Address
	Liquidator                crypto.Address
	VaultCollateralLiquidated uint64
	VaultDebtRepaid           uint64
	Price                     uint64
}

func (VaultLiquidated) EventType() string { return TypeVaultLiquidate }

func (e VaultLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultLiquidate,
		Attributes: map[string]string{
			"vaultAddress":              e.Vault.String(),
			"liquidator":                e.Liquidator.String(),
			"vaultCollateralLiquidated": formatAmount(e.VaultCollateralLiquidated),
			"vaultDebtRepaid":           formatAmount(e.VaultDebtRepaid),
			"price":                     formatAmount(e.Price),
		},
	}
}
