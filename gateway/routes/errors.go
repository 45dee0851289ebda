package routes

import (
	"errors"
	"net/http"

	"zkusd/core/state"
	"zkusd/gateway/auth"
	"zkusd/native/bank"
	nativecommon "zkusd/native/common"
	"zkusd/native/fixedpoint"
	"zkusd/native/oracle"
	"zkusd/native/registry"
	"zkusd/native/vault"
)

var errPrincipalMismatch = errors.New("routes: identity does not match the signing key")

// errorTag pairs a sentinel with the stable tag and status returned to callers.
type errorTag struct {
	err    error
	tag    string
	status int
}

var errorTags = []errorTag{
	{vault.ErrAmountZero, "AmountZero", http.StatusBadRequest},
	{vault.ErrAmountExceedsDebt, "AmountExceedsDebt", http.StatusBadRequest},
	{vault.ErrBalanceZero, "BalanceZero", http.StatusBadRequest},
	{oracle.ErrPriceZero, "PriceZero", http.StatusBadRequest},
	{bank.ErrUnknownAsset, "UnknownAsset", http.StatusBadRequest},
	{bank.ErrSelfTransfer, "SelfTransfer", http.StatusBadRequest},
	{registry.ErrInvalidFee, "InvalidFee", http.StatusBadRequest},
	{registry.ErrWhitelistTooLarge, "WhitelistTooLarge", http.StatusBadRequest},
	{registry.ErrDuplicateMember, "DuplicateMember", http.StatusBadRequest},
	{registry.ErrZeroAddress, "ZeroAddress", http.StatusBadRequest},

	{auth.ErrUnauthenticated, "Unauthenticated", http.StatusUnauthorized},
	{auth.ErrReplay, "Unauthenticated", http.StatusUnauthorized},

	{errPrincipalMismatch, "PrincipalMismatch", http.StatusForbidden},
	{vault.ErrInvalidSecret, "InvalidSecret", http.StatusForbidden},
	{oracle.ErrSenderNotWhitelisted, "SenderNotWhitelisted", http.StatusForbidden},
	{oracle.ErrInvalidWhitelist, "InvalidWhitelist", http.StatusForbidden},
	{oracle.ErrUnauthorized, "Unauthorized", http.StatusForbidden},
	{registry.ErrUnauthorized, "Unauthorized", http.StatusForbidden},

	{vault.ErrVaultNotFound, "VaultNotFound", http.StatusNotFound},
	{oracle.ErrRoundNotFound, "RoundNotFound", http.StatusNotFound},

	{state.ErrConflict, "Conflict", http.StatusConflict},
	{oracle.ErrPendingActionExists, "PendingActionExists", http.StatusConflict},
	{vault.ErrVaultExists, "VaultExists", http.StatusConflict},
	{vault.ErrInteractionPending, "InteractionPending", http.StatusConflict},

	{vault.ErrInsufficientCollateral, "InsufficientCollateral", http.StatusUnprocessableEntity},
	{bank.ErrInsufficientBalance, "InsufficientBalance", http.StatusUnprocessableEntity},
	{vault.ErrHealthFactorTooLow, "HealthFactorTooLow", http.StatusUnprocessableEntity},
	{vault.ErrHealthFactorTooHigh, "HealthFactorTooHigh", http.StatusUnprocessableEntity},
	{oracle.ErrCapacityExceeded, "CapacityExceeded", http.StatusUnprocessableEntity},

	{nativecommon.ErrEmergencyHalt, "EmergencyHalt", http.StatusServiceUnavailable},
	{oracle.ErrOracleExpired, "OracleExpired", http.StatusServiceUnavailable},
	{registry.ErrNotInitialized, "NotInitialized", http.StatusServiceUnavailable},

	{fixedpoint.ErrDivisionByZero, "DivisionByZero", http.StatusInternalServerError},
	{fixedpoint.ErrOverflow, "Overflow", http.StatusInternalServerError},
	{fixedpoint.ErrWitnessMismatch, "WitnessMismatch", http.StatusInternalServerError},
	{bank.ErrBalanceOverflow, "BalanceOverflow", http.StatusInternalServerError},
	{vault.ErrInteractionNotConsumed, "InteractionNotConsumed", http.StatusInternalServerError},
	{vault.ErrInvalidInteraction, "InvalidInteraction", http.StatusInternalServerError},
}

// badRequest marks decode and argument errors raised by the handlers.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

// classify returns the tag and status for err.
func classify(err error) (string, int) {
	var bad badRequest
	if errors.As(err, &bad) {
		return "BadRequest", http.StatusBadRequest
	}
	for _, entry := range errorTags {
		if errors.Is(err, entry.err) {
			return entry.tag, entry.status
		}
	}
	return "Internal", http.StatusInternalServerError
}
