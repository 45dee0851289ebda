package routes

import (
	"encoding/hex"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zkusd/crypto"
	"zkusd/native/vault"
)

type vaultView struct {
	Address             string  `json:"address"`
	CollateralAmount    uint64  `json:"collateral_amount"`
	DebtAmount          uint64  `json:"debt_amount"`
	OwnershipCommitment string  `json:"ownership_commitment"`
	InteractionNonce    uint64  `json:"interaction_nonce"`
	HealthFactor        *uint64 `json:"health_factor,omitempty"`
}

func newVaultView(v vault.Vault) vaultView {
	return vaultView{
		Address:             v.AddressString(),
		CollateralAmount:    v.CollateralAmount,
		DebtAmount:          v.DebtAmount,
		OwnershipCommitment: "0x" + hex.EncodeToString(v.OwnershipCommitment[:]),
		InteractionNonce:    v.InteractionNonce,
	}
}

type createVaultRequest struct {
	Commitment string `json:"commitment"`
}

type vaultActionRequest struct {
	Caller string `json:"caller"`
	Amount uint64 `json:"amount"`
	Secret string `json:"secret"`
}

type liquidateRequest struct {
	Liquidator string `json:"liquidator"`
}

func (a *api) mountVaults(r chi.Router) {
	r.Post("/vaults", a.createVault)
	r.Get("/vaults", a.listVaults)
	r.Get("/vaults/liquidatable", a.liquidatable)
	r.Route("/vaults/{address}", func(vr chi.Router) {
		vr.Get("/", a.getVault)
		vr.Get("/health", a.vaultHealth)
		vr.Post("/deposit", a.vaultAction(a.node.Vaults().DepositCollateral))
		vr.Post("/redeem", a.vaultAction(a.node.Vaults().RedeemCollateral))
		vr.Post("/mint", a.vaultAction(a.node.Vaults().MintZkUsd))
		vr.Post("/burn", a.vaultAction(a.node.Vaults().BurnZkUsd))
		vr.Post("/liquidate", a.liquidate)
	})
}

func vaultParam(r *http.Request) (crypto.Address, error) {
	return parseAddress("vault", chi.URLParam(r, "address"), crypto.VaultPrefix)
}

func (a *api) createVault(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	commitment, err := parseCommitment(req.Commitment)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	addr, err := a.node.Vaults().CreateVault(commitment)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"vault": addr.String()})
}

func (a *api) listVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := a.node.Vaults().Vaults()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]vaultView, 0, len(vaults))
	for _, v := range vaults {
		out = append(out, newVaultView(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) liquidatable(w http.ResponseWriter, r *http.Request) {
	vaults, err := a.node.Vaults().Liquidatable()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]vaultView, 0, len(vaults))
	for _, v := range vaults {
		out = append(out, newVaultView(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) getVault(w http.ResponseWriter, r *http.Request) {
	addr, err := vaultParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	v, err := a.node.Vaults().Vault(addr)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	view := newVaultView(v)
	if hf, err := a.node.Vaults().HealthFactor(addr); err == nil {
		view.HealthFactor = &hf
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) vaultHealth(w http.ResponseWriter, r *http.Request) {
	addr, err := vaultParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	hf, err := a.node.Vaults().HealthFactor(addr)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vault": addr.String(), "health_factor": hf})
}

type vaultOp func(vault, caller crypto.Address, amount uint64, secret []byte) error

func (a *api) vaultAction(op vaultOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := vaultParam(r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		var req vaultActionRequest
		if err := decode(r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
		caller, err := callerAddress(r, "caller", req.Caller)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		secret, err := parseSecret(req.Secret)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if err := op(addr, caller, req.Amount, secret); err != nil {
			a.writeError(w, r, err)
			return
		}
		a.writeVault(w, r, addr)
	}
}

func (a *api) liquidate(w http.ResponseWriter, r *http.Request) {
	addr, err := vaultParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req liquidateRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	liquidator, err := callerAddress(r, "liquidator", req.Liquidator)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.node.Vaults().Liquidate(addr, liquidator); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeVault(w, r, addr)
}

func (a *api) writeVault(w http.ResponseWriter, r *http.Request, addr crypto.Address) {
	v, err := a.node.Vaults().Vault(addr)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newVaultView(v))
}
