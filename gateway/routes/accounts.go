package routes

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"zkusd/crypto"
	"zkusd/native/bank"
)

const maxEventPage = 500

type transferRequest struct {
	Asset  string `json:"asset"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

func (a *api) mountAccounts(r chi.Router) {
	r.Get("/accounts/{address}/balances", a.balances)
	r.Post("/transfers", a.transfer)
}

// accountParam accepts account and vault addresses; vault accounts hold
// collateral and yield.
func accountParam(r *http.Request) (crypto.Address, error) {
	raw := chi.URLParam(r, "address")
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, badRequest{err}
	}
	switch addr.Prefix() {
	case crypto.AccountPrefix, crypto.VaultPrefix:
		return addr, nil
	}
	return crypto.Address{}, badRequest{errors.New("unsupported address prefix")}
}

func (a *api) balances(w http.ResponseWriter, r *http.Request) {
	addr, err := accountParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	base, err := a.node.Balance(bank.AssetBase, addr)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	zkusd, err := a.node.Balance(bank.AssetZkUsd, addr)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":               addr.String(),
		string(bank.AssetBase):  base,
		string(bank.AssetZkUsd): zkusd,
	})
}

func (a *api) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	from, err := callerAddress(r, "from", req.From)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To, crypto.AccountPrefix)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	asset := bank.Asset(strings.ToUpper(strings.TrimSpace(req.Asset)))
	if err := a.node.Transfer(asset, from, to, req.Amount); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "amount": req.Amount})
}

func queryUint(r *http.Request, key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest{err}
	}
	return v, nil
}

func (a *api) listEvents(w http.ResponseWriter, r *http.Request) {
	journal := a.node.Journal()
	if journal == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "JournalDisabled", Message: "event journal not enabled for in-memory nodes"})
		return
	}
	from, err := queryUint(r, "from", 1)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit, err := queryUint(r, "limit", 100)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if limit == 0 || limit > maxEventPage {
		limit = maxEventPage
	}
	entries, err := journal.Entries(from, int(limit))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	head, err := journal.Head()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"head": head, "entries": entries})
}

func (a *api) blockHead(w http.ResponseWriter, r *http.Request) {
	head, err := a.node.BlockHead()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	hash, err := head.Hash()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"height":       head.Height,
		"timestamp":    head.Timestamp,
		"journal_head": head.JournalHead,
		"hash":         "0x" + hex.EncodeToString(hash),
	})
}
