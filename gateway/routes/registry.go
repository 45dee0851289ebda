package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"zkusd/core/state"
	"zkusd/crypto"
)

type registryView struct {
	Admin            string   `json:"admin"`
	Treasury         string   `json:"treasury"`
	ProtocolFeeBps   uint64   `json:"protocol_fee_bps"`
	OracleFee        uint64   `json:"oracle_fee"`
	Halted           bool     `json:"halted"`
	WhitelistVersion uint64   `json:"whitelist_version"`
	Whitelist        []string `json:"whitelist"`
}

type haltRequest struct {
	Caller string `json:"caller"`
	Halted bool   `json:"halted"`
}

type feeRequest struct {
	Caller string `json:"caller"`
	Value  uint64 `json:"value"`
}

type treasuryRequest struct {
	Caller   string `json:"caller"`
	Treasury string `json:"treasury"`
}

type whitelistRequest struct {
	Caller  string   `json:"caller"`
	Members []string `json:"members"`
}

func (a *api) mountRegistry(r chi.Router) {
	r.Get("/registry", a.getRegistry)
	r.Post("/registry/halt", a.setHalted)
	r.Post("/registry/protocol-fee", a.setFee(func(caller crypto.Address, v uint64) error {
		return a.node.Registry().SetProtocolFee(caller, v)
	}))
	r.Post("/registry/oracle-fee", a.setFee(func(caller crypto.Address, v uint64) error {
		return a.node.Registry().SetOracleFee(caller, v)
	}))
	r.Post("/registry/treasury", a.setTreasury)
	r.Post("/registry/whitelist", a.setWhitelist)
}

func (a *api) getRegistry(w http.ResponseWriter, r *http.Request) {
	var view registryView
	err := a.node.Store().View(func(rd state.Reader) error {
		params, err := a.node.Registry().Params(rd)
		if err != nil {
			return err
		}
		wl, err := a.node.Registry().Whitelist(rd)
		if err != nil {
			return err
		}
		view = registryView{
			Admin:            accountString(params.Admin),
			Treasury:         accountString(params.Treasury),
			ProtocolFeeBps:   params.ProtocolFeeBps,
			OracleFee:        params.OracleFee,
			Halted:           params.Halted,
			WhitelistVersion: wl.Version,
			Whitelist:        make([]string, 0, len(wl.Members)),
		}
		for _, m := range wl.Members {
			view.Whitelist = append(view.Whitelist, accountString(m))
		}
		return nil
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) setHalted(w http.ResponseWriter, r *http.Request) {
	var req haltRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	caller, err := callerAddress(r, "caller", req.Caller)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.node.Registry().SetHalted(caller, req.Halted); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Warn("emergency halt changed", "halted", req.Halted, "by", caller.String())
	writeJSON(w, http.StatusOK, map[string]bool{"halted": req.Halted})
}

func (a *api) setFee(apply func(crypto.Address, uint64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feeRequest
		if err := decode(r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
		caller, err := callerAddress(r, "caller", req.Caller)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if err := apply(caller, req.Value); err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]uint64{"value": req.Value})
	}
}

func (a *api) setTreasury(w http.ResponseWriter, r *http.Request) {
	var req treasuryRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	caller, err := callerAddress(r, "caller", req.Caller)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	treasury, err := parseAddress("treasury", req.Treasury, crypto.AccountPrefix)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.node.Registry().SetTreasury(caller, treasury); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"treasury": treasury.String()})
}

func (a *api) setWhitelist(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	caller, err := callerAddress(r, "caller", req.Caller)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	members := make([][20]byte, 0, len(req.Members))
	for _, raw := range req.Members {
		addr, err := parseAddress("members", raw, crypto.AccountPrefix)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		members = append(members, addr.Array())
	}
	wl, err := a.node.Registry().SetWhitelist(caller, members)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": wl.Version, "members": len(wl.Members)})
}
