package routes

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"zkusd/core/state"
	"zkusd/native/oracle"
	"zkusd/native/registry"
)

type submitPriceRequest struct {
	Submitter string `json:"submitter"`
	Price     uint64 `json:"price"`
	// WhitelistVersion pins the snapshot the submitter observed. When omitted
	// the current registry whitelist is used.
	WhitelistVersion *uint64 `json:"whitelist_version,omitempty"`
}

type fallbackRequest struct {
	Caller string `json:"caller"`
	Price  uint64 `json:"price"`
}

type submissionView struct {
	Submitter string `json:"submitter"`
	Price     uint64 `json:"price"`
	Round     uint64 `json:"round"`
	Height    uint64 `json:"height"`
}

type roundView struct {
	Round       uint64 `json:"round"`
	Price       uint64 `json:"price"`
	Submissions uint64 `json:"submissions"`
	Height      uint64 `json:"height"`
}

func newRoundView(r oracle.RoundRecord) roundView {
	return roundView{Round: r.Round, Price: r.Price, Submissions: r.Submissions, Height: r.Height}
}

func (a *api) mountOracle(r chi.Router) {
	r.Post("/oracle/submit", a.submitPrice)
	r.Post("/oracle/settle", a.settle)
	r.Post("/oracle/fallback", a.updateFallback)
	r.Get("/oracle/fallback", a.fallbackPrice)
	r.Get("/oracle/price", a.price)
	r.Get("/oracle/feed", a.feed)
	r.Get("/oracle/pending", a.pending)
	r.Get("/oracle/rounds/{round}", a.round)
}

func (a *api) whitelist() (registry.Whitelist, error) {
	var wl registry.Whitelist
	err := a.node.Store().View(func(r state.Reader) error {
		var err error
		wl, err = a.node.Registry().Whitelist(r)
		return err
	})
	return wl, err
}

func (a *api) submitPrice(w http.ResponseWriter, r *http.Request) {
	var req submitPriceRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	submitter, err := callerAddress(r, "submitter", req.Submitter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	snapshot, err := a.whitelist()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.WhitelistVersion != nil {
		snapshot.Version = *req.WhitelistVersion
	}
	if err := a.node.Oracle().SubmitPrice(submitter, req.Price, snapshot); err != nil {
		a.writeError(w, r, err)
		return
	}
	feed, err := a.node.Oracle().Feed()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"round": feed.Round})
}

func (a *api) settle(w http.ResponseWriter, r *http.Request) {
	record, settled, err := a.node.Oracle().SettlePriceUpdate()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !settled {
		writeJSON(w, http.StatusOK, map[string]bool{"settled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settled": true, "round": newRoundView(record)})
}

func (a *api) updateFallback(w http.ResponseWriter, r *http.Request) {
	var req fallbackRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	caller, err := callerAddress(r, "caller", req.Caller)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.node.Oracle().UpdateFallbackPrice(caller, req.Price); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"price": req.Price, "height": a.node.Oracle().BlockHeight()})
}

func (a *api) price(w http.ResponseWriter, r *http.Request) {
	price, err := a.node.Oracle().Price()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"price": price, "height": a.node.Oracle().BlockHeight()})
}

func (a *api) fallbackPrice(w http.ResponseWriter, r *http.Request) {
	price, err := a.node.Oracle().FallbackPrice()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"price": price, "height": a.node.Oracle().BlockHeight()})
}

func (a *api) feed(w http.ResponseWriter, r *http.Request) {
	feed, err := a.node.Oracle().Feed()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{
		"round":            feed.Round,
		"aggregated_price": feed.AggregatedPrice,
		"settled_height":   feed.SettledHeight,
		"fallback_even":    feed.FallbackEven,
		"fallback_odd":     feed.FallbackOdd,
		"height":           a.node.Oracle().BlockHeight(),
	})
}

func (a *api) pending(w http.ResponseWriter, r *http.Request) {
	subs, err := a.node.Oracle().Pending()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]submissionView, 0, len(subs))
	for _, s := range subs {
		out = append(out, submissionView{
			Submitter: accountString(s.Submitter),
			Price:     s.Price,
			Round:     s.Round,
			Height:    s.Height,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) round(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(chi.URLParam(r, "round"), 10, 64)
	if err != nil {
		a.writeError(w, r, badRequest{err})
		return
	}
	record, err := a.node.Oracle().Round(n)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRoundView(record))
}
