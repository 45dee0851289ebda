package routes

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"zkusd/crypto"
	"zkusd/gateway/auth"
	"zkusd/gateway/middleware"
)

const requestLimit = 1 << 20 // 1 MiB

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	tag, status := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		a.logger.Error("request failed",
			slog.String("route", r.URL.Path),
			slog.String("request_id", middleware.RequestIDFrom(r.Context())),
			slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{
		Error:     tag,
		Message:   err.Error(),
		RequestID: middleware.RequestIDFrom(r.Context()),
	})
}

func decode(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest{fmt.Errorf("request body required")}
		}
		return badRequest{fmt.Errorf("decode request: %w", err)}
	}
	return nil
}

func parseAddress(field, value string, prefix crypto.AddressPrefix) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, badRequest{fmt.Errorf("%s required", field)}
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, badRequest{fmt.Errorf("%s: %w", field, err)}
	}
	if addr.Prefix() != prefix {
		return crypto.Address{}, badRequest{fmt.Errorf("%s: expected %s prefix, got %s", field, prefix, addr.Prefix())}
	}
	return addr, nil
}

// callerAddress parses an identity field and requires it to be the account the
// request was signed for.
func callerAddress(r *http.Request, field, value string) (crypto.Address, error) {
	addr, err := parseAddress(field, value, crypto.AccountPrefix)
	if err != nil {
		return crypto.Address{}, err
	}
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return crypto.Address{}, auth.ErrUnauthenticated
	}
	if principal.Address.Array() != addr.Array() {
		return crypto.Address{}, fmt.Errorf("%w: %s %s, signed for %s", errPrincipalMismatch, field, addr, principal.Address)
	}
	return addr, nil
}

func parseSecret(value string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return nil, badRequest{fmt.Errorf("secret: %w", err)}
	}
	if len(raw) == 0 {
		return nil, badRequest{fmt.Errorf("secret required")}
	}
	return raw, nil
}

func parseCommitment(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return out, badRequest{fmt.Errorf("commitment: %w", err)}
	}
	if len(raw) != len(out) {
		return out, badRequest{fmt.Errorf("commitment must be 32 bytes, got %d", len(raw))}
	}
	copy(out[:], raw)
	return out, nil
}

func accountString(raw [20]byte) string {
	return crypto.AddressFromArray(crypto.AccountPrefix, raw).String()
}
