package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"zkusd/crypto"
)

func testAddress(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = 0x0d
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func newTestAuthenticator(t *testing.T, now *time.Time, persistence NoncePersistence) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator([]Client{
		{ID: "oracle-a", Secret: "s3cret", Address: testAddress(1)},
		{ID: "admin", Secret: "adm1n", Address: testAddress(2)},
	}, Options{Now: func() time.Time { return *now }, Persistence: persistence})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	return a
}

func signed(method, path, key, secret, nonce string, at time.Time, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	SignRequest(req, key, secret, nonce, at, body)
	return req
}

func TestAuthenticateBindsPrincipal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := newTestAuthenticator(t, &now, nil)
	body := []byte(`{"price":5}`)

	principal, err := a.Authenticate(signed(http.MethodPost, "/v1/oracle/submit?b=2&a=1", "oracle-a", "s3cret", "n1", now, body), body)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.APIKey != "oracle-a" || principal.Address.String() != testAddress(1).String() {
		t.Fatalf("unexpected principal %+v", principal)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := newTestAuthenticator(t, &now, nil)
	body := []byte(`{"price":5}`)

	cases := map[string]*http.Request{
		"unsigned":     httptest.NewRequest(http.MethodPost, "/v1/oracle/submit", bytes.NewReader(body)),
		"unknown key":  signed(http.MethodPost, "/v1/oracle/submit", "stranger", "s3cret", "n1", now, body),
		"wrong secret": signed(http.MethodPost, "/v1/oracle/submit", "oracle-a", "guess", "n2", now, body),
		"stale":        signed(http.MethodPost, "/v1/oracle/submit", "oracle-a", "s3cret", "n3", now.Add(-5*time.Minute), body),
		"other path":   signed(http.MethodPost, "/v1/oracle/fallback", "oracle-a", "s3cret", "n4", now, body),
	}
	cases["other path"].URL.Path = "/v1/oracle/submit"
	for name, req := range cases {
		if _, err := a.Authenticate(req, body); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}

	tampered := signed(http.MethodPost, "/v1/oracle/submit", "oracle-a", "s3cret", "n5", now, body)
	if _, err := a.Authenticate(tampered, []byte(`{"price":500}`)); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected tampered body to fail, got %v", err)
	}
}

func TestAuthenticateRejectsReplay(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := newTestAuthenticator(t, &now, nil)
	body := []byte(`{}`)

	if _, err := a.Authenticate(signed(http.MethodPost, "/v1/oracle/settle", "admin", "adm1n", "n1", now, body), body); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := a.Authenticate(signed(http.MethodPost, "/v1/oracle/settle", "admin", "adm1n", "n1", now, body), body); !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay for reused nonce, got %v", err)
	}

	now = now.Add(30 * time.Second)
	if _, err := a.Authenticate(signed(http.MethodPost, "/v1/oracle/settle", "admin", "adm1n", "n2", now, body), body); err != nil {
		t.Fatalf("newer request: %v", err)
	}
	older := now.Add(-20 * time.Second)
	if _, err := a.Authenticate(signed(http.MethodPost, "/v1/oracle/settle", "admin", "adm1n", "n3", older, body), body); !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay for older timestamp, got %v", err)
	}
}

func TestNewAuthenticatorValidatesClients(t *testing.T) {
	vault := crypto.NewAddress(crypto.VaultPrefix, testAddress(3).Bytes())
	cases := map[string][]Client{
		"missing secret": {{ID: "a", Address: testAddress(1)}},
		"vault address":  {{ID: "a", Secret: "s", Address: vault}},
		"zero address":   {{ID: "a", Secret: "s"}},
		"duplicate":      {{ID: "a", Secret: "s", Address: testAddress(1)}, {ID: "a", Secret: "t", Address: testAddress(2)}},
	}
	for name, clients := range cases {
		if _, err := NewAuthenticator(clients, Options{}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	a, err := NewAuthenticator(nil, Options{TimestampSkew: time.Hour, NonceTTL: time.Hour, NonceCapacity: 1 << 30})
	if err != nil {
		t.Fatalf("empty authenticator: %v", err)
	}
	if a.skew != maxTimestampSkew || a.nonceTTL != maxNonceWindow || a.nonceCapacity != maxNonceCapacity {
		t.Fatalf("limits not clamped: skew=%s ttl=%s cap=%d", a.skew, a.nonceTTL, a.nonceCapacity)
	}
}

func TestNonceCacheEvictsOldestAndExpired(t *testing.T) {
	cache := newNonceCache(30*time.Second, 3)
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 4; i++ {
		cache.Add(fmt.Sprintf("n%d", i), base)
	}
	if cache.Contains("n0", base) {
		t.Fatalf("oldest nonce should be evicted at capacity")
	}
	if !cache.Contains("n3", base) {
		t.Fatalf("newest nonce missing")
	}
	if cache.Contains("n3", base.Add(time.Minute)) {
		t.Fatalf("nonce should expire after the ttl")
	}
	if len(cache.entries) != 0 {
		t.Fatalf("expected empty cache, got %d", len(cache.entries))
	}
}

func TestLevelDBNoncesSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces")
	store, err := OpenLevelDBNonces(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{}`)
	first := newTestAuthenticator(t, &now, store)
	if _, err := first.Authenticate(signed(http.MethodPost, "/v1/oracle/settle", "admin", "adm1n", "n1", now, body), body); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenLevelDBNonces(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	second := newTestAuthenticator(t, &now, reopened)
	if err := second.HydrateNonces(context.Background(), now.Add(-time.Minute)); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if !second.cache("admin").Contains(fmt.Sprintf("%d|n1", now.Unix()), now) {
		t.Fatalf("hydrated cache missing nonce")
	}
	if _, err := second.Authenticate(signed(http.MethodPost, "/v1/oracle/settle", "admin", "adm1n", "n1", now, body), body); !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay after restart, got %v", err)
	}

	if err := reopened.PruneNonces(context.Background(), now.Add(time.Second)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	records, err := reopened.RecentNonces(context.Background(), time.Unix(0, 0))
	if err != nil || len(records) != 0 {
		t.Fatalf("expected pruned store, got %d records (%v)", len(records), err)
	}
}
