// Package auth verifies HMAC-signed gateway requests and binds each API key to
// the account address it is allowed to act as.
package auth

import (
	"container/list"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"zkusd/crypto"
)

const (
	// HeaderAPIKey carries the client's API key identifier.
	HeaderAPIKey = "X-Api-Key"
	// HeaderTimestamp is the unix timestamp (seconds) covered by the signature.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce is the per-request replay token.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded HMAC-SHA256 signature.
	HeaderSignature = "X-Signature"
	// MaxBodyForSignature is the largest body hashed during authentication.
	MaxBodyForSignature int = 1 << 20

	maxTimestampSkew     = 2 * time.Minute
	maxNonceWindow       = 10 * time.Minute
	defaultNonceCapacity = 4096
	maxNonceCapacity     = 65536
	pruneInterval        = time.Minute
)

var (
	ErrUnauthenticated = errors.New("auth: request not authenticated")
	ErrReplay          = errors.New("auth: request replayed")
)

// Client is a configured API key and the account it signs for.
type Client struct {
	ID      string
	Secret  string
	Address crypto.Address
}

// Principal is the authenticated caller of a request.
type Principal struct {
	APIKey  string
	Address crypto.Address
}

// NonceRecord is a persisted nonce observation.
type NonceRecord struct {
	APIKey     string
	Timestamp  string
	Nonce      string
	ObservedAt time.Time
}

// NoncePersistence keeps nonce observations across restarts.
type NoncePersistence interface {
	EnsureNonce(ctx context.Context, record NonceRecord) (bool, error)
	RecentNonces(ctx context.Context, cutoff time.Time) ([]NonceRecord, error)
	PruneNonces(ctx context.Context, cutoff time.Time) error
}

// Options tunes replay protection. Values above the hard limits are clamped.
type Options struct {
	TimestampSkew time.Duration
	NonceTTL      time.Duration
	NonceCapacity int
	Now           func() time.Time
	Persistence   NoncePersistence
}

// Authenticator checks API key signatures and replay windows.
type Authenticator struct {
	clients       map[string]Client
	skew          time.Duration
	nonceTTL      time.Duration
	nonceCapacity int
	now           func() time.Time

	nonceMu sync.Mutex
	nonces  map[string]*nonceCache

	lastSeenMu sync.Mutex
	lastSeen   map[string]int64

	persistence NoncePersistence
	pruneMu     sync.Mutex
	lastPruned  time.Time
}

// NewAuthenticator indexes clients by API key. Every client must sign for an
// account address.
func NewAuthenticator(clients []Client, opts Options) (*Authenticator, error) {
	index := make(map[string]Client, len(clients))
	for _, c := range clients {
		c.ID = strings.TrimSpace(c.ID)
		c.Secret = strings.TrimSpace(c.Secret)
		if c.ID == "" || c.Secret == "" {
			return nil, fmt.Errorf("auth: api key id and secret required")
		}
		if c.Address.Prefix() != crypto.AccountPrefix || c.Address.Array() == ([20]byte{}) {
			return nil, fmt.Errorf("auth: api key %s must sign for a %s address", c.ID, crypto.AccountPrefix)
		}
		if _, dup := index[c.ID]; dup {
			return nil, fmt.Errorf("auth: duplicate api key %s", c.ID)
		}
		index[c.ID] = c
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TimestampSkew <= 0 || opts.TimestampSkew > maxTimestampSkew {
		opts.TimestampSkew = maxTimestampSkew
	}
	if opts.NonceTTL <= 0 || opts.NonceTTL > maxNonceWindow {
		opts.NonceTTL = maxNonceWindow
	}
	if opts.NonceCapacity <= 0 {
		opts.NonceCapacity = defaultNonceCapacity
	}
	if opts.NonceCapacity > maxNonceCapacity {
		opts.NonceCapacity = maxNonceCapacity
	}
	return &Authenticator{
		clients:       index,
		skew:          opts.TimestampSkew,
		nonceTTL:      opts.NonceTTL,
		nonceCapacity: opts.NonceCapacity,
		now:           opts.Now,
		nonces:        make(map[string]*nonceCache),
		lastSeen:      make(map[string]int64),
		persistence:   opts.Persistence,
	}, nil
}

// Authenticate validates the signature headers over body and returns the
// principal bound to the API key.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (Principal, error) {
	if a == nil {
		return Principal{}, ErrUnauthenticated
	}
	if len(body) > MaxBodyForSignature {
		return Principal{}, fmt.Errorf("%w: body exceeds %d bytes", ErrUnauthenticated, MaxBodyForSignature)
	}
	apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if apiKey == "" {
		return Principal{}, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, HeaderAPIKey)
	}
	client, ok := a.clients[apiKey]
	if !ok {
		return Principal{}, fmt.Errorf("%w: unknown api key", ErrUnauthenticated)
	}
	tsHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	ts, err := parseUnix(tsHeader)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: invalid %s header", ErrUnauthenticated, HeaderTimestamp)
	}
	now := a.now().UTC()
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > a.skew {
		return Principal{}, fmt.Errorf("%w: timestamp outside %s window", ErrUnauthenticated, a.skew)
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" {
		return Principal{}, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, HeaderNonce)
	}
	provided, err := hex.DecodeString(strings.TrimSpace(r.Header.Get(HeaderSignature)))
	if err != nil || len(provided) == 0 {
		return Principal{}, fmt.Errorf("%w: invalid %s header", ErrUnauthenticated, HeaderSignature)
	}
	expected := ComputeSignature(client.Secret, tsHeader, nonce, r.Method, CanonicalRequestPath(r), body)
	if !hmac.Equal(provided, expected) {
		return Principal{}, fmt.Errorf("%w: signature mismatch", ErrUnauthenticated)
	}
	duplicate, err := a.registerNonce(r.Context(), apiKey, tsHeader, nonce, now)
	if err != nil {
		return Principal{}, err
	}
	if duplicate {
		return Principal{}, fmt.Errorf("%w: nonce already used", ErrReplay)
	}
	if a.timestampReplayed(apiKey, ts, now) {
		return Principal{}, fmt.Errorf("%w: timestamp not increasing", ErrReplay)
	}
	return Principal{APIKey: apiKey, Address: client.Address}, nil
}

// HydrateNonces loads persisted nonces observed after cutoff into the cache.
func (a *Authenticator) HydrateNonces(ctx context.Context, cutoff time.Time) error {
	if a == nil || a.persistence == nil {
		return nil
	}
	records, err := a.persistence.RecentNonces(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("auth: load nonces: %w", err)
	}
	for _, rec := range records {
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = cutoff
		}
		a.cache(rec.APIKey).Add(rec.Timestamp+"|"+rec.Nonce, observed)
	}
	return nil
}

func (a *Authenticator) registerNonce(ctx context.Context, apiKey, ts, nonce string, now time.Time) (bool, error) {
	cache := a.cache(apiKey)
	key := ts + "|" + nonce
	if cache.Contains(key, now) {
		return true, nil
	}
	if a.persistence != nil {
		if err := a.prune(ctx, now); err != nil {
			return false, err
		}
		existed, err := a.persistence.EnsureNonce(ctx, NonceRecord{APIKey: apiKey, Timestamp: ts, Nonce: nonce, ObservedAt: now})
		if err != nil {
			return false, fmt.Errorf("auth: persist nonce: %w", err)
		}
		cache.Add(key, now)
		return existed, nil
	}
	cache.Add(key, now)
	return false, nil
}

func (a *Authenticator) prune(ctx context.Context, now time.Time) error {
	a.pruneMu.Lock()
	defer a.pruneMu.Unlock()
	if !a.lastPruned.IsZero() && now.Sub(a.lastPruned) < pruneInterval {
		return nil
	}
	if err := a.persistence.PruneNonces(ctx, now.Add(-a.nonceTTL)); err != nil {
		return fmt.Errorf("auth: prune nonces: %w", err)
	}
	a.lastPruned = now
	return nil
}

// timestampReplayed rejects timestamps older than the last accepted one for
// the key while that one is still inside the skew window.
func (a *Authenticator) timestampReplayed(apiKey string, ts, now time.Time) bool {
	current := ts.Unix()
	a.lastSeenMu.Lock()
	defer a.lastSeenMu.Unlock()
	last, ok := a.lastSeen[apiKey]
	if ok && time.Unix(last, 0).After(now.Add(-a.skew)) && current < last {
		return true
	}
	if !ok || current > last {
		a.lastSeen[apiKey] = current
	}
	return false
}

func (a *Authenticator) cache(apiKey string) *nonceCache {
	a.nonceMu.Lock()
	defer a.nonceMu.Unlock()
	c, ok := a.nonces[apiKey]
	if !ok {
		c = newNonceCache(a.nonceTTL, a.nonceCapacity)
		a.nonces[apiKey] = c
	}
	return c
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached by the gateway middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// CanonicalRequestPath is the path plus sorted query used when signing.
func CanonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		parts := strings.Split(r.URL.RawQuery, "&")
		sort.Strings(parts)
		path += "?" + strings.Join(parts, "&")
	}
	return path
}

// ComputeSignature returns the HMAC-SHA256 over the request metadata and body.
func ComputeSignature(secret, timestamp, nonce, method, path string, body []byte) []byte {
	payload := strings.Join([]string{timestamp, nonce, strings.ToUpper(method), path, string(body)}, "\n")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// SignRequest sets the authentication headers on req for body.
func SignRequest(req *http.Request, apiKey, secret, nonce string, at time.Time, body []byte) {
	ts := strconv.FormatInt(at.Unix(), 10)
	req.Header.Set(HeaderAPIKey, apiKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, hex.EncodeToString(ComputeSignature(secret, ts, nonce, req.Method, CanonicalRequestPath(req), body)))
}

func parseUnix(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

// nonceCache is a TTL-bounded LRU of observed nonces for one API key.
type nonceCache struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type nonceEntry struct {
	key string
	at  time.Time
}

func newNonceCache(ttl time.Duration, capacity int) *nonceCache {
	return &nonceCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (n *nonceCache) Contains(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expire(now.Add(-n.ttl))
	_, ok := n.entries[key]
	return ok
}

func (n *nonceCache) Add(key string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expire(now.Add(-n.ttl))
	if elem, ok := n.entries[key]; ok {
		elem.Value = nonceEntry{key: key, at: now}
		n.order.MoveToBack(elem)
		return
	}
	for n.order.Len() >= n.capacity {
		n.drop(n.order.Front())
	}
	n.entries[key] = n.order.PushBack(nonceEntry{key: key, at: now})
}

func (n *nonceCache) expire(cutoff time.Time) {
	for front := n.order.Front(); front != nil; front = n.order.Front() {
		if !front.Value.(nonceEntry).at.Before(cutoff) {
			return
		}
		n.drop(front)
	}
}

func (n *nonceCache) drop(elem *list.Element) {
	if elem == nil {
		return
	}
	n.order.Remove(elem)
	delete(n.entries, elem.Value.(nonceEntry).key)
}
