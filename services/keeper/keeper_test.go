package keeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"zkusd/core/types"
	"zkusd/native/oracle"
	"zkusd/native/vault"
)

type fakeChain struct {
	height uint64
	err    error
	seen   []time.Time
}

func (f *fakeChain) AdvanceBlock(now time.Time) (types.BlockHeader, error) {
	if f.err != nil {
		return types.BlockHeader{}, f.err
	}
	f.height++
	f.seen = append(f.seen, now)
	return types.BlockHeader{Height: f.height, Timestamp: uint64(now.Unix())}, nil
}

type fakeSettler struct {
	calls   int
	pending bool
}

func (f *fakeSettler) SettlePriceUpdate() (oracle.RoundRecord, bool, error) {
	f.calls++
	if !f.pending {
		return oracle.RoundRecord{}, false, nil
	}
	f.pending = false
	return oracle.RoundRecord{Round: 0, Price: 42}, true, nil
}

type fakeScanner struct{ vaults []vault.Vault }

func (f fakeScanner) Liquidatable() ([]vault.Vault, error) { return f.vaults, nil }

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, &fakeSettler{}, nil, time.Second); err == nil {
		t.Fatalf("expected chain error")
	}
	if _, err := New(&fakeChain{}, nil, nil, time.Second); err == nil {
		t.Fatalf("expected settler error")
	}
	if _, err := New(&fakeChain{}, &fakeSettler{}, nil, 0); err == nil {
		t.Fatalf("expected interval error")
	}
}

func TestTickAdvancesSettlesAndScans(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	chain := &fakeChain{}
	settler := &fakeSettler{pending: true}
	scanner := fakeScanner{vaults: make([]vault.Vault, 2)}
	k, err := New(chain, settler, scanner, time.Second, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := k.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Header.Height != 1 || !res.Settled || res.Round.Price != 42 || res.Liquidatable != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !chain.seen[0].Equal(fixed) {
		t.Fatalf("clock override ignored")
	}
	res, err = k.Tick(context.Background())
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if res.Settled || res.Header.Height != 2 {
		t.Fatalf("empty round should not settle: %+v", res)
	}
}

func TestTickWithoutAutoSettle(t *testing.T) {
	settler := &fakeSettler{pending: true}
	k, err := New(&fakeChain{}, settler, nil, time.Second, WithAutoSettle(false))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := k.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if settler.calls != 0 {
		t.Fatalf("settler should not run, calls=%d", settler.calls)
	}
}

func TestTickPropagatesChainError(t *testing.T) {
	boom := errors.New("disk full")
	k, err := New(&fakeChain{err: boom}, &fakeSettler{}, nil, time.Second)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := k.Tick(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected chain error, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	chain := &fakeChain{}
	k, err := New(chain, &fakeSettler{}, nil, time.Millisecond)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := k.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
