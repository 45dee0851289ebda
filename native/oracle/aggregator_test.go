package oracle

import (
	"errors"
	"testing"

	"zkusd/core/events"
	"zkusd/core/events/eventstest"
	"zkusd/core/state"
	"zkusd/crypto"
	"zkusd/native/bank"
	nativecommon "zkusd/native/common"
	"zkusd/native/registry"
	"zkusd/storage"
)

type fixture struct {
	store      *state.Store
	ledger     *bank.Ledger
	registry   *registry.Registry
	aggregator *Aggregator
	recorder   *eventstest.Recorder
	admin      crypto.Address
	account    crypto.Address
	submitters []crypto.Address
}

func makeAddress(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = 0x0c
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    state.NewStore(storage.NewMemDB()),
		ledger:   bank.NewLedger(),
		recorder: &eventstest.Recorder{},
		admin:    makeAddress(1),
		account:  makeAddress(2),
	}
	members := make([][20]byte, 0, 4)
	for i := byte(10); i < 14; i++ {
		addr := makeAddress(i)
		f.submitters = append(f.submitters, addr)
		members = append(members, addr.Array())
	}
	f.registry = registry.New(f.store, 8)
	if err := f.registry.Init(registry.Params{
		Admin:     f.admin.Array(),
		Treasury:  f.admin.Array(),
		OracleFee: 5,
	}, registry.Whitelist{Members: members}); err != nil {
		t.Fatalf("registry init: %v", err)
	}
	cfg.Account = f.account.Array()
	agg, err := NewAggregator(f.store, Collaborators{
		Registry:   f.registry,
		BaseLedger: f.ledger.Asset(bank.AssetBase),
	}, cfg)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	agg.SetEmitter(f.recorder)
	f.aggregator = agg
	return f
}

func (f *fixture) snapshot(t *testing.T) registry.Whitelist {
	t.Helper()
	var out registry.Whitelist
	if err := f.store.View(func(r state.Reader) error {
		var err error
		out, err = f.registry.Whitelist(r)
		return err
	}); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	return out
}

func (f *fixture) submit(t *testing.T, who crypto.Address, price uint64) {
	t.Helper()
	if err := f.aggregator.SubmitPrice(who, price, f.snapshot(t)); err != nil {
		t.Fatalf("submit %d: %v", price, err)
	}
}

func (f *fixture) balance(t *testing.T, addr crypto.Address) uint64 {
	t.Helper()
	var out uint64
	_ = f.store.View(func(r state.Reader) error {
		var err error
		out, err = f.ledger.Balance(r, bank.AssetBase, addr.Array())
		return err
	})
	return out
}

func TestMedian(t *testing.T) {
	cases := []struct {
		in   []uint64
		want uint64
	}{
		{nil, 0},
		{[]uint64{7}, 7},
		{[]uint64{300, 100, 200}, 200},
		{[]uint64{100, 201}, 150},
		{[]uint64{1, 1_000_000, 2, 3}, 2},
		{[]uint64{^uint64(0), ^uint64(0) - 1}, ^uint64(0) - 1},
	}
	for _, tc := range cases {
		if got := median(tc.in); got != tc.want {
			t.Fatalf("median(%v): expected %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestSubmitAndSettle(t *testing.T) {
	f := newFixture(t, Config{})
	f.aggregator.SetBlockHeight(7)
	f.submit(t, f.submitters[0], 1_000_000_000)
	f.submit(t, f.submitters[1], 3_000_000_000)
	f.submit(t, f.submitters[2], 1_100_000_000)

	pending, err := f.aggregator.Pending()
	if err != nil || len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d (%v)", len(pending), err)
	}

	record, settled, err := f.aggregator.SettlePriceUpdate()
	if err != nil || !settled {
		t.Fatalf("settle: settled=%v err=%v", settled, err)
	}
	if record.Price != 1_100_000_000 || record.Submissions != 3 || record.Round != 0 {
		t.Fatalf("unexpected record %+v", record)
	}
	feed, err := f.aggregator.Feed()
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if feed.Round != 1 || feed.AggregatedPrice != 1_100_000_000 || feed.SettledHeight != 7 {
		t.Fatalf("unexpected feed %+v", feed)
	}
	stored, err := f.aggregator.Round(0)
	if err != nil || stored != record {
		t.Fatalf("round history mismatch %+v (%v)", stored, err)
	}
	if pending, _ := f.aggregator.Pending(); len(pending) != 0 {
		t.Fatalf("expected no pending after settle, got %d", len(pending))
	}
}

func TestSettleWithoutSubmissionsIsNoop(t *testing.T) {
	f := newFixture(t, Config{})
	_, settled, err := f.aggregator.SettlePriceUpdate()
	if err != nil || settled {
		t.Fatalf("expected no-op, got settled=%v err=%v", settled, err)
	}

	f.submit(t, f.submitters[0], 42)
	if _, settled, _ := f.aggregator.SettlePriceUpdate(); !settled {
		t.Fatalf("expected settlement")
	}
	_, settled, err = f.aggregator.SettlePriceUpdate()
	if err != nil || settled {
		t.Fatalf("second settle in the same round must be a no-op, got settled=%v err=%v", settled, err)
	}
	feed, _ := f.aggregator.Feed()
	if feed.Round != 1 || feed.AggregatedPrice != 42 {
		t.Fatalf("no-op settle changed the feed: %+v", feed)
	}
	if _, err := f.aggregator.Round(1); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("expected ErrRoundNotFound, got %v", err)
	}
}

func TestPendingSubmissionBlocksResubmit(t *testing.T) {
	f := newFixture(t, Config{})
	who := f.submitters[0]
	f.submit(t, who, 10)
	if err := f.aggregator.SubmitPrice(who, 11, f.snapshot(t)); !errors.Is(err, ErrPendingActionExists) {
		t.Fatalf("expected ErrPendingActionExists, got %v", err)
	}
	if _, _, err := f.aggregator.SettlePriceUpdate(); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := f.aggregator.SubmitPrice(who, 11, f.snapshot(t)); err != nil {
		t.Fatalf("resubmit after settlement: %v", err)
	}
}

func TestWhitelistSnapshotChecks(t *testing.T) {
	f := newFixture(t, Config{})
	stale := f.snapshot(t)

	outsider := makeAddress(99)
	if err := f.aggregator.SubmitPrice(outsider, 10, stale); !errors.Is(err, ErrSenderNotWhitelisted) {
		t.Fatalf("expected ErrSenderNotWhitelisted, got %v", err)
	}

	forged := stale.Clone()
	forged.Members = append(forged.Members, outsider.Array())
	if err := f.aggregator.SubmitPrice(outsider, 10, forged); !errors.Is(err, ErrInvalidWhitelist) {
		t.Fatalf("expected ErrInvalidWhitelist for forged snapshot, got %v", err)
	}

	if _, err := f.registry.SetWhitelist(f.admin, stale.Members); err != nil {
		t.Fatalf("rotate whitelist: %v", err)
	}
	if err := f.aggregator.SubmitPrice(f.submitters[0], 10, stale); !errors.Is(err, ErrInvalidWhitelist) {
		t.Fatalf("expected ErrInvalidWhitelist for stale version, got %v", err)
	}
	f.submit(t, f.submitters[0], 10)
}

func TestSubmitRejectsZeroPrice(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.aggregator.SubmitPrice(f.submitters[0], 0, f.snapshot(t)); !errors.Is(err, ErrPriceZero) {
		t.Fatalf("expected ErrPriceZero, got %v", err)
	}
}

func TestCapacityExceeded(t *testing.T) {
	f := newFixture(t, Config{MaxParticipants: 2})
	f.submit(t, f.submitters[0], 10)
	f.submit(t, f.submitters[1], 20)
	if err := f.aggregator.SubmitPrice(f.submitters[2], 30, f.snapshot(t)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestCapacityCountsOnlyUnsettledSubmissions(t *testing.T) {
	f := newFixture(t, Config{MaxParticipants: 2})
	f.submit(t, f.submitters[0], 10)
	f.submit(t, f.submitters[1], 20)
	if _, settled, err := f.aggregator.SettlePriceUpdate(); err != nil || !settled {
		t.Fatalf("settle: settled=%v err=%v", settled, err)
	}

	f.submit(t, f.submitters[2], 30)
	f.submit(t, f.submitters[0], 40)
	if err := f.aggregator.SubmitPrice(f.submitters[3], 50, f.snapshot(t)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded with two pending, got %v", err)
	}
	record, settled, err := f.aggregator.SettlePriceUpdate()
	if err != nil || !settled || record.Price != 35 {
		t.Fatalf("unexpected settlement %+v settled=%v err=%v", record, settled, err)
	}
	f.submit(t, f.submitters[3], 50)
}

func TestWhitelistRotationKeepsOracleLive(t *testing.T) {
	f := newFixture(t, Config{MaxParticipants: 2})
	first := [][20]byte{f.submitters[0].Array(), f.submitters[1].Array()}
	if _, err := f.registry.SetWhitelist(f.admin, first); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	f.submit(t, f.submitters[0], 10)
	f.submit(t, f.submitters[1], 20)
	if _, settled, err := f.aggregator.SettlePriceUpdate(); err != nil || !settled {
		t.Fatalf("settle: settled=%v err=%v", settled, err)
	}

	second := [][20]byte{f.submitters[2].Array(), f.submitters[3].Array()}
	if _, err := f.registry.SetWhitelist(f.admin, second); err != nil {
		t.Fatalf("rotate whitelist: %v", err)
	}
	for round := 0; round < 3; round++ {
		f.submit(t, f.submitters[2], 100)
		f.submit(t, f.submitters[3], 200)
		record, settled, err := f.aggregator.SettlePriceUpdate()
		if err != nil || !settled || record.Price != 150 {
			t.Fatalf("round %d: unexpected settlement %+v settled=%v err=%v", round, record, settled, err)
		}
	}
	var index [][20]byte
	if err := f.store.View(func(r state.Reader) error {
		var err error
		index, err = loadIndex(r)
		return err
	}); err != nil {
		t.Fatalf("index: %v", err)
	}
	if len(index) != 2 || contains(index, f.submitters[0].Array()) || contains(index, f.submitters[1].Array()) {
		t.Fatalf("rotated-out identities still indexed: %x", index)
	}
}

func TestSettleCompactsRemovedMembers(t *testing.T) {
	f := newFixture(t, Config{MaxParticipants: 2})
	f.submit(t, f.submitters[0], 10)
	f.submit(t, f.submitters[1], 20)

	if _, err := f.registry.SetWhitelist(f.admin, [][20]byte{f.submitters[0].Array(), f.submitters[2].Array()}); err != nil {
		t.Fatalf("rotate whitelist: %v", err)
	}
	record, settled, err := f.aggregator.SettlePriceUpdate()
	if err != nil || !settled || record.Price != 15 {
		t.Fatalf("unexpected settlement %+v settled=%v err=%v", record, settled, err)
	}
	f.submit(t, f.submitters[2], 30)
}

func TestSubmissionFeePaidWhenFunded(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.store.Update(func(tx *state.Txn) error {
		return f.ledger.Credit(tx, bank.AssetBase, f.account.Array(), 12)
	}); err != nil {
		t.Fatalf("fund oracle: %v", err)
	}
	f.submit(t, f.submitters[0], 10)
	f.submit(t, f.submitters[1], 10)
	f.submit(t, f.submitters[2], 10)

	if got := f.balance(t, f.submitters[0]); got != 5 {
		t.Fatalf("first submitter fee %d", got)
	}
	if got := f.balance(t, f.submitters[1]); got != 5 {
		t.Fatalf("second submitter fee %d", got)
	}
	if got := f.balance(t, f.submitters[2]); got != 0 {
		t.Fatalf("unfunded submission must not pay, got %d", got)
	}
	if got := f.balance(t, f.account); got != 2 {
		t.Fatalf("oracle account %d", got)
	}
}

func TestFallbackParity(t *testing.T) {
	f := newFixture(t, Config{})

	if _, err := f.aggregator.FallbackPrice(); !errors.Is(err, ErrOracleExpired) {
		t.Fatalf("expected ErrOracleExpired with no fallback, got %v", err)
	}
	if err := f.aggregator.UpdateFallbackPrice(f.submitters[0], 5); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	f.aggregator.SetBlockHeight(4)
	if err := f.aggregator.UpdateFallbackPrice(f.admin, 0); !errors.Is(err, ErrPriceZero) {
		t.Fatalf("expected ErrPriceZero, got %v", err)
	}
	if err := f.aggregator.UpdateFallbackPrice(f.admin, 7); err != nil {
		t.Fatalf("update even: %v", err)
	}
	feed, _ := f.aggregator.Feed()
	if feed.FallbackEven != 7 || feed.FallbackOdd != 0 {
		t.Fatalf("even height must write only the even slot: %+v", feed)
	}
	if price, err := f.aggregator.FallbackPrice(); err != nil || price != 7 {
		t.Fatalf("expected 7 from the only set slot, got %d (%v)", price, err)
	}

	f.aggregator.SetBlockHeight(5)
	if err := f.aggregator.UpdateFallbackPrice(f.admin, 9); err != nil {
		t.Fatalf("update odd: %v", err)
	}
	feed, _ = f.aggregator.Feed()
	if feed.FallbackEven != 7 || feed.FallbackOdd != 9 {
		t.Fatalf("odd height must write only the odd slot: %+v", feed)
	}
	if price, _ := f.aggregator.FallbackPrice(); price != 7 {
		t.Fatalf("odd-height read must use the even slot, got %d", price)
	}
	f.aggregator.SetBlockHeight(6)
	if price, _ := f.aggregator.FallbackPrice(); price != 9 {
		t.Fatalf("even-height read must use the odd slot, got %d", price)
	}
}

func TestGetPriceFreshness(t *testing.T) {
	f := newFixture(t, Config{MaxAgeBlocks: 5})
	f.aggregator.SetBlockHeight(10)
	f.submit(t, f.submitters[0], 100)
	if _, _, err := f.aggregator.SettlePriceUpdate(); err != nil {
		t.Fatalf("settle: %v", err)
	}

	f.aggregator.SetBlockHeight(15)
	if price, err := f.aggregator.Price(); err != nil || price != 100 {
		t.Fatalf("expected fresh price 100, got %d (%v)", price, err)
	}
	f.aggregator.SetBlockHeight(16)
	if _, err := f.aggregator.Price(); !errors.Is(err, ErrOracleExpired) {
		t.Fatalf("expected ErrOracleExpired once stale without fallback, got %v", err)
	}
	if err := f.aggregator.UpdateFallbackPrice(f.admin, 90); err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if price, err := f.aggregator.Price(); err != nil || price != 90 {
		t.Fatalf("expected fallback 90, got %d (%v)", price, err)
	}
}

func TestHaltBlocksOracle(t *testing.T) {
	f := newFixture(t, Config{})
	snapshot := f.snapshot(t)
	if err := f.registry.SetHalted(f.admin, true); err != nil {
		t.Fatalf("halt: %v", err)
	}
	if err := f.aggregator.SubmitPrice(f.submitters[0], 10, snapshot); !errors.Is(err, nativecommon.ErrEmergencyHalt) {
		t.Fatalf("expected ErrEmergencyHalt, got %v", err)
	}
	if _, err := f.aggregator.Price(); !errors.Is(err, nativecommon.ErrEmergencyHalt) {
		t.Fatalf("expected ErrEmergencyHalt, got %v", err)
	}
}

func TestOracleEvents(t *testing.T) {
	f := newFixture(t, Config{})
	f.submit(t, f.submitters[0], 10)
	if _, _, err := f.aggregator.SettlePriceUpdate(); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := f.aggregator.UpdateFallbackPrice(f.admin, 3); err != nil {
		t.Fatalf("fallback: %v", err)
	}
	want := []string{events.TypeOraclePriceSubmitted, events.TypeOraclePriceSettled, events.TypeOracleFallbackUpdated}
	got := f.recorder.Types()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
