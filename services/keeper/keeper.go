// Package keeper drives the block clock: each tick advances the height, settles
// the pending oracle round and refreshes the liquidation gauge.
package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zkusd/core/types"
	"zkusd/native/oracle"
	"zkusd/native/vault"
)

// Chain advances the persisted block clock.
type Chain interface {
	AdvanceBlock(now time.Time) (types.BlockHeader, error)
}

// Settler closes the current oracle round.
type Settler interface {
	SettlePriceUpdate() (oracle.RoundRecord, bool, error)
}

// Scanner lists vaults eligible for liquidation.
type Scanner interface {
	Liquidatable() ([]vault.Vault, error)
}

// Result summarises one tick.
type Result struct {
	Header       types.BlockHeader
	Settled      bool
	Round        oracle.RoundRecord
	Liquidatable int
}

// Keeper runs Tick on a fixed interval.
type Keeper struct {
	chain      Chain
	settler    Settler
	scanner    Scanner
	interval   time.Duration
	autoSettle bool
	logger     *slog.Logger
	now        func() time.Time
	once       sync.Once
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) {
		if now != nil {
			k.now = now
		}
	}
}

// WithAutoSettle toggles settlement on every tick.
func WithAutoSettle(enabled bool) Option {
	return func(k *Keeper) { k.autoSettle = enabled }
}

// New constructs a keeper. The scanner is optional.
func New(chain Chain, settler Settler, scanner Scanner, interval time.Duration, opts ...Option) (*Keeper, error) {
	if chain == nil {
		return nil, fmt.Errorf("keeper: chain required")
	}
	if settler == nil {
		return nil, fmt.Errorf("keeper: settler required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("keeper: interval must be positive")
	}
	k := &Keeper{
		chain:      chain,
		settler:    settler,
		scanner:    scanner,
		interval:   interval,
		autoSettle: true,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k, nil
}

// Run blocks, ticking until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	if k == nil {
		return fmt.Errorf("keeper: not configured")
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.once.Do(func() {
		k.logger.Info("keeper started", slog.Duration("interval", k.interval), slog.Bool("auto_settle", k.autoSettle))
	})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := k.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Warn("keeper tick failed", slog.Any("error", err))
		}
	}
}

// Tick advances the clock once. Settlement and scanning run after the height
// moves so they observe the new block.
func (k *Keeper) Tick(ctx context.Context) (Result, error) {
	var res Result
	if err := ctx.Err(); err != nil {
		return res, err
	}
	header, err := k.chain.AdvanceBlock(k.now())
	if err != nil {
		return res, fmt.Errorf("keeper: advance block: %w", err)
	}
	res.Header = header

	if k.autoSettle {
		record, settled, err := k.settler.SettlePriceUpdate()
		if err != nil {
			return res, fmt.Errorf("keeper: settle: %w", err)
		}
		res.Settled, res.Round = settled, record
		if settled {
			k.logger.Info("oracle round settled",
				slog.Uint64("round", record.Round),
				slog.Uint64("price", record.Price),
				slog.Uint64("height", header.Height))
		}
	}

	if k.scanner != nil {
		vaults, err := k.scanner.Liquidatable()
		if err != nil {
			return res, fmt.Errorf("keeper: scan: %w", err)
		}
		res.Liquidatable = len(vaults)
		if len(vaults) > 0 {
			k.logger.Debug("liquidatable vaults", slog.Int("count", len(vaults)), slog.Uint64("height", header.Height))
		}
	}
	return res, nil
}
