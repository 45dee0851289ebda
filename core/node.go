// Package core assembles the protocol components behind a single Node.
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"zkusd/config"
	"zkusd/core/events"
	"zkusd/core/genesis"
	"zkusd/core/state"
	"zkusd/core/types"
	"zkusd/crypto"
	"zkusd/native/bank"
	"zkusd/native/oracle"
	"zkusd/native/registry"
	"zkusd/native/vault"
	"zkusd/storage"
)

var (
	ErrGenesisRequired = errors.New("core: genesis file required")
	errNilNode         = errors.New("core: node not initialised")
)

var keyBlockHead = state.Key("node", []byte("block-head"))

// Node owns the state store and every engine operating on it.
type Node struct {
	db       storage.Database
	store    *state.Store
	ledger   *bank.Ledger
	registry *registry.Registry
	vaults   *vault.Engine
	oracle   *oracle.Aggregator
	journal  *events.Journal
	emitter  events.Emitter
	logger   *slog.Logger

	blockMu sync.Mutex
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Database {
	case config.DatabaseMemory:
		return storage.NewMemDB(), nil
	case config.DatabaseBolt:
		return storage.NewBoltDB(cfg.DatabasePath())
	case config.DatabaseLevelDB:
		return storage.NewLevelDB(cfg.DatabasePath())
	default:
		return nil, fmt.Errorf("core: unsupported database %q", cfg.Database)
	}
}

// NewNode opens the configured database, builds the engines, seeds genesis on
// first start and restores the block clock.
func NewNode(cfg *config.Config, logger *slog.Logger) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("core: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.GenesisFile) == "" {
		return nil, ErrGenesisRequired
	}
	spec, err := genesis.Load(cfg.GenesisFile)
	if err != nil {
		return nil, err
	}
	resolved, err := spec.Resolve()
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	var journal *events.Journal
	if cfg.Database != config.DatabaseMemory {
		journal, err = events.OpenJournal(cfg.JournalPath(), logger)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	n, err := assemble(db, journal, resolved, oracle.Config{
		MaxAgeBlocks:    cfg.Oracle.MaxAgeBlocks,
		MaxParticipants: cfg.Oracle.MaxParticipants,
	}, logger)
	if err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

// assemble wires the engines over db. On error the returned node still owns
// db and journal so the caller can close them.
func assemble(db storage.Database, journal *events.Journal, resolved *genesis.Resolved, oracleCfg oracle.Config, logger *slog.Logger) (*Node, error) {
	n := &Node{
		db:      db,
		store:   state.NewStore(db),
		ledger:  bank.NewLedger(),
		journal: journal,
		logger:  logger,
	}
	var emitter events.Fanout
	if journal != nil {
		emitter = append(emitter, journal)
	}
	emitter = append(emitter, logEmitter{logger: logger})
	n.emitter = emitter

	oracleCfg.Account = resolved.OracleAccount.Array()
	n.registry = registry.New(n.store, oracleCfg.Normalise().MaxParticipants)
	n.registry.SetEmitter(emitter)

	agg, err := oracle.NewAggregator(n.store, oracle.Collaborators{
		Registry:   n.registry,
		BaseLedger: n.ledger.Asset(bank.AssetBase),
	}, oracleCfg)
	if err != nil {
		return n, err
	}
	agg.SetEmitter(emitter)
	n.oracle = agg

	engine, err := vault.NewEngine(n.store, vault.Collaborators{
		TokenLedger: n.ledger,
		BaseLedger:  n.ledger.Asset(bank.AssetBase),
		Registry:    n.registry,
		PriceSource: agg,
	})
	if err != nil {
		return n, err
	}
	engine.SetEmitter(emitter)
	n.ledger.SetVerifier(engine)
	n.vaults = engine

	head, err := n.BlockHead()
	if err != nil {
		return n, err
	}
	agg.SetBlockHeight(head.Height)

	applied, err := resolved.Apply(genesis.Targets{
		Store:    n.store,
		Registry: n.registry,
		Ledger:   n.ledger,
		Oracle:   agg,
	})
	if err != nil {
		return n, err
	}
	if applied {
		logger.Info("genesis applied",
			slog.String("admin", resolved.Admin.String()),
			slog.Int("whitelist", len(resolved.Whitelist)),
			slog.Int("allocations", len(resolved.Alloc)))
	}
	return n, nil
}

// Close releases the journal and the database.
func (n *Node) Close() {
	if n == nil {
		return
	}
	if n.journal != nil {
		if err := n.journal.Close(); err != nil {
			n.logger.Warn("close journal", slog.Any("error", err))
		}
	}
	if n.db != nil {
		n.db.Close()
	}
}

func (n *Node) Store() *state.Store          { return n.store }
func (n *Node) Ledger() *bank.Ledger         { return n.ledger }
func (n *Node) Registry() *registry.Registry { return n.registry }
func (n *Node) Vaults() *vault.Engine        { return n.vaults }
func (n *Node) Oracle() *oracle.Aggregator   { return n.oracle }

// Journal returns the event journal, or nil for in-memory nodes.
func (n *Node) Journal() *events.Journal { return n.journal }

// BlockHead returns the last persisted block header. The zero header is
// returned before the first tick.
func (n *Node) BlockHead() (types.BlockHeader, error) {
	if n == nil || n.store == nil {
		return types.BlockHeader{}, errNilNode
	}
	var head types.BlockHeader
	err := n.store.View(func(r state.Reader) error {
		_, err := r.KVGet(keyBlockHead, &head)
		return err
	})
	return head, err
}

// AdvanceBlock persists the next block header and moves the oracle clock to
// its height.
func (n *Node) AdvanceBlock(now time.Time) (types.BlockHeader, error) {
	if n == nil || n.store == nil {
		return types.BlockHeader{}, errNilNode
	}
	n.blockMu.Lock()
	defer n.blockMu.Unlock()

	var journalHead uint64
	if n.journal != nil {
		seq, err := n.journal.Head()
		if err != nil {
			return types.BlockHeader{}, err
		}
		journalHead = seq
	}
	var next types.BlockHeader
	err := n.store.Update(func(tx *state.Txn) error {
		var prev types.BlockHeader
		ok, err := tx.KVGet(keyBlockHead, &prev)
		if err != nil {
			return err
		}
		next = types.BlockHeader{
			Height:      prev.Height + 1,
			Timestamp:   uint64(now.Unix()),
			JournalHead: journalHead,
		}
		if ok {
			if next.PrevHash, err = prev.Hash(); err != nil {
				return err
			}
		}
		return tx.KVPut(keyBlockHead, next)
	})
	if err != nil {
		return types.BlockHeader{}, err
	}
	n.oracle.SetBlockHeight(next.Height)
	return next, nil
}

// Balance returns the balance of asset held by addr.
func (n *Node) Balance(asset bank.Asset, addr crypto.Address) (uint64, error) {
	var balance uint64
	err := n.store.View(func(r state.Reader) error {
		var err error
		balance, err = n.ledger.Balance(r, asset, addr.Array())
		return err
	})
	return balance, err
}

// Transfer moves amount of asset between two accounts.
func (n *Node) Transfer(asset bank.Asset, from, to crypto.Address, amount uint64) error {
	err := n.store.Update(func(tx *state.Txn) error {
		return n.ledger.Transfer(tx, asset, from.Array(), to.Array(), amount)
	})
	if err != nil {
		return err
	}
	n.emitter.Emit(events.Transfer{Asset: string(asset), From: from.Array(), To: to.Array(), Amount: amount})
	return nil
}

// logEmitter writes payload events to the structured logger at debug level.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	payload, ok := evt.(events.Payload)
	if !ok || l.logger == nil {
		return
	}
	rendered := payload.Event()
	attrs := make([]any, 0, len(rendered.Attributes)+1)
	attrs = append(attrs, slog.String("type", rendered.Type))
	for k, v := range rendered.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	l.logger.Debug("event", attrs...)
}
