// Package node runs a ledger node: it accepts transactions and blocks, mines,
// resolves forks against peers and persists and announces what it commits.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/powledger/internal/clock"
	"github.com/goodnatureofminers/powledger/internal/ledger"
	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

const (
	defaultMaxStaleRetries = 3
	defaultWorkerCount     = 8
	defaultRunInterval     = 5 * time.Second
)

var (
	ErrNoWallet         = errors.New("mining requires a wallet")
	ErrMiningInProgress = errors.New("mining already in progress")
)

// Config tunes the node.
type Config struct {
	// MinerID receives mining rewards. Empty disables mining.
	MinerID string
	// MaxStaleRetries bounds how often a block mined on an outdated tip is
	// redone. Zero selects the default of 3.
	MaxStaleRetries int
	// Workers bounds concurrent peer requests.
	Workers int
	// RunInterval is the pause between iterations of Run.
	RunInterval time.Duration
	// AutoMine makes Run mine whenever transactions are pending.
	AutoMine bool
}

// Deps are the collaborators of a Service. Publisher and Sink are optional.
type Deps struct {
	Ledger     *ledger.Ledger
	Engine     Engine
	Store      Store
	PeerStore  PeerStore
	PeerClient PeerClient
	Publisher  EventPublisher
	Sink       BlockSink
	Metrics    Metrics
}

// Service coordinates the ledger with storage and peers.
type Service struct {
	cfg       Config
	ledger    *ledger.Ledger
	engine    Engine
	store     Store
	peerStore PeerStore
	client    PeerClient
	publisher EventPublisher
	sink      BlockSink
	metrics   Metrics
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error

	mineMu    sync.Mutex
	cancelMu  sync.Mutex
	persistMu sync.Mutex
	cancel    context.CancelFunc

	conflict atomic.Bool

	peersMu sync.RWMutex
	peers   map[string]struct{}
}

// NewService builds a Service with dependencies.
func NewService(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("ledger is required")
	case deps.Engine == nil:
		return nil, errors.New("consensus engine is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.PeerStore == nil:
		return nil, errors.New("peer store is required")
	case deps.PeerClient == nil:
		return nil, errors.New("peer client is required")
	case deps.Metrics == nil:
		return nil, errors.New("node metrics is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	if cfg.MaxStaleRetries <= 0 {
		cfg.MaxStaleRetries = defaultMaxStaleRetries
	}
	if cfg.Workers < 1 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = defaultRunInterval
	}

	return &Service{
		cfg:       cfg,
		ledger:    deps.Ledger,
		engine:    deps.Engine,
		store:     deps.Store,
		peerStore: deps.PeerStore,
		client:    deps.PeerClient,
		publisher: deps.Publisher,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		logger:    logger,
		sleep:     clock.Sleep,
		peers:     make(map[string]struct{}),
	}, nil
}

// Bootstrap restores the persisted chain, pending pool and peers. A snapshot
// that cannot be read or fails validation is ignored and the node starts from
// genesis.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chain, pending, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("load snapshot failed, starting from genesis", zap.Error(fmt.Errorf("%w: %w", ledger.ErrIOFailure, err)))
	} else {
		s.restore(chain, pending)
	}

	peers, err := s.peerStore.LoadPeers(ctx)
	if err != nil {
		s.logger.Warn("load peers failed", zap.Error(fmt.Errorf("%w: %w", ledger.ErrIOFailure, err)))
	}
	s.peersMu.Lock()
	for _, peer := range peers {
		s.peers[peer] = struct{}{}
	}
	s.peersMu.Unlock()

	s.observeChain()
	s.logger.Info("node ready",
		zap.Uint64("height", s.ledger.Height()),
		zap.Int("pending", len(s.ledger.Pending())),
		zap.Int("peers", len(peers)),
	)
	return nil
}

func (s *Service) restore(chain []model.Block, pending []model.Transaction) {
	if len(chain) > 1 {
		if err := s.ledger.ReplaceChain(chain); err != nil {
			s.logger.Warn("stored chain rejected, starting from genesis", zap.Error(err))
		}
	}
	for _, tx := range pending {
		if err := s.ledger.SubmitTransaction(tx); err != nil {
			s.logger.Debug("stored pending transaction dropped", zap.Error(err))
		}
	}
}

// SubmitTransaction queues a locally created transaction and announces it to
// every peer.
func (s *Service) SubmitTransaction(ctx context.Context, tx model.Transaction) error {
	if err := s.addTransaction(ctx, "submit_transaction", tx); err != nil {
		return err
	}
	s.broadcast(ctx, "transaction", func(ctx context.Context, peer string) error {
		return s.client.BroadcastTransaction(ctx, peer, tx)
	})
	return nil
}

// ReceiveTransaction queues a transaction announced by a peer. It is not
// announced again.
func (s *Service) ReceiveTransaction(ctx context.Context, tx model.Transaction) error {
	return s.addTransaction(ctx, "receive_transaction", tx)
}

func (s *Service) addTransaction(ctx context.Context, operation string, tx model.Transaction) error {
	started := time.Now()
	err := s.ledger.SubmitTransaction(tx)
	s.metrics.ObserveOperation(operation, err, started)
	if err != nil {
		return err
	}

	s.persist(ctx)
	if err := s.publisher.PublishTransaction(ctx, tx); err != nil {
		s.logger.Warn("publish transaction failed", zap.Error(err))
	}
	return nil
}

// ReceiveBlock appends a block announced by a peer and abandons any mining in
// progress. A block that does not link to the tip but claims a greater height
// marks the local chain as possibly behind.
func (s *Service) ReceiveBlock(ctx context.Context, block model.Block) error {
	started := time.Now()
	err := s.ledger.AcceptBlock(block)
	s.metrics.ObserveOperation("receive_block", err, started)
	if err != nil {
		if errors.Is(err, ledger.ErrBrokenChainLinkage) && block.Index > s.ledger.Height() {
			s.conflict.Store(true)
			s.logger.Info("peer block is ahead of the local chain, resolution scheduled",
				zap.Uint64("index", block.Index),
				zap.Uint64("height", s.ledger.Height()),
			)
		}
		return err
	}

	s.cancelMining()
	s.committed(ctx, block)
	return nil
}

// Chain returns a copy of the local chain.
func (s *Service) Chain() []model.Block {
	return s.ledger.Chain()
}

// Pending returns a copy of the pending pool.
func (s *Service) Pending() []model.Transaction {
	return s.ledger.Pending()
}

// Balance returns the balance of participant including pending spends.
func (s *Service) Balance(participant string) decimal.Decimal {
	return s.ledger.Balance(participant)
}

// HasConflict reports whether a peer announced a block the local chain cannot
// link.
func (s *Service) HasConflict() bool {
	return s.conflict.Load()
}

// committed runs the best-effort follow-ups of a new block.
func (s *Service) committed(ctx context.Context, block model.Block) {
	s.persist(ctx)
	s.record(ctx, block)
}

func (s *Service) record(ctx context.Context, block model.Block) {
	if err := s.sink.WriteBlock(ctx, block); err != nil {
		s.logger.Warn("archive block failed", zap.Uint64("index", block.Index), zap.Error(err))
	}
	if err := s.publisher.PublishBlock(ctx, block); err != nil {
		s.logger.Warn("publish block failed", zap.Uint64("index", block.Index), zap.Error(err))
	}
}

// persist saves the current snapshot. Snapshots are taken and saved under
// one lock so an older state never overwrites a newer one.
func (s *Service) persist(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	chain, pending := s.ledger.Snapshot()
	s.metrics.SetChain(uint64(len(chain)-1), len(pending))
	if err := s.store.Save(ctx, chain, pending); err != nil {
		s.logger.Error("save snapshot failed", zap.Error(fmt.Errorf("%w: %w", ledger.ErrIOFailure, err)))
	}
}

func (s *Service) observeChain() {
	chain, pending := s.ledger.Snapshot()
	s.metrics.SetChain(uint64(len(chain)-1), len(pending))
}

type nopPublisher struct{}

func (nopPublisher) PublishTransaction(context.Context, model.Transaction) error { return nil }
func (nopPublisher) PublishBlock(context.Context, model.Block) error { return nil }

type nopSink struct{}

func (nopSink) WriteBlock(context.Context, model.Block) error { return nil }
