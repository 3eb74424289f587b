package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/powledger/internal/ledger"
	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

// MineBlock seals the pending pool into a new block, commits it and announces
// it to peers. It returns a nil block without error when a peer block
// arrived first and the attempt was abandoned.
func (s *Service) MineBlock(ctx context.Context) (*model.Block, error) {
	if s.cfg.MinerID == "" {
		return nil, ErrNoWallet
	}
	if !s.mineMu.TryLock() {
		return nil, ErrMiningInProgress
	}
	defer s.mineMu.Unlock()

	started := time.Now()
	block, err := s.mine(ctx)
	s.metrics.ObserveOperation("mine_block", err, started)
	if err != nil || block == nil {
		return nil, err
	}

	s.logger.Info("block mined",
		zap.Uint64("index", block.Index),
		zap.Uint64("proof", block.Proof),
		zap.Int("transactions", len(block.Transactions)),
		zap.Duration("took", time.Since(started)),
	)
	s.committed(ctx, *block)
	announced := *block
	s.broadcast(ctx, "block", func(ctx context.Context, peer string) error {
		return s.client.BroadcastBlock(ctx, peer, announced)
	})
	return block, nil
}

func (s *Service) mine(ctx context.Context) (*model.Block, error) {
	for attempt := 0; attempt <= s.cfg.MaxStaleRetries; attempt++ {
		tip, tipHash := s.ledger.Tip()
		pending := s.ledger.Pending()

		mineCtx, cancel := context.WithCancel(ctx)
		s.setCancel(cancel)
		block, err := s.engine.Mine(mineCtx, pending, tip, s.cfg.MinerID)
		s.setCancel(nil)
		cancel()

		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.Canceled) {
				s.logger.Info("mining abandoned, chain extended by a peer", zap.Uint64("index", tip.Index+1))
				return nil, nil
			}
			return nil, fmt.Errorf("mine block: %w", err)
		}

		err = s.ledger.CommitMined(block, tipHash)
		if err == nil {
			return &block, nil
		}
		if !errors.Is(err, ledger.ErrStaleChainTip) {
			return nil, fmt.Errorf("commit block: %w", err)
		}
		s.logger.Info("chain tip moved while mining, retrying", zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("%w: gave up after %d retries", ledger.ErrStaleChainTip, s.cfg.MaxStaleRetries)
}

func (s *Service) setCancel(cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
}

// cancelMining abandons the proof search in progress, if any.
func (s *Service) cancelMining() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}
