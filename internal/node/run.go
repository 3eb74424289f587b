package node

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Run resolves flagged conflicts and, with AutoMine, mines pending
// transactions until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.tick(ctx)
		if err := s.sleep(ctx, s.cfg.RunInterval); err != nil {
			return err
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	if s.conflict.Load() {
		if _, err := s.ResolveConflicts(ctx); err != nil {
			s.logger.Warn("resolve conflicts failed", zap.Error(err))
		}
	}

	if !s.cfg.AutoMine || s.cfg.MinerID == "" || len(s.ledger.Pending()) == 0 {
		return
	}
	if _, err := s.MineBlock(ctx); err != nil && !errors.Is(err, ErrMiningInProgress) {
		s.logger.Warn("mining failed", zap.Error(err))
	}
}
