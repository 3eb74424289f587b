// Package archive copies committed blocks into the analytics store.
package archive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/powledger/internal/ledger/crypto"
	"github.com/goodnatureofminers/powledger/internal/ledger/model"
	"github.com/goodnatureofminers/powledger/internal/storage/clickhouse"
	"github.com/goodnatureofminers/powledger/pkg/batcher"
	"github.com/goodnatureofminers/powledger/pkg/safe"
)

const (
	defaultBatchSize     = 64
	defaultFlushInterval = 2 * time.Second
	defaultFlushRPS      = 10
)

// Config controls batching of archive writes.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	FlushRPS      int
}

// Writer buffers committed blocks and inserts them in batches.
type Writer struct {
	repo    Repository
	logger  *zap.Logger
	batcher *batcher.Batcher[model.Block]
}

// NewWriter builds a Writer. Zero config values select the defaults.
func NewWriter(repo Repository, cfg Config, logger *zap.Logger) *Writer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.FlushRPS < 1 {
		cfg.FlushRPS = defaultFlushRPS
	}

	w := &Writer{
		repo:   repo,
		logger: logger,
	}
	w.batcher = batcher.New[model.Block](batcher.Config{
		Size:     cfg.BatchSize,
		Interval: cfg.FlushInterval,
		RPS:      cfg.FlushRPS,
	}, w.flush, logger.Named("batcher"))
	return w
}

func (w *Writer) Start(ctx context.Context) {
	w.batcher.Start(ctx)
}

func (w *Writer) Stop() {
	w.batcher.Stop()
}

// WriteBlock queues a committed block.
func (w *Writer) WriteBlock(ctx context.Context, block model.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return w.batcher.Add(ctx, block.Clone())
}

// Sync queues the blocks of chain the archive does not hold yet.
func (w *Writer) Sync(ctx context.Context, chain []model.Block) error {
	height, ok, err := w.repo.MaxBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("archived height: %w", err)
	}

	queued := 0
	for _, block := range chain {
		if ok && block.Index <= height {
			continue
		}
		if err := w.WriteBlock(ctx, block); err != nil {
			return fmt.Errorf("queue block %d: %w", block.Index, err)
		}
		queued++
	}
	w.logger.Info("archive synced", zap.Uint64("archived_height", height), zap.Bool("empty", !ok), zap.Int("queued", queued))
	return nil
}

func (w *Writer) flush(ctx context.Context, blocks []model.Block) error {
	blockRows := make([]clickhouse.Block, 0, len(blocks))
	var txRows []clickhouse.Transaction

	for _, block := range blocks {
		row, txs, err := toRows(block)
		if err != nil {
			return err
		}
		blockRows = append(blockRows, row)
		txRows = append(txRows, txs...)
	}

	if err := w.repo.InsertTransactions(ctx, txRows); err != nil {
		return err
	}
	w.logger.Debug("InsertTransactions", zap.Int("count", len(txRows)))

	return w.repo.InsertBlocks(ctx, blockRows)
}

func toRows(block model.Block) (clickhouse.Block, []clickhouse.Transaction, error) {
	hash, err := crypto.HashBlock(block)
	if err != nil {
		return clickhouse.Block{}, nil, fmt.Errorf("hash block %d: %w", block.Index, err)
	}
	txCount, err := safe.Uint32(len(block.Transactions))
	if err != nil {
		return clickhouse.Block{}, nil, fmt.Errorf("block %d tx count: %w", block.Index, err)
	}

	row := clickhouse.Block{
		Index:        block.Index,
		Hash:         hash,
		PreviousHash: block.PreviousHash,
		Proof:        block.Proof,
		Timestamp:    block.Timestamp,
		TxCount:      txCount,
	}
	if reward, ok := block.Reward(); ok {
		row.Miner = reward.Recipient
		row.Reward = reward.Amount
	}

	txs := make([]clickhouse.Transaction, 0, len(block.Transactions))
	for i, tx := range block.Transactions {
		position, err := safe.Uint32(i)
		if err != nil {
			return clickhouse.Block{}, nil, fmt.Errorf("block %d position: %w", block.Index, err)
		}
		sender := tx.Sender
		if tx.IsReward() {
			sender = model.RewardSender
		}
		txs = append(txs, clickhouse.Transaction{
			BlockIndex: block.Index,
			BlockHash:  hash,
			Position:   position,
			Kind:       tx.Kind.String(),
			Sender:     sender,
			Recipient:  tx.Recipient,
			Amount:     tx.Amount,
			Signature:  tx.Signature,
			Timestamp:  block.Timestamp,
		})
	}
	return row, txs, nil
}
