package clickhouse

import (
	"context"
	"fmt"
	"time"
)

// InsertBlocks stores block rows. A row for an index that already exists
// replaces it once ClickHouse merges the parts.
func (r *Repository) InsertBlocks(ctx context.Context, blocks []Block) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("insert_blocks", err, start)
	}()

	if len(blocks) == 0 {
		return nil
	}

	const query = `
INSERT INTO ledger_blocks (
	block_index,
	hash,
	previous_hash,
	proof,
	timestamp,
	tx_count,
	miner,
	reward
) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare blocks batch: %w", err)
	}

	for _, block := range blocks {
		if err = batch.Append(
			block.Index,
			block.Hash,
			block.PreviousHash,
			block.Proof,
			block.Timestamp,
			block.TxCount,
			block.Miner,
			block.Reward,
		); err != nil {
			return fmt.Errorf("append block: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert blocks: %w", err)
	}
	return nil
}
