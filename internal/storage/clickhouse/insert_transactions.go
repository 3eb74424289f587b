package clickhouse

import (
	"context"
	"fmt"
	"time"
)

// InsertTransactions stores transaction rows.
func (r *Repository) InsertTransactions(ctx context.Context, txs []Transaction) error {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("insert_transactions", err, start)
	}()

	if len(txs) == 0 {
		return nil
	}

	const query = `
INSERT INTO ledger_transactions (
	block_index,
	block_hash,
	position,
	kind,
	sender,
	recipient,
	amount,
	signature,
	timestamp
) VALUES`

	batch, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare transactions batch: %w", err)
	}

	for _, tx := range txs {
		if err = batch.Append(
			tx.BlockIndex,
			tx.BlockHash,
			tx.Position,
			tx.Kind,
			tx.Sender,
			tx.Recipient,
			tx.Amount,
			tx.Signature,
			tx.Timestamp,
		); err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert transactions: %w", err)
	}
	return nil
}
