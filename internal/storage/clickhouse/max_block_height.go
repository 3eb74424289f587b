package clickhouse

import (
	"context"
	"fmt"
	"time"
)

// MaxBlockHeight returns the highest archived block index. The flag is false
// when the archive holds no block.
func (r *Repository) MaxBlockHeight(ctx context.Context) (uint64, bool, error) {
	start := time.Now()
	var err error
	defer func() {
		r.metrics.Observe("max_block_height", err, start)
	}()

	const query = `
SELECT max(block_index) AS max_index, count() AS blocks
FROM ledger_blocks`

	var height, count uint64
	if err = r.conn.QueryRow(ctx, query).Scan(&height, &count); err != nil {
		return 0, false, fmt.Errorf("query max block height: %w", err)
	}
	return height, count > 0, nil
}
