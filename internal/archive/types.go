package archive

import (
	"context"

	"github.com/goodnatureofminers/powledger/internal/storage/clickhouse"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	Repository interface {
		InsertBlocks(ctx context.Context, blocks []clickhouse.Block) error
		InsertTransactions(ctx context.Context, txs []clickhouse.Transaction) error
		MaxBlockHeight(ctx context.Context) (uint64, bool, error)
	}
)
