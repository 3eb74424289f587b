package httppeer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	Node interface {
		Chain() []model.Block
		Pending() []model.Transaction
		Balance(participant string) decimal.Decimal
		SubmitTransaction(ctx context.Context, tx model.Transaction) error
		ReceiveTransaction(ctx context.Context, tx model.Transaction) error
		ReceiveBlock(ctx context.Context, block model.Block) error
		MineBlock(ctx context.Context) (*model.Block, error)
		ResolveConflicts(ctx context.Context) (bool, error)
		Peers() []string
		AddPeer(ctx context.Context, address string) (string, error)
		RemovePeer(ctx context.Context, address string) error
	}
	Metrics interface {
		Observe(operation string, err error, started time.Time)
	}
)
