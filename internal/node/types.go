package node

import (
	"context"
	"time"

	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	Engine interface {
		Mine(ctx context.Context, pending []model.Transaction, lastBlock model.Block, miner string) (model.Block, error)
		Resolve(current []model.Block, candidates [][]model.Block) ([]model.Block, bool)
	}
	Store interface {
		Load(ctx context.Context) ([]model.Block, []model.Transaction, error)
		Save(ctx context.Context, chain []model.Block, pending []model.Transaction) error
	}
	PeerStore interface {
		LoadPeers(ctx context.Context) ([]string, error)
		SavePeers(ctx context.Context, peers []string) error
	}
	PeerClient interface {
		BroadcastTransaction(ctx context.Context, peer string, tx model.Transaction) error
		BroadcastBlock(ctx context.Context, peer string, block model.Block) error
		FetchChain(ctx context.Context, peer string) ([]model.Block, error)
	}
	EventPublisher interface {
		PublishTransaction(ctx context.Context, tx model.Transaction) error
		PublishBlock(ctx context.Context, block model.Block) error
	}
	BlockSink interface {
		WriteBlock(ctx context.Context, block model.Block) error
	}
	Metrics interface {
		ObserveOperation(operation string, err error, started time.Time)
		SetChain(height uint64, pending int)
	}
)
