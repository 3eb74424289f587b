package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	Consensus interface {
		ValidateBlock(prev, block model.Block) error
		ValidateChain(chain []model.Block) error
		ValidateTransaction(tx model.Transaction, balanceOf func(string) decimal.Decimal, checkFunds bool) error
	}
)
