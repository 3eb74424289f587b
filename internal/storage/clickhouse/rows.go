package clickhouse

import (
	"time"

	"github.com/shopspring/decimal"
)

// Block is a row of ledger_blocks.
type Block struct {
	Index        uint64
	Hash         string
	PreviousHash string
	Proof        uint64
	Timestamp    time.Time
	TxCount      uint32
	Miner        string
	Reward       decimal.Decimal
}

// Transaction is a row of ledger_transactions. Position is the offset inside
// the block; the reward is always the last position.
type Transaction struct {
	BlockIndex uint64
	BlockHash  string
	Position   uint32
	Kind       string
	Sender     string
	Recipient  string
	Amount     decimal.Decimal
	Signature  string
	Timestamp  time.Time
}
