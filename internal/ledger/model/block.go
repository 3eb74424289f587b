package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Block seals an ordered set of transactions. For every block after genesis
// the last transaction is the miner reward.
type Block struct {
	Index        uint64
	PreviousHash string
	Transactions []Transaction
	Proof        uint64
	Timestamp    time.Time
}

// Genesis returns the fixed first block shared by every node.
func Genesis() Block {
	return Block{
		Transactions: []Transaction{},
		Timestamp:    time.Unix(0, 0).UTC(),
	}
}

// IsGenesis reports whether b has the genesis shape.
func (b Block) IsGenesis() bool {
	return b.Index == 0 &&
		b.PreviousHash == "" &&
		b.Proof == 0 &&
		len(b.Transactions) == 0 &&
		b.Timestamp.Equal(time.Unix(0, 0))
}

// Reward returns the trailing reward transaction, if any.
func (b Block) Reward() (Transaction, bool) {
	if len(b.Transactions) == 0 {
		return Transaction{}, false
	}
	last := b.Transactions[len(b.Transactions)-1]
	return last, last.IsReward()
}

// Payload returns the transactions covered by the proof of work.
func (b Block) Payload() []Transaction {
	if len(b.Transactions) == 0 {
		return nil
	}
	return b.Transactions[:len(b.Transactions)-1]
}

// Clone returns a deep copy of b.
func (b Block) Clone() Block {
	b.Transactions = CloneTransactions(b.Transactions)
	return b
}

// CloneChain deep copies a chain.
func CloneChain(chain []Block) []Block {
	if chain == nil {
		return nil
	}
	out := make([]Block, len(chain))
	for i, b := range chain {
		out[i] = b.Clone()
	}
	return out
}

const (
	timestampScale       = 9
	maxTimestampExponent = 11
)

var maxTimestamp = decimal.New(1, maxTimestampExponent)

type wireBlock struct {
	Index        uint64        `json:"index"`
	PreviousHash string        `json:"previous_hash"`
	Transactions []Transaction `json:"transactions"`
	Proof        uint64        `json:"proof"`
	Timestamp    json.Number   `json:"timestamp"`
}

// MarshalJSON encodes the wire form. The timestamp is Unix seconds with
// millisecond precision.
func (b Block) MarshalJSON() ([]byte, error) {
	txs := b.Transactions
	if txs == nil {
		txs = []Transaction{}
	}
	return json.Marshal(wireBlock{
		Index:        b.Index,
		PreviousHash: b.PreviousHash,
		Transactions: txs,
		Proof:        b.Proof,
		Timestamp:    encodeTimestamp(b.Timestamp),
	})
}

// UnmarshalJSON decodes the wire form.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := decodeTimestamp(w.Timestamp)
	if err != nil {
		return err
	}
	txs := w.Transactions
	if txs == nil {
		txs = []Transaction{}
	}

	*b = Block{
		Index:        w.Index,
		PreviousHash: w.PreviousHash,
		Transactions: txs,
		Proof:        w.Proof,
		Timestamp:    ts,
	}
	return nil
}

func encodeTimestamp(t time.Time) json.Number {
	return json.Number(decimal.NewFromInt(t.UnixMilli()).Shift(-3).String())
}

func decodeTimestamp(n json.Number) (time.Time, error) {
	if n == "" {
		return time.Time{}, errors.New("block timestamp is missing")
	}
	seconds, err := decimal.NewFromString(n.String())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	exp := seconds.Exponent()
	if exp < -timestampScale || exp >= maxTimestampExponent ||
		seconds.IsNegative() || seconds.Cmp(maxTimestamp) >= 0 {
		return time.Time{}, fmt.Errorf("timestamp out of range: seconds must be within [0, 1e%d) with at most %d decimal places",
			maxTimestampExponent, timestampScale)
	}
	return time.UnixMilli(seconds.Shift(3).IntPart()).UTC(), nil
}
