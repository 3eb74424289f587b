// Package model contains the ledger data types and their wire representation.
package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RewardSender is the sender tag reward transactions carry on the wire.
const RewardSender = "MINING"

// AmountScale is the finest amount step, 1e-8.
const AmountScale = 8

const maxAmountExponent = 18

// ErrAmountOutOfRange is returned for amounts finer than 1e-8 or of magnitude
// 1e18 and above.
var ErrAmountOutOfRange = errors.New("amount out of range")

var maxAmount = decimal.New(1, maxAmountExponent)

// ValidateAmount checks that amount fits the ledger's fixed range. The
// exponent is checked first so huge exponents are never expanded.
func ValidateAmount(amount decimal.Decimal) error {
	exp := amount.Exponent()
	if exp < -AmountScale {
		return fmt.Errorf("%w: %d decimal places, at most %d", ErrAmountOutOfRange, -int64(exp), AmountScale)
	}
	if exp >= maxAmountExponent || amount.Abs().Cmp(maxAmount) >= 0 {
		return fmt.Errorf("%w: magnitude must stay below 1e%d", ErrAmountOutOfRange, maxAmountExponent)
	}
	return nil
}

// Kind distinguishes signed transfers from mining rewards.
type Kind uint8

const (
	KindTransfer Kind = iota
	KindReward
)

func (k Kind) String() string {
	switch k {
	case KindTransfer:
		return "transfer"
	case KindReward:
		return "reward"
	default:
		return "unknown"
	}
}

// Transaction is an atomic value transfer. Reward transactions have no sender
// and no signature.
type Transaction struct {
	Kind      Kind
	Sender    string
	Recipient string
	Amount    decimal.Decimal
	Signature string
}

// NewTransfer builds a signed transfer.
func NewTransfer(sender, recipient string, amount decimal.Decimal, signature string) Transaction {
	return Transaction{
		Kind:      KindTransfer,
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Signature: signature,
	}
}

// NewReward builds the reward paid to a miner.
func NewReward(recipient string, amount decimal.Decimal) Transaction {
	return Transaction{
		Kind:      KindReward,
		Recipient: recipient,
		Amount:    amount,
	}
}

// IsReward reports whether the transaction was issued by the protocol.
func (t Transaction) IsReward() bool {
	return t.Kind == KindReward
}

// Equal compares content, amounts numerically.
func (t Transaction) Equal(other Transaction) bool {
	return t.Kind == other.Kind &&
		t.Sender == other.Sender &&
		t.Recipient == other.Recipient &&
		t.Amount.Equal(other.Amount) &&
		t.Signature == other.Signature
}

type wireTransaction struct {
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	Amount    json.Number `json:"amount"`
	Signature string      `json:"signature"`
}

// MarshalJSON encodes the wire form with a fixed field order and a canonical amount.
func (t Transaction) MarshalJSON() ([]byte, error) {
	sender := t.Sender
	if t.IsReward() {
		sender = RewardSender
	}
	return json.Marshal(wireTransaction{
		Sender:    sender,
		Recipient: t.Recipient,
		Amount:    json.Number(t.Amount.String()),
		Signature: t.Signature,
	})
}

// UnmarshalJSON decodes the wire form.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var w wireTransaction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Amount == "" {
		return errors.New("transaction amount is missing")
	}
	amount, err := decimal.NewFromString(w.Amount.String())
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	if err := ValidateAmount(amount); err != nil {
		return err
	}

	if w.Sender == RewardSender {
		if w.Signature != "" {
			return errors.New("reward transaction must not be signed")
		}
		*t = NewReward(w.Recipient, amount)
		return nil
	}

	*t = NewTransfer(w.Sender, w.Recipient, amount, w.Signature)
	return nil
}

// CloneTransactions returns a copy of txs that shares no backing array.
func CloneTransactions(txs []Transaction) []Transaction {
	if txs == nil {
		return nil
	}
	out := make([]Transaction, len(txs))
	copy(out, txs)
	return out
}
