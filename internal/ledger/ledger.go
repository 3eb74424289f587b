// Package ledger keeps the validated chain and the pool of pending
// transactions.
package ledger

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/goodnatureofminers/powledger/internal/ledger/balance"
	"github.com/goodnatureofminers/powledger/internal/ledger/crypto"
	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

// Ledger is an append-only chain starting at genesis plus the pending pool.
// All methods are safe for concurrent use. Returned slices are copies.
type Ledger struct {
	consensus Consensus

	mu      sync.RWMutex
	chain   []model.Block
	pending []model.Transaction
	tipHash string
}

// New creates a ledger holding only the genesis block.
func New(consensus Consensus) (*Ledger, error) {
	genesis := model.Genesis()
	hash, err := crypto.HashBlock(genesis)
	if err != nil {
		return nil, fmt.Errorf("hash genesis: %w", err)
	}
	return &Ledger{
		consensus: consensus,
		chain:     []model.Block{genesis},
		tipHash:   hash,
	}, nil
}

// SubmitTransaction validates tx against the chain and the pending pool and
// queues it. A rejected transaction leaves the ledger unchanged.
func (l *Ledger) SubmitTransaction(tx model.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, queued := range l.pending {
		if queued.Equal(tx) {
			return ErrDuplicate
		}
	}
	balanceOf := func(participant string) decimal.Decimal {
		return balance.Of(participant, l.chain, l.pending)
	}
	if err := l.consensus.ValidateTransaction(tx, balanceOf, true); err != nil {
		return err
	}

	l.pending = append(l.pending, tx)
	return nil
}

// AcceptBlock appends a block that extends the current tip and drops the
// pending transactions it confirms.
func (l *Ledger) AcceptBlock(block model.Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.append(block)
}

// CommitMined appends a mined block only if the tip is still expectedTipHash.
func (l *Ledger) CommitMined(block model.Block, expectedTipHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tipHash != expectedTipHash {
		return fmt.Errorf("%w: mined on %s, tip is %s", ErrStaleChainTip, expectedTipHash, l.tipHash)
	}
	return l.append(block)
}

// ReplaceChain adopts candidate if it is strictly longer than the current
// chain and valid. The pending pool is cleared.
func (l *Ledger) ReplaceChain(candidate []model.Block) error {
	if current := l.Len(); len(candidate) <= current {
		return fmt.Errorf("%w: %d blocks, have %d", ErrChainNotLonger, len(candidate), current)
	}

	candidate = model.CloneChain(candidate)
	if err := l.consensus.ValidateChain(candidate); err != nil {
		return err
	}
	tipHash, err := crypto.HashBlock(candidate[len(candidate)-1])
	if err != nil {
		return fmt.Errorf("hash tip: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(candidate) <= len(l.chain) {
		return fmt.Errorf("%w: %d blocks, have %d", ErrChainNotLonger, len(candidate), len(l.chain))
	}
	l.chain = candidate
	l.pending = nil
	l.tipHash = tipHash
	return nil
}

// Snapshot returns copies of the chain and the pending pool taken atomically.
func (l *Ledger) Snapshot() ([]model.Block, []model.Transaction) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return model.CloneChain(l.chain), model.CloneTransactions(l.pending)
}

// Chain returns a copy of the chain.
func (l *Ledger) Chain() []model.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return model.CloneChain(l.chain)
}

// Pending returns a copy of the pending pool.
func (l *Ledger) Pending() []model.Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return model.CloneTransactions(l.pending)
}

// Tip returns the last block and its hash.
func (l *Ledger) Tip() (model.Block, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.chain[len(l.chain)-1].Clone(), l.tipHash
}

// Height returns the index of the last block.
func (l *Ledger) Height() uint64 {
	return uint64(l.Len() - 1)
}

// Len returns the number of blocks including genesis.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.chain)
}

// Balance returns the balance of participant including its pending spends.
func (l *Ledger) Balance(participant string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return balance.Of(participant, l.chain, l.pending)
}

func (l *Ledger) append(block model.Block) error {
	if block.PreviousHash != l.tipHash {
		return fmt.Errorf("%w: block %d does not extend tip %s", ErrBrokenChainLinkage, block.Index, l.tipHash)
	}
	if block.Index != uint64(len(l.chain)) {
		return fmt.Errorf("%w: block index %d, want %d", ErrBrokenChainLinkage, block.Index, len(l.chain))
	}
	if err := l.consensus.ValidateBlock(l.chain[len(l.chain)-1], block); err != nil {
		return err
	}
	hash, err := crypto.HashBlock(block)
	if err != nil {
		return fmt.Errorf("hash block %d: %w", block.Index, err)
	}

	block = block.Clone()
	l.chain = append(l.chain, block)
	l.tipHash = hash
	l.pending = withoutConfirmed(l.pending, block.Transactions)
	return nil
}

func withoutConfirmed(pending, confirmed []model.Transaction) []model.Transaction {
	kept := pending[:0]
	for _, tx := range pending {
		if !contains(confirmed, tx) {
			kept = append(kept, tx)
		}
	}
	return kept
}

func contains(txs []model.Transaction, tx model.Transaction) bool {
	for _, candidate := range txs {
		if candidate.Equal(tx) {
			return true
		}
	}
	return false
}
