// Package consensus implements proof of work, chain validation and fork
// resolution.
package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/shopspring/decimal"

	"github.com/goodnatureofminers/powledger/internal/ledger"
	"github.com/goodnatureofminers/powledger/internal/ledger/crypto"
	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

const (
	defaultDifficulty          = 2
	defaultCancelCheckInterval = 1024
	maxDifficulty              = 2 * chainhash.HashSize
)

// Config holds the consensus parameters. Every node of a network must agree on
// Difficulty and Reward.
type Config struct {
	// Difficulty is the number of leading '0' hex characters a proof hash needs.
	Difficulty int
	// Reward is paid to the miner of every block.
	Reward decimal.Decimal
	// CancelCheckInterval is the number of proof attempts between context polls.
	CancelCheckInterval uint64
}

// DefaultConfig returns difficulty 2 and a reward of 10.
func DefaultConfig() Config {
	return Config{
		Difficulty:          defaultDifficulty,
		Reward:              decimal.NewFromInt(10),
		CancelCheckInterval: defaultCancelCheckInterval,
	}
}

// Engine is stateless apart from its configuration and safe for concurrent use.
type Engine struct {
	cfg Config
	now func() time.Time
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Difficulty < 1 || cfg.Difficulty > maxDifficulty {
		return nil, fmt.Errorf("difficulty must be within [1, %d], got %d", maxDifficulty, cfg.Difficulty)
	}
	if cfg.Reward.IsNegative() {
		return nil, fmt.Errorf("reward must not be negative, got %s", cfg.Reward)
	}
	if err := model.ValidateAmount(cfg.Reward); err != nil {
		return nil, fmt.Errorf("reward: %w", err)
	}
	if cfg.CancelCheckInterval == 0 {
		cfg.CancelCheckInterval = defaultCancelCheckInterval
	}
	return &Engine{
		cfg: cfg,
		now: time.Now,
	}, nil
}

// Reward returns the amount paid per mined block.
func (e *Engine) Reward() decimal.Decimal {
	return e.cfg.Reward
}

// IsValidProof reports whether hash(transactions || lastHash || proof) has the
// difficulty prefix.
func (e *Engine) IsValidProof(transactions []model.Transaction, lastHash string, proof uint64) bool {
	payload, err := proofPayload(transactions, lastHash)
	if err != nil {
		return false
	}
	return e.solves(payload, proof)
}

// Mine searches proofs 0, 1, 2, ... for pending on top of lastBlock and seals
// the result with a reward for miner. The search stops with ctx.Err() once ctx
// is done.
func (e *Engine) Mine(ctx context.Context, pending []model.Transaction, lastBlock model.Block, miner string) (model.Block, error) {
	if miner == "" {
		return model.Block{}, errors.New("miner identity is required")
	}
	lastHash, err := crypto.HashBlock(lastBlock)
	if err != nil {
		return model.Block{}, fmt.Errorf("hash last block: %w", err)
	}
	txs := model.CloneTransactions(pending)
	if txs == nil {
		txs = []model.Transaction{}
	}
	payload, err := proofPayload(txs, lastHash)
	if err != nil {
		return model.Block{}, err
	}

	var proof uint64
	for ; ; proof++ {
		if proof%e.cfg.CancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return model.Block{}, err
			}
		}
		if e.solves(payload, proof) {
			break
		}
	}

	return model.Block{
		Index:        lastBlock.Index + 1,
		PreviousHash: lastHash,
		Transactions: append(txs, model.NewReward(miner, e.cfg.Reward)),
		Proof:        proof,
		Timestamp:    e.now().UTC().Truncate(time.Millisecond),
	}, nil
}

// ValidateBlock checks block as the successor of prev.
func (e *Engine) ValidateBlock(prev, block model.Block) error {
	if block.Index != prev.Index+1 {
		return fmt.Errorf("%w: block index %d does not follow %d", ledger.ErrBrokenChainLinkage, block.Index, prev.Index)
	}
	prevHash, err := crypto.HashBlock(prev)
	if err != nil {
		return fmt.Errorf("hash block %d: %w", prev.Index, err)
	}
	if block.PreviousHash != prevHash {
		return fmt.Errorf("%w: block %d previous hash %q, want %q", ledger.ErrBrokenChainLinkage, block.Index, block.PreviousHash, prevHash)
	}

	reward, ok := block.Reward()
	if !ok {
		return fmt.Errorf("%w: block %d does not end with a reward", ledger.ErrInvalidReward, block.Index)
	}
	if !reward.Amount.Equal(e.cfg.Reward) {
		return fmt.Errorf("%w: block %d pays %s", ledger.ErrInvalidReward, block.Index, reward.Amount)
	}

	payload := block.Payload()
	for i, tx := range payload {
		if tx.IsReward() {
			return fmt.Errorf("%w: block %d has a reward at position %d", ledger.ErrInvalidReward, block.Index, i)
		}
		if !crypto.VerifyTransaction(tx) {
			return fmt.Errorf("%w: block %d transaction %d", ledger.ErrInvalidSignature, block.Index, i)
		}
	}

	if !e.IsValidProof(payload, prevHash, block.Proof) {
		return fmt.Errorf("%w: block %d proof %d", ledger.ErrInvalidProof, block.Index, block.Proof)
	}
	return nil
}

// ValidateChain checks the genesis block and every link, stopping at the first
// violation.
func (e *Engine) ValidateChain(chain []model.Block) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", ledger.ErrBrokenChainLinkage)
	}
	if !chain[0].IsGenesis() {
		return fmt.Errorf("%w: first block is not genesis", ledger.ErrBrokenChainLinkage)
	}
	for i := 1; i < len(chain); i++ {
		if chain[i].Index != uint64(i) {
			return fmt.Errorf("%w: block at position %d has index %d", ledger.ErrBrokenChainLinkage, i, chain[i].Index)
		}
		if err := e.ValidateBlock(chain[i-1], chain[i]); err != nil {
			return err
		}
	}
	return nil
}

// IsValidChain is ValidateChain as a predicate.
func (e *Engine) IsValidChain(chain []model.Block) bool {
	return e.ValidateChain(chain) == nil
}

// ValidateTransaction checks a submitted transaction. balanceOf must include
// the pending pool.
func (e *Engine) ValidateTransaction(tx model.Transaction, balanceOf func(string) decimal.Decimal, checkFunds bool) error {
	if tx.IsReward() {
		return ledger.ErrRewardSubmission
	}
	if err := model.ValidateAmount(tx.Amount); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	if tx.Amount.IsNegative() {
		return fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, tx.Amount)
	}
	if !crypto.VerifyTransaction(tx) {
		return ledger.ErrInvalidSignature
	}
	if checkFunds {
		if available := balanceOf(tx.Sender); available.LessThan(tx.Amount) {
			return fmt.Errorf("%w: balance %s, amount %s", ledger.ErrInsufficientFunds, available, tx.Amount)
		}
	}
	return nil
}

// IsValidTransaction is ValidateTransaction as a predicate.
func (e *Engine) IsValidTransaction(tx model.Transaction, balanceOf func(string) decimal.Decimal, checkFunds bool) bool {
	return e.ValidateTransaction(tx, balanceOf, checkFunds) == nil
}

// Resolve picks the longest valid chain. current wins ties, then candidates
// in the order given.
func (e *Engine) Resolve(current []model.Block, candidates [][]model.Block) ([]model.Block, bool) {
	chosen, replaced := current, false
	for _, candidate := range candidates {
		if len(candidate) <= len(chosen) {
			continue
		}
		if !e.IsValidChain(candidate) {
			continue
		}
		chosen, replaced = candidate, true
	}
	return chosen, replaced
}

func (e *Engine) solves(payload []byte, proof uint64) bool {
	attempt := strconv.AppendUint(payload, proof, 10)
	digest := chainhash.HashH(attempt)
	return hasZeroPrefix(digest[:], e.cfg.Difficulty)
}

// proofPayload returns serialize(transactions) || lastHash with spare capacity
// for the proof digits.
func proofPayload(transactions []model.Transaction, lastHash string) ([]byte, error) {
	if transactions == nil {
		transactions = []model.Transaction{}
	}
	raw, err := json.Marshal(transactions)
	if err != nil {
		return nil, fmt.Errorf("encode transactions: %w", err)
	}
	payload := make([]byte, 0, len(raw)+len(lastHash)+20)
	payload = append(payload, raw...)
	return append(payload, lastHash...), nil
}

// hasZeroPrefix reports whether the hex encoding of digest starts with n '0'
// characters.
func hasZeroPrefix(digest []byte, n int) bool {
	for i := 0; i < n; i++ {
		b := digest[i/2]
		if i%2 == 0 {
			b >>= 4
		} else {
			b &= 0x0f
		}
		if b != 0 {
			return false
		}
	}
	return true
}
