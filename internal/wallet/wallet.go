// Package wallet keeps the key pair of a ledger participant.
//
// Keys are stored as WIF strings in a small TOML file next to the identity
// they belong to, so the identity can be read without decoding the key.
package wallet

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"

	"github.com/goodnatureofminers/powledger/internal/ledger/crypto"
	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

// ErrIdentityMismatch is returned when a key file names an identity that its
// key does not produce.
var ErrIdentityMismatch = errors.New("wallet identity does not match key")

var network = &chaincfg.MainNetParams

type keyFile struct {
	Identity   string `toml:"identity"`
	PrivateKey string `toml:"private_key"`
}

// Wallet signs transfers on behalf of one identity.
type Wallet struct {
	key      *btcec.PrivateKey
	identity string
}

// New creates a wallet with a fresh key.
func New() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return FromKey(key), nil
}

// FromKey wraps an existing key.
func FromKey(key *btcec.PrivateKey) *Wallet {
	return &Wallet{key: key, identity: crypto.IdentityOf(key)}
}

// Load reads the key file at path.
func Load(path string) (*Wallet, error) {
	var kf keyFile
	if _, err := toml.DecodeFile(path, &kf); err != nil {
		return nil, fmt.Errorf("read wallet %s: %w", path, err)
	}

	wif, err := btcutil.DecodeWIF(kf.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode wallet key: %w", err)
	}
	if !wif.IsForNet(network) {
		return nil, fmt.Errorf("wallet key is not for %s", network.Name)
	}

	w := FromKey(wif.PrivKey)
	if kf.Identity != "" && kf.Identity != w.identity {
		return nil, fmt.Errorf("%w: file names %s", ErrIdentityMismatch, kf.Identity)
	}
	return w, nil
}

// Save writes the wallet to path readable by the owner only. An existing
// file is never overwritten.
func (w *Wallet) Save(path string) error {
	wif, err := btcutil.NewWIF(w.key, network, true)
	if err != nil {
		return fmt.Errorf("encode wallet key: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(keyFile{
		Identity:   w.identity,
		PrivateKey: wif.String(),
	}); err != nil {
		return fmt.Errorf("encode wallet: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create wallet %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("write wallet %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close wallet %s: %w", path, err)
	}
	return nil
}

// Identity returns the participant identity of the wallet.
func (w *Wallet) Identity() string {
	return w.identity
}

// Transfer builds a signed transfer of amount to recipient.
func (w *Wallet) Transfer(recipient string, amount decimal.Decimal) (model.Transaction, error) {
	if recipient == "" {
		return model.Transaction{}, errors.New("recipient is required")
	}
	if !amount.IsPositive() {
		return model.Transaction{}, fmt.Errorf("amount must be positive, got %s", amount)
	}
	if err := model.ValidateAmount(amount); err != nil {
		return model.Transaction{}, err
	}
	return crypto.SignTransfer(w.key, recipient, amount), nil
}
