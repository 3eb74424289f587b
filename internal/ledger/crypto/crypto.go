// Package crypto signs transfers and hashes ledger structures.
//
// Keys are secp256k1. A participant identity is the hex encoded compressed
// public key, so any identity can be used directly to verify signatures.
package crypto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/shopspring/decimal"

	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

// GenerateKey creates a new private key.
func GenerateKey() (*btcec.PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return key, nil
}

// ParsePrivateKey decodes a hex encoded 32 byte private key.
func ParsePrivateKey(hexKey string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", btcec.PrivKeyBytesLen, len(raw))
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return key, nil
}

// EncodePrivateKey returns the hex form accepted by ParsePrivateKey.
func EncodePrivateKey(key *btcec.PrivateKey) string {
	return hex.EncodeToString(key.Serialize())
}

// Identity returns the participant identity of a public key.
func Identity(pub *btcec.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}

// IdentityOf returns the identity owned by key.
func IdentityOf(key *btcec.PrivateKey) string {
	return Identity(key.PubKey())
}

// Sign signs (sender, recipient, amount) and returns the hex DER signature.
func Sign(key *btcec.PrivateKey, sender, recipient string, amount decimal.Decimal) string {
	sig := ecdsa.Sign(key, transferDigest(sender, recipient, amount))
	return hex.EncodeToString(sig.Serialize())
}

// VerifySignature checks signature against the identity publicKey. Any
// malformed input verifies as false.
func VerifySignature(publicKey, sender, recipient string, amount decimal.Decimal, signature string) bool {
	rawKey, err := hex.DecodeString(publicKey)
	if err != nil {
		return false
	}
	pub, err := btcec.ParsePubKey(rawKey)
	if err != nil {
		return false
	}
	rawSig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(rawSig)
	if err != nil {
		return false
	}
	return sig.Verify(transferDigest(sender, recipient, amount), pub)
}

// VerifyTransaction checks a transfer against its own sender identity.
func VerifyTransaction(tx model.Transaction) bool {
	if tx.IsReward() {
		return false
	}
	return VerifySignature(tx.Sender, tx.Sender, tx.Recipient, tx.Amount, tx.Signature)
}

// SignTransfer builds a transfer signed by key. The sender is the key identity.
func SignTransfer(key *btcec.PrivateKey, recipient string, amount decimal.Decimal) model.Transaction {
	sender := IdentityOf(key)
	return model.NewTransfer(sender, recipient, amount, Sign(key, sender, recipient, amount))
}

func transferDigest(sender, recipient string, amount decimal.Decimal) []byte {
	return chainhash.DoubleHashB([]byte(sender + recipient + amount.String()))
}

// Hash returns the hex SHA-256 of the canonical JSON encoding of v.
func Hash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode for hashing: %w", err)
	}
	return hex.EncodeToString(chainhash.HashB(raw)), nil
}

// HashBlock returns the digest that links the next block to b.
func HashBlock(b model.Block) (string, error) {
	return Hash(b)
}
