// Package bolt keeps the node snapshot and peer registry in a bbolt file.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/goodnatureofminers/powledger/internal/ledger/model"
	"github.com/goodnatureofminers/powledger/pkg/safe"
)

var (
	blocksBucket  = []byte("blocks")
	pendingBucket = []byte("pending")
	peersBucket   = []byte("peers")

	pendingKey = []byte("transactions")
)

// Store implements the node snapshot store and peer store.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database file at path. timeout bounds the wait for
// the file lock held by another process.
func Open(path string, timeout time.Duration) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{blocksBucket, pendingBucket, peersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the stored chain and pending pool. An empty database yields a
// nil chain and no error.
func (s *Store) Load(ctx context.Context) ([]model.Block, []model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		chain   []model.Block
		pending []model.Transaction
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(blocksBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			position, err := safe.Uint64(len(chain))
			if err != nil {
				return err
			}
			if len(k) != 8 {
				return fmt.Errorf("block key %x at position %d is %d bytes, want 8", k, position, len(k))
			}
			if index := binary.BigEndian.Uint64(k); index != position {
				return fmt.Errorf("block key %d out of sequence, want %d", index, position)
			}
			var block model.Block
			if err := json.Unmarshal(v, &block); err != nil {
				return fmt.Errorf("decode block %d: %w", position, err)
			}
			chain = append(chain, block)
		}

		if raw := tx.Bucket(pendingBucket).Get(pendingKey); raw != nil {
			if err := json.Unmarshal(raw, &pending); err != nil {
				return fmt.Errorf("decode pending transactions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(chain) > 0 && !chain[0].IsGenesis() {
		return nil, nil, errors.New("stored chain does not start with genesis")
	}
	return chain, pending, nil
}

// Save replaces the stored chain and pending pool in one transaction.
func (s *Store) Save(ctx context.Context, chain []model.Block, pending []model.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		blocks, err := recreate(tx, blocksBucket)
		if err != nil {
			return err
		}
		for _, block := range chain {
			raw, err := json.Marshal(block)
			if err != nil {
				return fmt.Errorf("encode block %d: %w", block.Index, err)
			}
			if err := blocks.Put(indexKey(block.Index), raw); err != nil {
				return fmt.Errorf("put block %d: %w", block.Index, err)
			}
		}

		if pending == nil {
			pending = []model.Transaction{}
		}
		raw, err := json.Marshal(pending)
		if err != nil {
			return fmt.Errorf("encode pending transactions: %w", err)
		}
		if err := tx.Bucket(pendingBucket).Put(pendingKey, raw); err != nil {
			return fmt.Errorf("put pending transactions: %w", err)
		}
		return nil
	})
}

// LoadPeers returns the stored peer addresses in key order.
func (s *Store) LoadPeers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var peers []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(peersBucket).ForEach(func(k, _ []byte) error {
			peers = append(peers, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read peers: %w", err)
	}
	return peers, nil
}

// SavePeers replaces the stored peer addresses.
func (s *Store) SavePeers(ctx context.Context, peers []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := recreate(tx, peersBucket)
		if err != nil {
			return err
		}
		for _, peer := range peers {
			if err := b.Put([]byte(peer), []byte{}); err != nil {
				return fmt.Errorf("put peer %s: %w", peer, err)
			}
		}
		return nil
	})
}

func recreate(tx *bbolt.Tx, name []byte) (*bbolt.Bucket, error) {
	if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
		return nil, fmt.Errorf("drop bucket %s: %w", name, err)
	}
	b, err := tx.CreateBucket(name)
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return b, nil
}

func indexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}
