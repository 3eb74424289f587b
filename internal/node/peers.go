package node

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/powledger/internal/ledger"
	"github.com/goodnatureofminers/powledger/internal/ledger/crypto"
	"github.com/goodnatureofminers/powledger/internal/ledger/model"
	"github.com/goodnatureofminers/powledger/pkg/workerpool"
)

// AddPeer registers a peer base URL. Addresses without a scheme get http://.
func (s *Service) AddPeer(ctx context.Context, address string) (string, error) {
	peer, err := NormalizePeer(address)
	if err != nil {
		return "", err
	}

	s.peersMu.Lock()
	s.peers[peer] = struct{}{}
	peers := s.peerList()
	s.peersMu.Unlock()

	s.savePeers(ctx, peers)
	return peer, nil
}

// RemovePeer forgets a peer. Removing an unknown peer is not an error.
func (s *Service) RemovePeer(ctx context.Context, address string) error {
	peer, err := NormalizePeer(address)
	if err != nil {
		return err
	}

	s.peersMu.Lock()
	delete(s.peers, peer)
	peers := s.peerList()
	s.peersMu.Unlock()

	s.savePeers(ctx, peers)
	return nil
}

// Peers returns the registered peers in lexical order.
func (s *Service) Peers() []string {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()

	return s.peerList()
}

func (s *Service) peerList() []string {
	peers := make([]string, 0, len(s.peers))
	for peer := range s.peers {
		peers = append(peers, peer)
	}
	sort.Strings(peers)
	return peers
}

func (s *Service) savePeers(ctx context.Context, peers []string) {
	if err := s.peerStore.SavePeers(ctx, peers); err != nil {
		s.logger.Error("save peers failed", zap.Error(fmt.Errorf("%w: %w", ledger.ErrIOFailure, err)))
	}
}

// NormalizePeer turns a peer address into the base URL form used as registry key.
func NormalizePeer(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("peer address is empty")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("parse peer address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("peer scheme %q not supported", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("peer address %q has no host", address)
	}
	return u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/"), nil
}

// broadcast calls send for every peer. Failures only skip that peer.
func (s *Service) broadcast(ctx context.Context, kind string, send func(ctx context.Context, peer string) error) {
	peers := s.Peers()
	if len(peers) == 0 {
		return
	}
	logger := s.logger.With(zap.String("kind", kind))
	_ = workerpool.Each(ctx, s.cfg.Workers, peers, func(ctx context.Context, _ int, peer string) error {
		if err := send(ctx, peer); err != nil {
			logger.Warn("broadcast failed", zap.String("peer", peer), zap.Error(err))
		}
		return nil
	})
}

// ResolveConflicts fetches every peer chain and adopts the longest valid one
// if it is longer than the local chain. It reports whether the chain changed.
func (s *Service) ResolveConflicts(ctx context.Context) (bool, error) {
	started := time.Now()
	replaced, err := s.resolve(ctx)
	s.metrics.ObserveOperation("resolve_conflicts", err, started)
	return replaced, err
}

func (s *Service) resolve(ctx context.Context) (bool, error) {
	peers := s.Peers()
	chains := make([][]model.Block, len(peers))
	err := workerpool.Each(ctx, s.cfg.Workers, peers, func(ctx context.Context, i int, peer string) error {
		chain, err := s.client.FetchChain(ctx, peer)
		if err != nil {
			s.logger.Warn("fetch peer chain failed", zap.String("peer", peer), zap.Error(err))
			return nil
		}
		chains[i] = chain
		return nil
	})
	if err != nil {
		return false, err
	}

	candidates := make([][]model.Block, 0, len(chains))
	for _, chain := range chains {
		if chain != nil {
			candidates = append(candidates, chain)
		}
	}

	if len(candidates) == 0 {
		s.logger.Debug("no peer chain fetched", zap.Int("peers", len(peers)))
		return false, nil
	}

	current := s.ledger.Chain()
	chosen, replaced := s.engine.Resolve(current, candidates)
	s.conflict.Store(false)
	if !replaced {
		s.logger.Debug("local chain kept", zap.Int("length", len(current)), zap.Int("candidates", len(candidates)))
		return false, nil
	}

	if err := s.ledger.ReplaceChain(chosen); err != nil {
		if errors.Is(err, ledger.ErrChainNotLonger) {
			return false, nil
		}
		return false, fmt.Errorf("replace chain: %w", err)
	}
	s.cancelMining()
	s.logger.Info("local chain replaced", zap.Int("old_length", len(current)), zap.Int("new_length", len(chosen)))

	s.persist(ctx)
	for _, block := range chosen[divergence(current, chosen):] {
		s.record(ctx, block)
	}
	return true, nil
}

// divergence returns the first position where the chains hold different blocks.
func divergence(a, b []model.Block) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ha, errA := crypto.HashBlock(a[i])
		hb, errB := crypto.HashBlock(b[i])
		if errA != nil || errB != nil || ha != hb {
			return i
		}
	}
	return n
}
