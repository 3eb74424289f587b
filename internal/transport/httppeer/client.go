// Package httppeer carries ledger traffic between nodes over HTTP.
package httppeer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultMaxRetries      = 3
	defaultInitialInterval = 200 * time.Millisecond
	maxResponseBytes       = 64 << 20
)

// StatusError is returned when a peer answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("peer answered %d", e.Code)
	}
	return fmt.Sprintf("peer answered %d: %s", e.Code, e.Message)
}

// ClientConfig tunes peer requests.
type ClientConfig struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first one.
	MaxRetries uint64
	// InitialInterval is the first backoff pause.
	InitialInterval time.Duration
}

// Client calls the peer routes of other nodes.
type Client struct {
	http            *http.Client
	metrics         Metrics
	logger          *zap.Logger
	maxRetries      uint64
	initialInterval time.Duration
}

// NewClient builds a Client. Zero config values select the defaults.
func NewClient(cfg ClientConfig, metrics Metrics, logger *zap.Logger) (*Client, error) {
	if metrics == nil {
		return nil, errors.New("peer client metrics is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	return &Client{
		http:            &http.Client{Timeout: cfg.Timeout},
		metrics:         metrics,
		logger:          logger,
		maxRetries:      cfg.MaxRetries,
		initialInterval: cfg.InitialInterval,
	}, nil
}

// FetchChain downloads the full chain of peer.
func (c *Client) FetchChain(ctx context.Context, peer string) ([]model.Block, error) {
	var chain []model.Block
	if err := c.do(ctx, "fetch_chain", http.MethodGet, peer+"/chain", nil, &chain); err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("peer %s returned an empty chain", peer)
	}
	return chain, nil
}

// BroadcastTransaction hands a locally accepted transaction to peer.
func (c *Client) BroadcastTransaction(ctx context.Context, peer string, tx model.Transaction) error {
	return c.post(ctx, "broadcast_transaction", peer+"/broadcast-transaction", tx)
}

// BroadcastBlock hands a locally mined block to peer.
func (c *Client) BroadcastBlock(ctx context.Context, peer string, block model.Block) error {
	return c.post(ctx, "broadcast_block", peer+"/broadcast-block", block)
}

// SubmitTransaction submits a wallet transaction to node, which then
// broadcasts it.
func (c *Client) SubmitTransaction(ctx context.Context, node string, tx model.Transaction) error {
	return c.post(ctx, "submit_transaction", node+"/transaction", tx)
}

// Balance asks node for the balance of participant.
func (c *Client) Balance(ctx context.Context, node, participant string) (decimal.Decimal, error) {
	var resp balanceResponse
	if err := c.do(ctx, "balance", http.MethodGet, node+"/balance/"+url.PathEscape(participant), nil, &resp); err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(resp.Balance.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode balance %q: %w", resp.Balance, err)
	}
	return balance, nil
}

func (c *Client) post(ctx context.Context, operation, target string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", operation, err)
	}
	return c.do(ctx, operation, http.MethodPost, target, body, nil)
}

func (c *Client) do(ctx context.Context, operation, method, target string, body []byte, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.Observe(operation, err, start)
	}()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	attempt := 0

	err = backoff.Retry(func() error {
		attempt++
		callErr := c.call(ctx, method, target, body, out)
		var statusErr *StatusError
		if errors.As(callErr, &statusErr) && statusErr.Code < http.StatusInternalServerError {
			return backoff.Permanent(callErr)
		}
		if callErr != nil {
			c.logger.Debug("peer request failed",
				zap.String("operation", operation),
				zap.String("url", target),
				zap.Int("attempt", attempt),
				zap.Error(callErr),
			)
		}
		return callErr
	}, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var payload errorResponse
		_ = json.NewDecoder(limited).Decode(&payload)
		return &StatusError{Code: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, limited)
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
