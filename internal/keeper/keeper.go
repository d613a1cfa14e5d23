// Package keeper is the HTTP client for the external ledger/accounting
// backend (spec.md calls it "Keeper"): inbound deposit notification,
// payout result notification, and the wallet-encryption decrypt-status
// poll.
//
// Retry policy is built on github.com/cenkalti/backoff/v5, a teacher
// indirect dependency promoted per SPEC_FULL.md's domain stack: Notify
// retries a bounded number of times (a block-scan failure must still
// surface so the scanner can retry the whole chunk), PayoutNotify
// retries forever on a fixed interval per spec §4.5's "Keeper must
// dedupe" contract.
package keeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrNotificationFailed is spec §7's NotificationFailed: Keeper
// responded without {"status":"success"}.
type ErrNotificationFailed struct {
	Symbol string
	TxID   string
	Body   string
}

func (e *ErrNotificationFailed) Error() string {
	return fmt.Sprintf("keeper: walletnotify %s/%s failed: %s", e.Symbol, e.TxID, e.Body)
}

// Client talks to one Keeper deployment.
type Client struct {
	baseURL    string
	backendKey string
	httpClient *http.Client
}

// New builds a Client. baseURL is SHKEEPER_HOST; backendKey is
// SHKEEPER_BACKEND_KEY, sent as X-Shkeeper-Backend-Key on every request.
func New(baseURL, backendKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		backendKey: backendKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type statusResponse struct {
	Status string `json:"status"`
}

// Notify posts the inbound-deposit webhook for one transaction, with a
// bounded retry: the scanner treats final failure as NotificationFailed
// and retries the whole chunk on its own schedule, so this retry only
// smooths over transient network blips within one chunk attempt.
func (c *Client) Notify(ctx context.Context, symbol, txID string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		url := fmt.Sprintf("%s/api/v1/walletnotify/%s/%s", c.baseURL, symbol, txID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("X-Shkeeper-Backend-Key", c.backendKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer drain(resp.Body)

		var sr statusResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil || sr.Status != "success" {
			return struct{}{}, &ErrNotificationFailed{Symbol: symbol, TxID: txID, Body: sr.Status}
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
	return err
}

// PayoutResult is one row of the array PayoutNotify posts to Keeper.
type PayoutResult struct {
	Status  string   `json:"status"`
	TxIDs   []string `json:"txids"`
	Details string   `json:"details"`
	Message string   `json:"message,omitempty"`
}

// PayoutNotify posts the aggregated payout result for symbol, retrying
// forever on a 10-second interval per spec §4.5 — Keeper must dedupe.
func (c *Client) PayoutNotify(ctx context.Context, symbol string, results []PayoutResult) error {
	body, err := json.Marshal(results)
	if err != nil {
		return err
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		url := fmt.Sprintf("%s/api/v1/payoutnotify/%s", c.baseURL, symbol)
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if reqErr != nil {
			return struct{}{}, backoff.Permanent(reqErr)
		}
		req.Header.Set("X-Shkeeper-Backend-Key", c.backendKey)
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return struct{}{}, doErr
		}
		defer drain(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return struct{}{}, fmt.Errorf("keeper: payoutnotify %s: status %d", symbol, resp.StatusCode)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(10*time.Second)), backoff.WithMaxTries(0), backoff.WithMaxElapsedTime(0))
	return err
}

// DecryptStatusResult is the decoded form of GET /api/v1/{symbol}/decrypt.
type DecryptStatusResult struct {
	PersistentStatus string `json:"persistent_status"`
	RuntimeStatus    string `json:"runtime_status"`
	Key              string `json:"key"`
}

// DecryptStatus implements walletstore.DecryptStatusFetcher.
func (c *Client) DecryptStatus(ctx context.Context, symbol string) (string, string, error) {
	url := fmt.Sprintf("%s/api/v1/%s/decrypt", c.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("X-Shkeeper-Backend-Key", c.backendKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer drain(resp.Body)

	var dr DecryptStatusResult
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", "", fmt.Errorf("keeper: decode decrypt status: %w", err)
	}
	return dr.PersistentStatus, dr.Key, nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
