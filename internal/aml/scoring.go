package aml

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ScoreResult is the decoded response of one score check: "pending"
// means the external service has not finished evaluating the
// transaction yet and a recheck should be scheduled; "success" carries
// the settled risk score in [0,1].
type ScoreResult struct {
	Result string  `json:"result"`
	Score  float64 `json:"score"`
}

// ScoringClient talks to the external AML risk-scoring service. Built
// on net/http directly rather than a third-party client: this is a
// single bespoke GET endpoint with no retry/auth complexity beyond what
// internal/keeper already owns for Keeper's own API, and no HTTP client
// library appears anywhere in the retrieved pack (see DESIGN.md).
type ScoringClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewScoringClient builds a client against baseURL (AML_SCORE_API_URL).
func NewScoringClient(baseURL string) *ScoringClient {
	return &ScoringClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Score requests a risk score for one transaction.
func (c *ScoringClient) Score(ctx context.Context, symbol, txID, address string) (ScoreResult, error) {
	url := fmt.Sprintf("%s/api/v1/score/%s/%s?address=%s", c.baseURL, symbol, txID, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ScoreResult{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("aml: score request: %w", err)
	}
	defer resp.Body.Close()

	var out ScoreResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ScoreResult{}, fmt.Errorf("aml: decode score response: %w", err)
	}
	return out, nil
}
