package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pool-backend/internal/config"
)

// IndexerClient queries the pool event indexer over HTTP. The indexer watches
// every supported pool contract and serves the raw deposit, spend and
// ragequit events per scope.
type IndexerClient struct {
	BaseURL string
	Client  *http.Client
}

// NewIndexerClient creates an indexer client. The timeout comes from the
// configuration file, defaulting to 30 seconds.
func NewIndexerClient(baseURL string) *IndexerClient {
	timeout := 30 * time.Second
	if config.AppConfig != nil && config.AppConfig.Indexer.Timeout > 0 {
		timeout = time.Duration(config.AppConfig.Indexer.Timeout) * time.Second
	}

	return &IndexerClient{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Pagination is the indexer's shared paging envelope.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// DepositEventRecord is one Deposited event as stored by the indexer.
type DepositEventRecord struct {
	ChainID           uint64 `json:"chainId"`
	Label             string `json:"label"`             // bytes32 hex
	CommitmentHash    string `json:"commitmentHash"`    // bytes32 hex
	PrecommitmentHash string `json:"precommitmentHash"` // bytes32 hex
	Value             string `json:"value"`             // uint256, decimal string
	BlockNumber       uint64 `json:"blockNumber"`
	TransactionHash   string `json:"transactionHash"`
}

// SpendEventRecord is one Withdrawn event: a commitment consumed and replaced
// by its change commitment.
type SpendEventRecord struct {
	ChainID            uint64 `json:"chainId"`
	Label              string `json:"label"`              // bytes32 hex
	SpentNullifierHash string `json:"spentNullifierHash"` // bytes32 hex
	NewCommitmentHash  string `json:"newCommitmentHash"`  // bytes32 hex
	WithdrawnValue     string `json:"withdrawnValue"`     // uint256, decimal string
	BlockNumber        uint64 `json:"blockNumber"`
	TransactionHash    string `json:"transactionHash"`
}

// RagequitEventRecord is one Ragequit event: a full unshielded exit of a
// commitment back to its depositor.
type RagequitEventRecord struct {
	ChainID         uint64 `json:"chainId"`
	Label           string `json:"label"`          // bytes32 hex
	CommitmentHash  string `json:"commitmentHash"` // bytes32 hex
	BlockNumber     uint64 `json:"blockNumber"`
	TransactionHash string `json:"transactionHash"`
}

// DepositsByScopeResponse lists deposit events for one pool scope.
type DepositsByScopeResponse struct {
	Deposits   []DepositEventRecord `json:"deposits"`
	Pagination Pagination           `json:"pagination"`
}

// SpendsByScopeResponse lists spend events for one pool scope.
type SpendsByScopeResponse struct {
	Spends     []SpendEventRecord `json:"spends"`
	Pagination Pagination         `json:"pagination"`
}

// RagequitsByScopeResponse lists ragequit events for one pool scope.
type RagequitsByScopeResponse struct {
	Ragequits  []RagequitEventRecord `json:"ragequits"`
	Pagination Pagination            `json:"pagination"`
}

// GetDepositsByScope fetches one page of deposit events for a scope.
func (c *IndexerClient) GetDepositsByScope(ctx context.Context, scope string, page, limit int) (*DepositsByScopeResponse, error) {
	url := fmt.Sprintf("%s/api/data/deposits/by-scope/%s?page=%d&limit=%d", c.BaseURL, scope, page, limit)

	var result DepositsByScopeResponse
	if err := c.getJSON(ctx, url, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSpendsByScope fetches one page of spend events for a scope.
func (c *IndexerClient) GetSpendsByScope(ctx context.Context, scope string, page, limit int) (*SpendsByScopeResponse, error) {
	url := fmt.Sprintf("%s/api/data/spends/by-scope/%s?page=%d&limit=%d", c.BaseURL, scope, page, limit)

	var result SpendsByScopeResponse
	if err := c.getJSON(ctx, url, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRagequitsByScope fetches one page of ragequit events for a scope.
func (c *IndexerClient) GetRagequitsByScope(ctx context.Context, scope string, page, limit int) (*RagequitsByScopeResponse, error) {
	url := fmt.Sprintf("%s/api/data/ragequits/by-scope/%s?page=%d&limit=%d", c.BaseURL, scope, page, limit)

	var result RagequitsByScopeResponse
	if err := c.getJSON(ctx, url, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TestConnection checks the indexer health endpoint.
func (c *IndexerClient) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("indexer unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("indexer unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *IndexerClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
