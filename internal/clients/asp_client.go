package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pool-backend/internal/types"
)

// ASPClient talks to the association-set provider (the allow-list service)
// that asserts which commitments are approved for normal withdrawal
// eligibility.
type ASPClient struct {
	BaseURL string
	Client  *http.Client
}

// NewASPClient creates an allow-list client.
func NewASPClient(baseURL string) *ASPClient {
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	return &ASPClient{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// approvalStatusResponse is the single-commitment lookup envelope.
type approvalStatusResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Decision string `json:"decision"` // "approved" | "declined" | "unknown"
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// approvalBatchRequest asks for every listed commitment per scope.
type approvalBatchRequest struct {
	Scopes []approvalBatchScope `json:"scopes"`
}

type approvalBatchScope struct {
	Scope       string   `json:"scope"`
	Commitments []string `json:"commitments"`
}

// approvalBatchResponse maps scope hex to the approved/declined hash lists.
type approvalBatchResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Approved map[string][]string `json:"approved"`
		Declined map[string][]string `json:"declined"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// GetApprovalStatus looks up the allow-list decision for one commitment.
func (c *ASPClient) GetApprovalStatus(ctx context.Context, scope, commitmentHash common.Hash) (types.ApprovalDecision, error) {
	url := fmt.Sprintf("%s/api/approval/status?scope=%s&commitment=%s", c.BaseURL, scope.Hex(), commitmentHash.Hex())

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return types.ApprovalUnknown, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return types.ApprovalUnknown, fmt.Errorf("allow-list service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.ApprovalUnknown, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.ApprovalUnknown, fmt.Errorf("allow-list service returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed approvalStatusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.ApprovalUnknown, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !parsed.Success {
		return types.ApprovalUnknown, fmt.Errorf("allow-list lookup failed: %s", parsed.Error)
	}

	switch parsed.Data.Decision {
	case "approved":
		return types.ApprovalApproved, nil
	case "declined":
		return types.ApprovalDeclined, nil
	default:
		return types.ApprovalUnknown, nil
	}
}

// GetApprovalSet batches allow-list lookups for the terminal commitments of
// every given scope. Entries the service does not know stay absent and read
// as unknown.
func (c *ASPClient) GetApprovalSet(ctx context.Context, commitmentsByScope map[common.Hash][]common.Hash) (*types.ApprovalSet, error) {
	if len(commitmentsByScope) == 0 {
		return types.NewApprovalSet(), nil
	}

	reqBody := approvalBatchRequest{Scopes: make([]approvalBatchScope, 0, len(commitmentsByScope))}
	for scope, commitments := range commitmentsByScope {
		entry := approvalBatchScope{Scope: scope.Hex(), Commitments: make([]string, 0, len(commitments))}
		for _, h := range commitments {
			entry.Commitments = append(entry.Commitments, h.Hex())
		}
		reqBody.Scopes = append(reqBody.Scopes, entry)
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/approval/batch", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("allow-list service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("❌ [ASP] batch lookup failed: status=%d body=%s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("allow-list service returned status %d", resp.StatusCode)
	}

	var parsed approvalBatchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("allow-list batch lookup failed: %s", parsed.Error)
	}

	set := types.NewApprovalSet()
	for scopeHex, hashes := range parsed.Data.Approved {
		scope := common.HexToHash(scopeHex)
		for _, h := range hashes {
			set.Approve(scope, common.HexToHash(h))
		}
	}
	for scopeHex, hashes := range parsed.Data.Declined {
		scope := common.HexToHash(scopeHex)
		for _, h := range hashes {
			set.Decline(scope, common.HexToHash(h))
		}
	}
	return set, nil
}

// TestConnection checks the allow-list service health endpoint.
func (c *ASPClient) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("allow-list service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("allow-list service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
