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

	"pool-backend/internal/config"
)

// ProverClient talks to the external proving service.
type ProverClient struct {
	BaseURL string
	Client  *http.Client
}

// NewProverClient creates a prover client. Proof generation is slow, so the
// timeout defaults to 10 minutes unless the config says otherwise.
func NewProverClient(baseURL string) *ProverClient {
	timeout := 600 * time.Second

	if config.AppConfig != nil && config.AppConfig.Prover.Timeout > 0 {
		timeout = time.Duration(config.AppConfig.Prover.Timeout) * time.Second
	}

	log.Printf("🔧 [Prover] Created client: BaseURL=%s, Timeout=%v", baseURL, timeout)

	return &ProverClient{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

// ProverHTTPError is a non-200 answer from the prover service. Callers use
// the status code to tell a rejected input (4xx) from an unavailable prover
// (5xx).
type ProverHTTPError struct {
	StatusCode int
	Body       string
}

func (e *ProverHTTPError) Error() string {
	return fmt.Sprintf("prover service returned status %d: %s", e.StatusCode, e.Body)
}

// CommitmentProofRequest asks the prover for a commitment (ragequit) proof.
type CommitmentProofRequest struct {
	Value     string `json:"value"`     // uint256, decimal string
	Label     string `json:"label"`     // bytes32 hex
	Nullifier string `json:"nullifier"` // bytes32 hex
	Secret    string `json:"secret"`    // bytes32 hex
}

// WithdrawalProofRequest asks the prover for a withdrawal proof.
type WithdrawalProofRequest struct {
	Preimage struct {
		Value     string `json:"value"`
		Label     string `json:"label"`
		Nullifier string `json:"nullifier"`
		Secret    string `json:"secret"`
	} `json:"preimage"`
	Input struct {
		CommitmentHash string `json:"commitment_hash"`
		NullifierHash  string `json:"nullifier_hash"`
		Recipient      string `json:"recipient"`
		WithdrawnValue string `json:"withdrawn_value"`
		StateRoot      string `json:"state_root"`
		AllowlistRoot  string `json:"allowlist_root"`
		Context        string `json:"context"`
	} `json:"input"`
}

// ProofResponse is the prover's proof-generation envelope.
type ProofResponse struct {
	RequestID      string  `json:"request_id"`
	Success        bool    `json:"success"`
	ProofData      string  `json:"proof_data"`
	PublicValues   string  `json:"public_values"`
	VKey           *string `json:"vkey"`
	Timestamp      string  `json:"timestamp"`
	ErrorMessage   *string `json:"error_message"`
	GenerationTime *string `json:"generation_time"`
}

// VerifyProofRequest carries a proof back to the prover for verification.
type VerifyProofRequest struct {
	ProofData    string `json:"proof_data"`
	PublicValues string `json:"public_values"`
}

// VerifyProofResponse is the prover's verification envelope.
type VerifyProofResponse struct {
	Success      bool    `json:"success"`
	Valid        bool    `json:"valid"`
	ErrorMessage *string `json:"error_message"`
}

// ProveCommitment requests a commitment proof.
func (c *ProverClient) ProveCommitment(ctx context.Context, req *CommitmentProofRequest) (*ProofResponse, error) {
	var result ProofResponse
	if err := c.post(ctx, "/api/proof/commitment", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ProveWithdrawal requests a withdrawal proof.
func (c *ProverClient) ProveWithdrawal(ctx context.Context, req *WithdrawalProofRequest) (*ProofResponse, error) {
	var result ProofResponse
	if err := c.post(ctx, "/api/proof/withdrawal", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// VerifyCommitment verifies a commitment proof.
func (c *ProverClient) VerifyCommitment(ctx context.Context, req *VerifyProofRequest) (*VerifyProofResponse, error) {
	var result VerifyProofResponse
	if err := c.post(ctx, "/api/proof/verify/commitment", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// VerifyWithdrawal verifies a withdrawal proof.
func (c *ProverClient) VerifyWithdrawal(ctx context.Context, req *VerifyProofRequest) (*VerifyProofResponse, error) {
	var result VerifyProofResponse
	if err := c.post(ctx, "/api/proof/verify/withdrawal", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TestConnection checks the prover's health endpoint.
func (c *ProverClient) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("prover service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("prover service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *ProverClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		log.Printf("❌ [Prover] %s failed: status=%d", path, resp.StatusCode)
		log.Printf("   Response body: %s", string(body))
		return &ProverHTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
