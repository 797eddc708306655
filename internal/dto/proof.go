package dto

// ==================== Proof DTOs ====================

// CommitmentProofRequest asks for an asynchronous commitment (ragequit)
// proof. Nullifier and secret are consumed in memory only; the queue row
// stores a redacted descriptor. AccountKey routes websocket task updates and
// is the reconcile response's one-way key, never the viewing key.
type CommitmentProofRequest struct {
	AccountKey string `json:"account_key,omitempty"`        // bytes32 hex
	Value      string `json:"value" binding:"required"`     // uint256, decimal string
	Label      string `json:"label" binding:"required"`     // bytes32 hex
	Nullifier  string `json:"nullifier" binding:"required"` // bytes32 hex
	Secret     string `json:"secret" binding:"required"`    // bytes32 hex
}

// WithdrawalPreimageInput is the private side of a withdrawal proof request.
type WithdrawalPreimageInput struct {
	Value     string `json:"value" binding:"required"`     // uint256, decimal string
	Label     string `json:"label" binding:"required"`     // bytes32 hex
	Nullifier string `json:"nullifier" binding:"required"` // bytes32 hex
	Secret    string `json:"secret" binding:"required"`    // bytes32 hex
}

// WithdrawalPublicInput is the public side of a withdrawal proof request.
type WithdrawalPublicInput struct {
	CommitmentHash string `json:"commitment_hash" binding:"required"` // bytes32 hex
	NullifierHash  string `json:"nullifier_hash" binding:"required"`  // bytes32 hex
	Recipient      string `json:"recipient" binding:"required"`       // address
	WithdrawnValue string `json:"withdrawn_value" binding:"required"` // uint256, decimal string
	StateRoot      string `json:"state_root" binding:"required"`      // bytes32 hex
	AllowlistRoot  string `json:"allowlist_root" binding:"required"`  // bytes32 hex
	Context        string `json:"context" binding:"required"`         // bytes32 hex
}

// WithdrawalProofRequest asks for an asynchronous withdrawal proof.
type WithdrawalProofRequest struct {
	AccountKey string                  `json:"account_key,omitempty"` // bytes32 hex
	Preimage   WithdrawalPreimageInput `json:"preimage" binding:"required"`
	Input      WithdrawalPublicInput   `json:"input" binding:"required"`
}

// ProofTaskResponse acknowledges an enqueued proof task.
type ProofTaskResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// ProofTaskView is the wire shape of one queued proof task. Request preimages
// are never included; RequestData holds only the redacted descriptor.
type ProofTaskView struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	NullifierHash string `json:"nullifier_hash,omitempty"`
	ProofData     string `json:"proof_data,omitempty"`
	PublicValues  string `json:"public_values,omitempty"`
	RetryCount    int    `json:"retry_count"`
	MaxRetries    int    `json:"max_retries"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAt     int64  `json:"created_at"`            // unix seconds
	CompletedAt   int64  `json:"completed_at,omitempty"` // unix seconds
}

// VerifyCommitmentRequest asks for a synchronous commitment proof
// verification.
type VerifyCommitmentRequest struct {
	ProofData    string `json:"proof_data" binding:"required"`
	PublicValues string `json:"public_values" binding:"required"`
}

// VerifyWithdrawalRequest asks for a synchronous withdrawal proof
// verification.
type VerifyWithdrawalRequest struct {
	ProofData    string `json:"proof_data" binding:"required"`
	PublicValues string `json:"public_values" binding:"required"`
}

// VerifyResponse reports a verification verdict. Verified false with success
// true means the prover answered and rejected the proof.
type VerifyResponse struct {
	Success  bool   `json:"success"`
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}
