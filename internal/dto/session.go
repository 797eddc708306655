package dto

// ==================== Signing Session DTOs ====================

// CallInput is one pool call submitted to the orchestrator. Value is a
// decimal uint256 string, Data a 0x-prefixed ABI payload.
type CallInput struct {
	ChainID uint64 `json:"chain_id" binding:"required"`
	To      string `json:"to" binding:"required"`
	Value   string `json:"value"`
	Data    string `json:"data"`
}

// SyncOperationRequest submits calls to the caller's signing session. Calls
// merge into the session's operation; an empty list is a no-op.
type SyncOperationRequest struct {
	Calls []CallInput `json:"calls"`
}

// AttachSignatureRequest finalizes the session's operation with the wallet
// signature over the estimated transaction.
type AttachSignatureRequest struct {
	Signature string `json:"signature" binding:"required"` // hex
}

// SessionStatusResponse wraps the orchestrator snapshot for polling clients;
// websocket subscribers receive the same snapshot shape on every transition.
type SessionStatusResponse struct {
	Success  bool        `json:"success"`
	Snapshot interface{} `json:"snapshot"`
}
