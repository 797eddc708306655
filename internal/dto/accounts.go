package dto

// ==================== Account DTOs ====================

// ReconcileRequest asks for a full reconciliation pass of the caller's pool
// accounts on one chain. The viewing key is consumed in memory and never
// persisted; audit rows carry only its one-way account key.
type ReconcileRequest struct {
	ChainID    uint64 `json:"chain_id" binding:"required"`
	ViewingKey string `json:"viewing_key" binding:"required"` // bytes32 hex
}

// PoolAccountView is the wire shape of one reconciled pool account.
type PoolAccountView struct {
	ChainID        uint64 `json:"chain_id"`
	Scope          string `json:"scope"` // bytes32 hex
	AssetName      string `json:"asset_name,omitempty"`
	AssetSymbol    string `json:"asset_symbol,omitempty"`
	Label          string `json:"label"`           // bytes32 hex, deposit label
	Balance        string `json:"balance"`         // uint256, decimal string
	LastCommitment string `json:"last_commitment"` // bytes32 hex
	SequenceNumber int    `json:"sequence_number"` // 1-based position within the scope group, not stable across runs
	ReviewStatus   string `json:"review_status"`
	Ragequit       bool   `json:"ragequit"`
}

// MalformedChainView reports one commitment chain rejected during
// reconciliation.
type MalformedChainView struct {
	Scope      string `json:"scope"`
	ChainIndex int    `json:"chain_index"`
	Reason     string `json:"reason"`
}

// ReconcileResponse is the reconciliation result for one chain.
type ReconcileResponse struct {
	ChainID         uint64                       `json:"chain_id"`
	AccountKey      string                       `json:"account_key"` // keccak of the viewing key, push routing handle
	Accounts        []PoolAccountView            `json:"accounts"`
	AccountsByScope map[string][]PoolAccountView `json:"accounts_by_scope"` // keyed "<chainId>-<scope>"
	MalformedChains []MalformedChainView         `json:"malformed_chains,omitempty"`
	Stale           bool                         `json:"stale"`
	ReconciledAt    int64                        `json:"reconciled_at"` // unix seconds
}

// ReconciliationRunView is one audit row.
type ReconciliationRunView struct {
	ID              uint     `json:"id"`
	ChainID         uint64   `json:"chain_id"`
	AccountKey      string   `json:"account_key"`
	ScopeCount      int      `json:"scope_count"`
	ChainCount      int      `json:"chain_count"`
	AccountCount    int      `json:"account_count"`
	MalformedLabels []string `json:"malformed_labels,omitempty"`
	DurationMs      int64    `json:"duration_ms"`
	ErrorSummary    string   `json:"error_summary,omitempty"`
	CreatedAt       int64    `json:"created_at"` // unix seconds
}
