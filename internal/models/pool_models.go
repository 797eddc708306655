package models

import (
	"time"

	"github.com/lib/pq"
)

// ProofTaskStatus is the lifecycle state of one queued proof request.
type ProofTaskStatus string

const (
	ProofTaskStatusPending    ProofTaskStatus = "pending"    // waiting for a worker
	ProofTaskStatusProcessing ProofTaskStatus = "processing" // handed to the prover
	ProofTaskStatusCompleted  ProofTaskStatus = "completed"
	ProofTaskStatusFailed     ProofTaskStatus = "failed" // terminal, input cannot prove
)

// ProofTaskType distinguishes the two proof circuits.
type ProofTaskType string

const (
	ProofTaskTypeCommitment ProofTaskType = "commitment"
	ProofTaskTypeWithdrawal ProofTaskType = "withdrawal"
)

// ProofTask is one asynchronous proof request. The request payload and the
// prover's answer are stored as JSON text.
type ProofTask struct {
	ID     string          `json:"id" gorm:"primaryKey"` // UUID
	Type   ProofTaskType   `json:"type" gorm:"not null;index"`
	Status ProofTaskStatus `json:"status" gorm:"not null;default:pending;index"`

	// Request data (JSON serialized prove request)
	RequestData string `json:"request_data" gorm:"type:text"`

	// Result data
	ProofData     string `json:"proof_data" gorm:"type:text"`
	PublicValues  string `json:"public_values" gorm:"type:text"`
	NullifierHash string `json:"nullifier_hash" gorm:"index"`

	// Retry bookkeeping; only prover unavailability retries
	RetryCount  int        `json:"retry_count" gorm:"default:0"`
	MaxRetries  int        `json:"max_retries" gorm:"default:3"`
	NextRetryAt *time.Time `json:"next_retry_at"`

	LastError string `json:"last_error" gorm:"type:text"`

	// Lower number runs first
	Priority int `json:"priority" gorm:"default:100"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// TableName sets the table name.
func (ProofTask) TableName() string {
	return "proof_tasks"
}

// RagequitRecord is one ingested ragequit event. The reconciliation service
// reads these as the per-scope exit set; uniqueness is one ragequit per
// commitment.
type RagequitRecord struct {
	ID             uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	ChainID        uint64 `json:"chain_id" gorm:"not null;index"`
	Scope          string `json:"scope" gorm:"not null;index;uniqueIndex:idx_scope_commitment"` // bytes32 hex
	Label          string `json:"label"`                                                        // bytes32 hex
	CommitmentHash string `json:"commitment_hash" gorm:"not null;uniqueIndex:idx_scope_commitment"`
	BlockNumber    uint64 `json:"block_number" gorm:"not null"`
	TxHash         string `json:"tx_hash"`
	Source         string `json:"source"` // "indexer" or "nats"

	CreatedAt time.Time `json:"created_at"`
}

// TableName sets the table name.
func (RagequitRecord) TableName() string {
	return "ragequit_records"
}

// ReconciliationRun is the audit row written after every reconciliation
// pass.
type ReconciliationRun struct {
	ID      uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	ChainID uint64 `json:"chain_id" gorm:"not null;index"`

	// Caller identity the run was keyed under (hash of the viewing key,
	// never the key itself)
	AccountKey string `json:"account_key" gorm:"index"`

	ScopeCount   int `json:"scope_count"`
	ChainCount   int `json:"chain_count"`   // commitment chains consumed
	AccountCount int `json:"account_count"` // pool accounts produced

	// Labels of chains rejected as malformed during the run
	MalformedLabels pq.StringArray `json:"malformed_labels" gorm:"type:text[]"`

	DurationMs   int64  `json:"duration_ms"`
	ErrorSummary string `json:"error_summary" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName sets the table name.
func (ReconciliationRun) TableName() string {
	return "reconciliation_runs"
}
