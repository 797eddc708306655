package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReviewStatus is the allow-list review state of a pool account.
// Exactly one status holds at a time.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"  // seen locally, not yet checked against the allow-list
	ReviewStatusApproved ReviewStatus = "approved" // present in the allow-list approved set
	ReviewStatusDeclined ReviewStatus = "declined" // explicitly rejected by the allow-list
	ReviewStatusExited   ReviewStatus = "exited"   // ragequit occurred, chain is terminal
	ReviewStatusSpent    ReviewStatus = "spent"    // superseded by a later commitment in the chain
)

// ApprovalDecision is the tri-state answer of the allow-list service for a
// single commitment.
type ApprovalDecision string

const (
	ApprovalApproved ApprovalDecision = "approved"
	ApprovalDeclined ApprovalDecision = "declined"
	ApprovalUnknown  ApprovalDecision = "unknown"
)

// ApprovalSet is the reconciler's view of allow-list data, keyed by scope and
// commitment hash. Missing data is not an error: a lookup that hits neither
// set answers ApprovalUnknown.
type ApprovalSet struct {
	approved map[common.Hash]map[common.Hash]bool
	declined map[common.Hash]map[common.Hash]bool
}

// NewApprovalSet returns an empty ApprovalSet.
func NewApprovalSet() *ApprovalSet {
	return &ApprovalSet{
		approved: make(map[common.Hash]map[common.Hash]bool),
		declined: make(map[common.Hash]map[common.Hash]bool),
	}
}

// Approve records a commitment as present in the allow-list approved set.
func (s *ApprovalSet) Approve(scope, commitment common.Hash) {
	if s.approved[scope] == nil {
		s.approved[scope] = make(map[common.Hash]bool)
	}
	s.approved[scope][commitment] = true
}

// Decline records a commitment as explicitly rejected.
func (s *ApprovalSet) Decline(scope, commitment common.Hash) {
	if s.declined[scope] == nil {
		s.declined[scope] = make(map[common.Hash]bool)
	}
	s.declined[scope][commitment] = true
}

// Decision answers the tri-state allow-list result for one commitment.
func (s *ApprovalSet) Decision(scope, commitment common.Hash) ApprovalDecision {
	if s == nil {
		return ApprovalUnknown
	}
	if s.approved[scope][commitment] {
		return ApprovalApproved
	}
	if s.declined[scope][commitment] {
		return ApprovalDeclined
	}
	return ApprovalUnknown
}

// PoolAccount is the reconciled, user-facing unit of spendable value.
// Accounts are recomputed from source commitments and allow-list state on
// every reconciliation pass and replaced wholesale; they are never mutated
// in place or persisted verbatim.
type PoolAccount struct {
	Scope          *PoolScope       `json:"scope"`
	Chain          *CommitmentChain `json:"chain"`
	LastCommitment *Commitment      `json:"last_commitment"`
	Balance        *big.Int         `json:"balance"` // value of the last commitment, 0 after ragequit
	// SequenceNumber is a 1-based label unique within a scope, assigned in
	// discovery order. It is stable across passes only while the resolver
	// returns chains in a stable order; callers must not rely on it
	// surviving a reorder of the underlying source data.
	SequenceNumber int            `json:"sequence_number"`
	ReviewStatus   ReviewStatus   `json:"review_status"`
	Ragequit       *RagequitEvent `json:"ragequit,omitempty"`
}

// CompositeKey returns the "<chainId>-<scopeHash>" grouping key of the
// account's scope.
func (a *PoolAccount) CompositeKey() string {
	return a.Scope.CompositeKey()
}

// MalformedChainError reports a data-integrity failure scoped to a single
// commitment chain: a child whose value exceeds its parent, or a negative
// value. Sibling chains still reconcile.
type MalformedChainError struct {
	Scope      common.Hash
	ChainIndex int
	Reason     string
}

func (e *MalformedChainError) Error() string {
	return fmt.Sprintf("malformed commitment chain %d in scope %s: %s", e.ChainIndex, e.Scope.Hex(), e.Reason)
}

// ReconcileResult is the output of one reconciliation pass: the account list
// filtered to the requested chain, the full set grouped by composite key for
// cross-chain display, and the per-chain integrity errors.
type ReconcileResult struct {
	ChainID              uint64                    `json:"chain_id"`
	AccountsForChain     []*PoolAccount            `json:"accounts"`
	AccountsByChainScope map[string][]*PoolAccount `json:"accounts_by_scope"`
	ChainErrors          []*MalformedChainError    `json:"-"`
}
