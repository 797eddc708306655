package interfaces

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

// CommitmentSource fetches the ordered commitment history per pool scope for
// the caller's secret material. A network failure is reported per call; the
// reconciliation layer treats it as "no data for this scope", not fatal.
type CommitmentSource interface {
	GetCommitmentHistory(ctx context.Context, scopes []*utils.PoolDeployment, secret types.SecretMaterial) (map[common.Hash][]*types.CommitmentChain, error)
}

// RagequitSource lists the ragequit exits recorded against a deployment's
// pool. Fallible per deployment; callers fall back to locally persisted
// records.
type RagequitSource interface {
	FetchRagequits(ctx context.Context, deployment *utils.PoolDeployment) ([]types.RagequitEvent, error)
}

// ApprovalSource is the external allow-list service asserting which
// commitments are approved for normal withdrawal eligibility.
type ApprovalSource interface {
	GetApprovalStatus(ctx context.Context, scope, commitmentHash common.Hash) (types.ApprovalDecision, error)
	// GetApprovalSet batches lookups for every terminal commitment of the
	// given scopes. Partial data is fine; missing entries read as unknown.
	GetApprovalSet(ctx context.Context, commitmentsByScope map[common.Hash][]common.Hash) (*types.ApprovalSet, error)
}

// BlockTimeResolver resolves a block number to a wall-clock timestamp.
// Fallible per call; callers tolerate individual failures.
type BlockTimeResolver interface {
	ResolveTimestamp(ctx context.Context, chainID uint64, blockNumber uint64) (time.Time, error)
}

// Prover generates and verifies zero-knowledge proofs through the external
// prover service.
type Prover interface {
	ProveCommitment(ctx context.Context, value *big.Int, label, nullifier, secret common.Hash) (*types.CommitmentProof, error)
	VerifyCommitment(ctx context.Context, proof *types.CommitmentProof) (bool, error)
	ProveWithdrawal(ctx context.Context, preimage types.WithdrawalPreimage, input types.WithdrawalInput) (*types.WithdrawalProof, error)
	VerifyWithdrawal(ctx context.Context, proof *types.WithdrawalProof) (bool, error)
}

// AccountStateProvider fetches current on-chain account state (nonce,
// balance) before an operation is built.
type AccountStateProvider interface {
	GetAccountState(ctx context.Context, address common.Address, chainID uint64) (*types.AccountState, error)
}

// PaymasterResolver answers whether a sponsorship arrangement exists for an
// account on a chain. nil result means the operation pays its own gas.
type PaymasterResolver interface {
	ResolvePaymaster(ctx context.Context, account common.Address, chainID uint64) (*types.PaymasterConfig, error)
}

// SigningSession coordinates gas estimation and signature collection for
// exactly one chain operation. Not re-entrant: at most one active session
// per orchestrator instance.
type SigningSession interface {
	ID() string
	Operation() *types.ChainOperation
	// Estimate runs one gas estimation to completion. Never invoked
	// concurrently for the same session by the orchestrator.
	Estimate(ctx context.Context) error
	IsEstimating() bool
	// Update merges a partial operation (additional calls) in place and
	// invalidates previous estimates.
	Update(calls []types.PoolCall) error
	// OnUpdate/OnError register lifecycle hooks and return a subscription
	// id accepted by Detach.
	OnUpdate(fn func(*types.ChainOperation)) string
	OnError(fn func(error)) string
	// Detach removes a hook; unknown or already-detached ids are no-ops.
	Detach(subscriptionID string)
	// AttachSignature stores the collected signature and marks the session
	// signed.
	AttachSignature(signature []byte) error
	Signed() bool
	// Reset returns the session to a fresh internal state, dropping
	// estimates, hooks and the signature.
	Reset()
}

// SigningSessionFactory constructs signing sessions bound to an operation.
type SigningSessionFactory interface {
	NewSession(ctx context.Context, account common.Address, deployment *utils.PoolDeployment, op *types.ChainOperation, paymaster PaymasterResolver) (SigningSession, error)
}
