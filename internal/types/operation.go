package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolCall is one call inside a chain operation batch. Calls carry the chain
// id they target; a batch must be single-chain.
type PoolCall struct {
	ChainID uint64         `json:"chain_id"`
	To      common.Address `json:"to"`
	Value   *big.Int       `json:"value"` // uint256 - native value forwarded with the call
	Data    []byte         `json:"data"`  // ABI-encoded payload
}

// ChainOperation is a batch of calls to be executed atomically as one
// on-chain transaction. Owned exclusively by one signing session for its
// lifetime; gas parameters stay unset until the first estimation.
type ChainOperation struct {
	ChainID uint64         `json:"chain_id"`
	From    common.Address `json:"from"`
	Calls   []PoolCall     `json:"calls"`
	Nonce   uint64         `json:"nonce"`
	// Gas parameters, zero until estimated.
	GasLimit uint64   `json:"gas_limit"`
	GasPrice *big.Int `json:"gas_price,omitempty"`
	// PreExecutionHook optionally names a hook the executor runs before the
	// batch (e.g. a paymaster sponsorship handle). Empty means none.
	PreExecutionHook string `json:"pre_execution_hook,omitempty"`
}

// MergeCalls appends the given calls to the operation in place. Used when a
// sync arrives while a session already owns the operation: the batch grows,
// it is never replaced.
func (op *ChainOperation) MergeCalls(calls []PoolCall) {
	op.Calls = append(op.Calls, calls...)
}

// TotalValue sums the native value across all calls in the batch.
func (op *ChainOperation) TotalValue() *big.Int {
	total := new(big.Int)
	for _, call := range op.Calls {
		if call.Value != nil {
			total.Add(total, call.Value)
		}
	}
	return total
}

// AccountState is the on-chain state snapshot fetched before building an
// operation.
type AccountState struct {
	Address common.Address `json:"address"`
	ChainID uint64         `json:"chain_id"`
	Nonce   uint64         `json:"nonce"`
	Balance *big.Int       `json:"balance"`
}

// PaymasterConfig describes a sponsorship arrangement attached to an
// operation when one is resolvable for the account.
type PaymasterConfig struct {
	Address common.Address `json:"address"`
	Data    []byte         `json:"data,omitempty"`
}

// OrchestratorState is the transaction orchestrator's lifecycle state.
// All precondition checks happen against this single enum at the API
// boundary rather than per-field nil checks.
type OrchestratorState string

const (
	OrchestratorUninitialized OrchestratorState = "uninitialized" // collaborators not wired yet
	OrchestratorIdle          OrchestratorState = "idle"
	OrchestratorBuilding      OrchestratorState = "building"
	OrchestratorEstimating    OrchestratorState = "estimating"
	OrchestratorReady         OrchestratorState = "ready"
	OrchestratorSigned        OrchestratorState = "signed"
)

// OrchestratorSnapshot is the immutable state view delivered to subscribers
// on every transition. Fields are JSON-friendly so snapshots can be pushed
// over the websocket channel unchanged.
type OrchestratorSnapshot struct {
	State     OrchestratorState `json:"state"`
	SessionID string            `json:"session_id,omitempty"`
	Account   string            `json:"account,omitempty"`
	ChainID   uint64            `json:"chain_id,omitempty"`
	CallCount int               `json:"call_count"`
	Nonce     uint64            `json:"nonce"`
	GasLimit  uint64            `json:"gas_limit"`
	GasPrice  string            `json:"gas_price,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}
