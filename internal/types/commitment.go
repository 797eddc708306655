// Package types provides the domain type definitions shared across the backend.
package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolScope identifies one privacy pool deployment on one chain.
// Immutable once loaded from the registry.
type PoolScope struct {
	ChainID         uint64         `json:"chain_id"`
	PoolAddress     common.Address `json:"pool_address"`
	DeploymentBlock uint64         `json:"deployment_block"`
	ScopeHash       common.Hash    `json:"scope_hash"` // bytes32 - keccak over (chainId, poolAddress)
}

// CompositeKey returns the cross-chain grouping key "<chainId>-<scopeHash>".
func (s *PoolScope) CompositeKey() string {
	return CompositeScopeKey(s.ChainID, s.ScopeHash)
}

// CompositeScopeKey builds the "<chainId>-<scopeHash>" grouping key used for
// cross-chain aggregate views.
func CompositeScopeKey(chainID uint64, scope common.Hash) string {
	return fmt.Sprintf("%d-%s", chainID, scope.Hex())
}

// SecretMaterial is the caller-supplied viewing material the indexer needs to
// locate an account's commitments. It never leaves the request path and is
// never persisted.
type SecretMaterial struct {
	ViewingKey common.Hash `json:"viewing_key"` // bytes32
}

// Commitment is one node in a spend chain: a cryptographic binding of a value,
// owner secret, and nullifier. Immutable once created; only chain membership
// can grow by appending a new child.
type Commitment struct {
	Hash        common.Hash `json:"hash"`      // bytes32 - content hash, see utils.ComputeCommitmentHash
	Value       *big.Int    `json:"value"`     // uint256 - shielded value bound by this commitment
	Label       common.Hash `json:"label"`     // bytes32 - stable label shared by a deposit and its spends
	Nullifier   common.Hash `json:"nullifier"` // bytes32
	Secret      common.Hash `json:"secret"`    // bytes32
	BlockNumber uint64      `json:"block_number"`
	// Timestamp is resolved from BlockNumber during reconciliation.
	// nil means resolution failed or has not run yet (unresolved sentinel).
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// CommitmentChain is one independent spend history inside a scope:
// a root deposit followed by ordered children, each spending the previous.
type CommitmentChain struct {
	Root     *Commitment   `json:"root"`
	Children []*Commitment `json:"children,omitempty"`
}

// Current returns the chain's terminal commitment: the last child, or the
// root deposit when no child exists.
func (c *CommitmentChain) Current() *Commitment {
	if n := len(c.Children); n > 0 {
		return c.Children[n-1]
	}
	return c.Root
}

// All returns the full ordered history, root first.
func (c *CommitmentChain) All() []*Commitment {
	out := make([]*Commitment, 0, 1+len(c.Children))
	if c.Root != nil {
		out = append(out, c.Root)
	}
	out = append(out, c.Children...)
	return out
}

// RagequitEvent marks a full exit outside the normal withdrawal path,
// recorded against the chain's final commitment. At most one per chain;
// once present the chain is terminal.
type RagequitEvent struct {
	Scope          common.Hash `json:"scope"`
	Label          common.Hash `json:"label"`           // deposit label of the exiting chain
	CommitmentHash common.Hash `json:"commitment_hash"` // final commitment the exit was recorded against
	BlockNumber    uint64      `json:"block_number"`
	Timestamp      *time.Time  `json:"timestamp,omitempty"`
	TxHash         common.Hash `json:"tx_hash"`
}
