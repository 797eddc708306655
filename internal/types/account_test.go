package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestApprovalSetDecisions(t *testing.T) {
	scopeA := common.HexToHash("0x0a")
	scopeB := common.HexToHash("0x0b")
	c1 := common.HexToHash("0x01")
	c2 := common.HexToHash("0x02")

	set := NewApprovalSet()
	require.Equal(t, ApprovalUnknown, set.Decision(scopeA, c1))

	set.Approve(scopeA, c1)
	set.Decline(scopeA, c2)

	require.Equal(t, ApprovalApproved, set.Decision(scopeA, c1))
	require.Equal(t, ApprovalDeclined, set.Decision(scopeA, c2))

	// Decisions are scoped: the same commitment under another pool is unknown.
	require.Equal(t, ApprovalUnknown, set.Decision(scopeB, c1))
	require.Equal(t, ApprovalUnknown, set.Decision(scopeA, common.HexToHash("0x03")))
}

func TestApprovalSetApprovalWinsOverDecline(t *testing.T) {
	scope := common.HexToHash("0x0a")
	commitment := common.HexToHash("0x01")

	set := NewApprovalSet()
	set.Decline(scope, commitment)
	set.Approve(scope, commitment)
	require.Equal(t, ApprovalApproved, set.Decision(scope, commitment))
}

func TestApprovalSetNilAnswersUnknown(t *testing.T) {
	var set *ApprovalSet
	require.Equal(t, ApprovalUnknown, set.Decision(common.HexToHash("0x0a"), common.HexToHash("0x01")))
}

func TestCompositeScopeKey(t *testing.T) {
	scope := common.HexToHash("0xab")
	require.Equal(t, "1-"+scope.Hex(), CompositeScopeKey(1, scope))

	ps := &PoolScope{ChainID: 100, ScopeHash: scope}
	require.Equal(t, "100-"+scope.Hex(), ps.CompositeKey())
}

func TestCommitmentChainCurrent(t *testing.T) {
	root := &Commitment{Hash: common.HexToHash("0x01")}
	chain := &CommitmentChain{Root: root}
	require.Equal(t, root, chain.Current())
	require.Equal(t, []*Commitment{root}, chain.All())

	child := &Commitment{Hash: common.HexToHash("0x02")}
	chain.Children = append(chain.Children, child)
	require.Equal(t, child, chain.Current())
	require.Equal(t, []*Commitment{root, child}, chain.All())
}
