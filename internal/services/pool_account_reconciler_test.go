package services

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

// stubBlockTimes resolves block numbers to deterministic timestamps and
// counts lookups so tests can assert what was resolved.
type stubBlockTimes struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubBlockTimes) ResolveTimestamp(_ context.Context, _ uint64, blockNumber uint64) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return time.Time{}, s.err
	}
	return time.Unix(int64(blockNumber)*12, 0).UTC(), nil
}

func (s *stubBlockTimes) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testDeployment(t *testing.T, chainID uint64) *utils.PoolDeployment {
	t.Helper()
	d, ok := utils.GlobalChainRegistry.GetByChainID(chainID)
	require.True(t, ok)
	return d
}

func commitmentAt(hash string, value int64, block uint64) *types.Commitment {
	return &types.Commitment{
		Hash:        common.HexToHash(hash),
		Value:       big.NewInt(value),
		Label:       common.HexToHash("0xa1"),
		BlockNumber: block,
	}
}

func TestReconcileRagequitZeroesBalance(t *testing.T) {
	deployment := testDeployment(t, 1)
	scope := deployment.ScopeHash

	// Deposit 100, partial spend down to 60, then a full exit.
	chain := &types.CommitmentChain{
		Root:     commitmentAt("0x01", 100, 100),
		Children: []*types.Commitment{commitmentAt("0x02", 60, 110)},
	}
	ragequits := map[common.Hash][]*types.RagequitEvent{
		scope: {{
			Scope:          scope,
			Label:          common.HexToHash("0xa1"),
			CommitmentHash: common.HexToHash("0x02"),
			BlockNumber:    120,
		}},
	}

	blockTimes := &stubBlockTimes{}
	r := NewPoolAccountReconciler(utils.GlobalChainRegistry, blockTimes, testLogger())

	result, err := r.Reconcile(context.Background(), 1,
		map[common.Hash][]*types.CommitmentChain{scope: {chain}},
		types.NewApprovalSet(), ragequits)
	require.NoError(t, err)
	require.Len(t, result.AccountsForChain, 1)

	account := result.AccountsForChain[0]
	require.Equal(t, types.ReviewStatusExited, account.ReviewStatus)
	require.Zero(t, account.Balance.Sign())
	require.Equal(t, big.NewInt(60), account.LastCommitment.Value)
	require.NotNil(t, account.Ragequit)
	require.Equal(t, common.HexToHash("0x02"), account.Ragequit.CommitmentHash)

	// Spend history stays intact behind the zeroed balance.
	require.Len(t, account.Chain.All(), 2)
	require.Equal(t, big.NewInt(100), account.Chain.Root.Value)
}

func TestReconcileReviewStatuses(t *testing.T) {
	deployment := testDeployment(t, 1)
	scope := deployment.ScopeHash

	chains := []*types.CommitmentChain{
		{Root: commitmentAt("0x11", 40, 100)},
		{Root: commitmentAt("0x12", 10, 101)},
		{Root: commitmentAt("0x13", 5, 102)},
	}
	approvals := types.NewApprovalSet()
	approvals.Approve(scope, common.HexToHash("0x11"))
	approvals.Decline(scope, common.HexToHash("0x12"))
	// 0x13 has no allow-list data at all.

	r := NewPoolAccountReconciler(utils.GlobalChainRegistry, &stubBlockTimes{}, testLogger())
	result, err := r.Reconcile(context.Background(), 1,
		map[common.Hash][]*types.CommitmentChain{scope: chains}, approvals, nil)
	require.NoError(t, err)
	require.Len(t, result.AccountsForChain, 3)

	byHash := make(map[common.Hash]*types.PoolAccount)
	for _, a := range result.AccountsForChain {
		byHash[a.LastCommitment.Hash] = a
	}
	require.Equal(t, types.ReviewStatusApproved, byHash[common.HexToHash("0x11")].ReviewStatus)
	require.Equal(t, types.ReviewStatusDeclined, byHash[common.HexToHash("0x12")].ReviewStatus)
	require.Equal(t, types.ReviewStatusPending, byHash[common.HexToHash("0x13")].ReviewStatus)

	// Sequence numbers are 1-based in discovery order.
	require.Equal(t, 1, byHash[common.HexToHash("0x11")].SequenceNumber)
	require.Equal(t, 2, byHash[common.HexToHash("0x12")].SequenceNumber)
	require.Equal(t, 3, byHash[common.HexToHash("0x13")].SequenceNumber)
}

func TestResolveReviewStatusPrecedence(t *testing.T) {
	exit := &types.RagequitEvent{CommitmentHash: common.HexToHash("0x01")}
	cases := []struct {
		name string
		in   statusRuleInput
		want types.ReviewStatus
	}{
		{"ragequit beats approval", statusRuleInput{ragequit: exit, decision: types.ApprovalApproved}, types.ReviewStatusExited},
		{"ragequit beats superseded", statusRuleInput{ragequit: exit, superseded: true}, types.ReviewStatusExited},
		{"superseded beats approval", statusRuleInput{superseded: true, decision: types.ApprovalApproved}, types.ReviewStatusSpent},
		{"approved", statusRuleInput{decision: types.ApprovalApproved}, types.ReviewStatusApproved},
		{"declined", statusRuleInput{decision: types.ApprovalDeclined}, types.ReviewStatusDeclined},
		{"unknown falls back to pending", statusRuleInput{decision: types.ApprovalUnknown}, types.ReviewStatusPending},
		{"zero input is pending", statusRuleInput{}, types.ReviewStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, resolveReviewStatus(tc.in))
		})
	}
}

func TestReconcileIsolatesMalformedChains(t *testing.T) {
	deployment := testDeployment(t, 1)
	scope := deployment.ScopeHash

	chains := []*types.CommitmentChain{
		{Root: commitmentAt("0x21", 40, 100)},
		{ // child spends more than the parent held
			Root:     commitmentAt("0x22", 50, 101),
			Children: []*types.Commitment{commitmentAt("0x23", 80, 102)},
		},
		{Root: commitmentAt("0x24", 10, 103)},
	}

	r := NewPoolAccountReconciler(utils.GlobalChainRegistry, &stubBlockTimes{}, testLogger())
	result, err := r.Reconcile(context.Background(), 1,
		map[common.Hash][]*types.CommitmentChain{scope: chains}, nil, nil)
	require.NoError(t, err)

	// Siblings survive; only the malformed chain is dropped.
	require.Len(t, result.AccountsForChain, 2)
	require.Len(t, result.ChainErrors, 1)
	require.Equal(t, scope, result.ChainErrors[0].Scope)
	require.Equal(t, 1, result.ChainErrors[0].ChainIndex)
	require.Contains(t, result.ChainErrors[0].Reason, "exceeds parent")

	// Dropped chains still consume their discovery slot.
	require.Equal(t, 1, result.AccountsForChain[0].SequenceNumber)
	require.Equal(t, 3, result.AccountsForChain[1].SequenceNumber)
}

func TestReconcileRejectsNegativeValues(t *testing.T) {
	deployment := testDeployment(t, 1)
	scope := deployment.ScopeHash

	chains := []*types.CommitmentChain{
		{Root: commitmentAt("0x31", -5, 100)},
		{Root: nil},
	}

	r := NewPoolAccountReconciler(utils.GlobalChainRegistry, &stubBlockTimes{}, testLogger())
	result, err := r.Reconcile(context.Background(), 1,
		map[common.Hash][]*types.CommitmentChain{scope: chains}, nil, nil)
	require.NoError(t, err)
	require.Empty(t, result.AccountsForChain)
	require.Len(t, result.ChainErrors, 2)
	require.Contains(t, result.ChainErrors[0].Reason, "negative value")
	require.Contains(t, result.ChainErrors[1].Reason, "no root deposit")
}

func TestReconcileSkipsUnregisteredScope(t *testing.T) {
	unknown := common.HexToHash("0xbeef")
	chains := map[common.Hash][]*types.CommitmentChain{
		unknown: {{Root: commitmentAt("0x41", 10, 100)}},
	}

	r := NewPoolAccountReconciler(utils.GlobalChainRegistry, &stubBlockTimes{}, testLogger())
	result, err := r.Reconcile(context.Background(), 1, chains, nil, nil)
	require.NoError(t, err)
	require.Empty(t, result.AccountsForChain)
	require.Empty(t, result.AccountsByChainScope)
	require.Empty(t, result.ChainErrors)
}

func TestReconcileGroupsByCompositeKey(t *testing.T) {
	eth := testDeployment(t, 1)
	gnosis := testDeployment(t, 100)

	chains := map[common.Hash][]*types.CommitmentChain{
		eth.ScopeHash:    {{Root: commitmentAt("0x51", 40, 100)}},
		gnosis.ScopeHash: {{Root: commitmentAt("0x52", 7, 200)}},
	}

	r := NewPoolAccountReconciler(utils.GlobalChainRegistry, &stubBlockTimes{}, testLogger())
	result, err := r.Reconcile(context.Background(), 1, chains, nil, nil)
	require.NoError(t, err)

	// The chain filter applies only to AccountsForChain; the grouped view
	// always carries every scope.
	require.Len(t, result.AccountsForChain, 1)
	require.Equal(t, uint64(1), result.AccountsForChain[0].Scope.ChainID)

	require.Len(t, result.AccountsByChainScope, 2)
	ethKey := fmt.Sprintf("1-%s", eth.ScopeHash.Hex())
	gnosisKey := fmt.Sprintf("100-%s", gnosis.ScopeHash.Hex())
	require.Len(t, result.AccountsByChainScope[ethKey], 1)
	require.Len(t, result.AccountsByChainScope[gnosisKey], 1)
	require.Equal(t, ethKey, result.AccountsForChain[0].CompositeKey())
}

func TestReconcileResolvesTimestamps(t *testing.T) {
	deployment := testDeployment(t, 1)
	scope := deployment.ScopeHash

	resolved := time.Unix(999, 0).UTC()
	chain := &types.CommitmentChain{
		Root: commitmentAt("0x61", 100, 100),
		Children: []*types.Commitment{
			{Hash: common.HexToHash("0x62"), Value: big.NewInt(60), BlockNumber: 110, Timestamp: &resolved},
		},
	}
	ragequits := map[common.Hash][]*types.RagequitEvent{
		scope: {{Scope: scope, CommitmentHash: common.HexToHash("0x62"), BlockNumber: 120}},
	}

	blockTimes := &stubBlockTimes{}
	r := NewPoolAccountReconciler(utils.GlobalChainRegistry, blockTimes, testLogger())
	result, err := r.Reconcile(context.Background(), 1,
		map[common.Hash][]*types.CommitmentChain{scope: {chain}}, nil, ragequits)
	require.NoError(t, err)
	require.Len(t, result.AccountsForChain, 1)

	account := result.AccountsForChain[0]
	all := account.Chain.All()
	require.NotNil(t, all[0].Timestamp)
	require.Equal(t, time.Unix(100*12, 0).UTC(), *all[0].Timestamp)
	// Pre-resolved timestamps are kept, not recomputed.
	require.Equal(t, resolved, *all[1].Timestamp)
	require.NotNil(t, account.Ragequit.Timestamp)
	require.Equal(t, time.Unix(120*12, 0).UTC(), *account.Ragequit.Timestamp)

	// One lookup for the root, one for the ragequit.
	require.Equal(t, 2, blockTimes.callCount())

	// The caller's input chain is never mutated.
	require.Nil(t, chain.Root.Timestamp)
}

func TestReconcileToleratesTimestampFailures(t *testing.T) {
	deployment := testDeployment(t, 1)
	scope := deployment.ScopeHash

	chain := &types.CommitmentChain{Root: commitmentAt("0x71", 100, 100)}
	blockTimes := &stubBlockTimes{err: fmt.Errorf("rpc unavailable")}
	r := NewPoolAccountReconciler(utils.GlobalChainRegistry, blockTimes, testLogger())

	result, err := r.Reconcile(context.Background(), 1,
		map[common.Hash][]*types.CommitmentChain{scope: {chain}}, nil, nil)
	require.NoError(t, err)
	require.Len(t, result.AccountsForChain, 1)

	// Failed resolution leaves the unresolved marker in place.
	require.Nil(t, result.AccountsForChain[0].LastCommitment.Timestamp)
}

func TestReconcileIsRepeatable(t *testing.T) {
	deployment := testDeployment(t, 1)
	scope := deployment.ScopeHash

	chains := map[common.Hash][]*types.CommitmentChain{
		scope: {
			{
				Root:     commitmentAt("0x81", 100, 100),
				Children: []*types.Commitment{commitmentAt("0x82", 60, 110)},
			},
			{Root: commitmentAt("0x83", 40, 105)},
		},
	}
	approvals := types.NewApprovalSet()
	approvals.Approve(scope, common.HexToHash("0x82"))

	r := NewPoolAccountReconciler(utils.GlobalChainRegistry, &stubBlockTimes{}, testLogger())

	first, err := r.Reconcile(context.Background(), 1, chains, approvals, nil)
	require.NoError(t, err)
	second, err := r.Reconcile(context.Background(), 1, chains, approvals, nil)
	require.NoError(t, err)

	// Identical inputs reconcile to structurally equal outputs.
	require.Equal(t, first, second)
}

func TestReconcileReportsContextCancellation(t *testing.T) {
	deployment := testDeployment(t, 1)
	scope := deployment.ScopeHash

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewPoolAccountReconciler(utils.GlobalChainRegistry, &stubBlockTimes{}, testLogger())
	result, err := r.Reconcile(ctx, 1,
		map[common.Hash][]*types.CommitmentChain{scope: {{Root: commitmentAt("0x91", 10, 100)}}}, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
	// The partial result is still returned for callers that want it.
	require.NotNil(t, result)
	require.Len(t, result.AccountsForChain, 1)
}
