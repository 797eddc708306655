package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"pool-backend/internal/interfaces"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

var testAccount = common.HexToAddress("0x742d35Cc6634C0532925a3b0F26750C66d78EB66")

// fakeSigningSession mirrors the production session's locking discipline:
// hooks fire outside the lock, estimates set gas parameters in place.
type fakeSigningSession struct {
	mu          sync.Mutex
	id          string
	op          *types.ChainOperation
	estimating  bool
	estimates   int
	resets      int
	signed      bool
	estimateErr error
	updateErr   error
	updateHooks map[string]func(*types.ChainOperation)
	errorHooks  map[string]func(error)
	nextSub     int
}

func newFakeSigningSession(op *types.ChainOperation) *fakeSigningSession {
	return &fakeSigningSession{
		id:          fmt.Sprintf("session-%d", time.Now().UnixNano()),
		op:          op,
		updateHooks: make(map[string]func(*types.ChainOperation)),
		errorHooks:  make(map[string]func(error)),
	}
}

func (s *fakeSigningSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *fakeSigningSession) Operation() *types.ChainOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.op
}

func (s *fakeSigningSession) Estimate(_ context.Context) error {
	s.mu.Lock()
	s.estimates++
	if s.estimateErr != nil {
		err := s.estimateErr
		hooks := make([]func(error), 0, len(s.errorHooks))
		for _, fn := range s.errorHooks {
			hooks = append(hooks, fn)
		}
		s.mu.Unlock()
		for _, fn := range hooks {
			fn(err)
		}
		return err
	}
	s.op.GasLimit = 42000
	s.op.GasPrice = big.NewInt(2_000_000_000)
	op := s.op
	hooks := make([]func(*types.ChainOperation), 0, len(s.updateHooks))
	for _, fn := range s.updateHooks {
		hooks = append(hooks, fn)
	}
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(op)
	}
	return nil
}

func (s *fakeSigningSession) IsEstimating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimating
}

func (s *fakeSigningSession) Update(calls []types.PoolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.op.MergeCalls(calls)
	s.op.GasLimit = 0
	s.op.GasPrice = nil
	return nil
}

func (s *fakeSigningSession) AttachSignature(signature []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(signature) == 0 {
		return fmt.Errorf("empty signature")
	}
	if s.op.GasLimit == 0 {
		return fmt.Errorf("no estimate to sign")
	}
	if s.signed {
		return fmt.Errorf("already signed")
	}
	s.signed = true
	return nil
}

func (s *fakeSigningSession) Signed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signed
}

func (s *fakeSigningSession) OnUpdate(fn func(*types.ChainOperation)) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := fmt.Sprintf("sub-%d", s.nextSub)
	s.updateHooks[id] = fn
	return id
}

func (s *fakeSigningSession) OnError(fn func(error)) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := fmt.Sprintf("sub-%d", s.nextSub)
	s.errorHooks[id] = fn
	return id
}

func (s *fakeSigningSession) Detach(subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.updateHooks, subscriptionID)
	delete(s.errorHooks, subscriptionID)
}

func (s *fakeSigningSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.signed = false
	s.op.GasLimit = 0
	s.op.GasPrice = nil
	s.updateHooks = make(map[string]func(*types.ChainOperation))
	s.errorHooks = make(map[string]func(error))
}

func (s *fakeSigningSession) estimateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimates
}

func (s *fakeSigningSession) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func (s *fakeSigningSession) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.op.Calls)
}

func (s *fakeSigningSession) hookCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updateHooks) + len(s.errorHooks)
}

type fakeSessionFactory struct {
	mu       sync.Mutex
	err      error
	sessions []*fakeSigningSession
}

func (f *fakeSessionFactory) NewSession(_ context.Context, _ common.Address, _ *utils.PoolDeployment, op *types.ChainOperation, _ interfaces.PaymasterResolver) (interfaces.SigningSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := newFakeSigningSession(op)
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeSessionFactory) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeSessionFactory) session(i int) *fakeSigningSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

type fakeAccountState struct {
	err   error
	nonce uint64
}

func (f *fakeAccountState) GetAccountState(_ context.Context, address common.Address, chainID uint64) (*types.AccountState, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.AccountState{
		Address: address,
		ChainID: chainID,
		Nonce:   f.nonce,
		Balance: big.NewInt(1_000_000_000_000_000_000),
	}, nil
}

func poolCall(chainID uint64, value int64) types.PoolCall {
	return types.PoolCall{
		ChainID: chainID,
		To:      common.HexToAddress("0x6818809EefCe719E480a7526D76bD3e561526b46"),
		Value:   big.NewInt(value),
		Data:    []byte{0x01, 0x02},
	}
}

func newTestOrchestrator(factory *fakeSessionFactory, accounts *fakeAccountState, interval time.Duration) *TransactionOrchestrator {
	return NewTransactionOrchestrator(testAccount, utils.GlobalChainRegistry, accounts, nil, factory, interval, testLogger())
}

func waitForState(t *testing.T, o *TransactionOrchestrator, want types.OrchestratorState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return o.State() == want
	}, 2*time.Second, 5*time.Millisecond, "state never reached %s", want)
}

func TestSyncOperationEmptyBatchIsNoOp(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{nonce: 7}, time.Hour)

	o.SyncOperation(context.Background(), nil)
	require.Equal(t, types.OrchestratorIdle, o.State())
	require.False(t, o.SessionActive())
	require.Zero(t, factory.sessionCount())
}

func TestSyncOperationUninitializedIsNoOp(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := NewTransactionOrchestrator(common.Address{}, utils.GlobalChainRegistry, &fakeAccountState{}, nil, factory, time.Hour, testLogger())
	require.Equal(t, types.OrchestratorUninitialized, o.State())

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10)})
	require.Equal(t, types.OrchestratorUninitialized, o.State())
	require.Zero(t, factory.sessionCount())

	// Teardown never promotes an uninitialized orchestrator to idle.
	o.Teardown()
	require.Equal(t, types.OrchestratorUninitialized, o.State())
}

func TestSyncOperationBuildsSessionAndEstimates(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{nonce: 7}, time.Hour)
	defer o.Teardown()

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10)})
	require.True(t, o.SessionActive())
	require.Equal(t, 1, factory.sessionCount())

	waitForState(t, o, types.OrchestratorReady)

	snap := o.Snapshot()
	require.Equal(t, uint64(1), snap.ChainID)
	require.Equal(t, 1, snap.CallCount)
	require.Equal(t, uint64(7), snap.Nonce)
	require.Equal(t, uint64(42000), snap.GasLimit)
	require.Equal(t, "2000000000", snap.GasPrice)
	require.Empty(t, snap.LastError)
	require.NotEmpty(t, snap.SessionID)
}

func TestSyncOperationMergesIntoOpenSession(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{}, time.Hour)
	defer o.Teardown()

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10)})
	waitForState(t, o, types.OrchestratorReady)

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 20), poolCall(1, 30)})
	waitForState(t, o, types.OrchestratorReady)

	// One session for the whole exchange; the batch grew in place.
	require.Equal(t, 1, factory.sessionCount())
	require.Equal(t, 3, factory.session(0).callCount())
}

func TestSyncOperationConcurrentCallsShareOneSession(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{}, time.Hour)
	defer o.Teardown()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, n)})
		}(int64(i + 1))
	}
	wg.Wait()

	require.Equal(t, 1, factory.sessionCount())
	require.Equal(t, 4, factory.session(0).callCount())
}

func TestSyncOperationRejectsMixedChains(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{}, time.Hour)

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10), poolCall(100, 20)})
	require.Contains(t, o.LastError(), "multiple chains")
	require.False(t, o.SessionActive())

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(0, 10)})
	require.Contains(t, o.LastError(), "no chain id")
	require.Zero(t, factory.sessionCount())
}

func TestSyncOperationUnknownChainIsSilent(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{}, time.Hour)

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(424242, 10)})
	require.Equal(t, types.OrchestratorIdle, o.State())
	require.Empty(t, o.LastError())
	require.Zero(t, factory.sessionCount())
}

func TestSyncOperationAccountStateFailure(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{err: fmt.Errorf("rpc down")}, time.Hour)

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10)})
	require.Equal(t, types.OrchestratorIdle, o.State())
	require.Contains(t, o.LastError(), "account state unavailable")
	require.Zero(t, factory.sessionCount())
}

func TestSyncOperationFactoryFailure(t *testing.T) {
	factory := &fakeSessionFactory{err: fmt.Errorf("no client")}
	o := newTestOrchestrator(factory, &fakeAccountState{}, time.Hour)

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10)})
	require.Equal(t, types.OrchestratorIdle, o.State())
	require.Contains(t, o.LastError(), "session construction failed")
	require.False(t, o.SessionActive())
}

func TestEstimationErrorSurfacesWithoutKillingSession(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{}, time.Hour)
	defer o.Teardown()

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10)})
	require.Equal(t, 1, factory.sessionCount())
	waitForState(t, o, types.OrchestratorReady)

	session := factory.session(0)
	session.mu.Lock()
	session.estimateErr = fmt.Errorf("gas estimation failed")
	session.mu.Unlock()

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 20)})
	require.Eventually(t, func() bool {
		return o.LastError() != ""
	}, 2*time.Second, 5*time.Millisecond)
	require.Contains(t, o.LastError(), "gas estimation failed")

	// The session survives so the caller can retry.
	require.True(t, o.SessionActive())
}

func TestAttachSignature(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{}, time.Hour)
	defer o.Teardown()

	// No session yet: rejected.
	require.False(t, o.AttachSignature([]byte{0xaa}))

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10)})
	waitForState(t, o, types.OrchestratorReady)

	require.True(t, o.AttachSignature([]byte{0xaa, 0xbb}))
	require.Equal(t, types.OrchestratorSigned, o.State())
	require.True(t, factory.session(0).Signed())

	// Double-signing is rejected and surfaces the session's error.
	require.False(t, o.AttachSignature([]byte{0xcc}))
	require.Contains(t, o.LastError(), "already signed")
}

func TestTeardownIsIdempotent(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{}, time.Hour)

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10)})
	waitForState(t, o, types.OrchestratorReady)
	session := factory.session(0)

	o.Teardown()
	require.False(t, o.SessionActive())
	require.Equal(t, types.OrchestratorIdle, o.State())
	require.Equal(t, 1, session.resetCount())
	require.Zero(t, session.hookCount())

	// A second teardown has nothing left to release.
	o.Teardown()
	require.Equal(t, 1, session.resetCount())
	require.Equal(t, types.OrchestratorIdle, o.State())
}

func TestResetFormClearsError(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{}, time.Hour)

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10), poolCall(100, 20)})
	require.NotEmpty(t, o.LastError())

	o.ResetForm()
	require.Empty(t, o.LastError())
	require.Equal(t, types.OrchestratorIdle, o.State())
}

func TestReestimationLoopRunsAndStops(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{}, 15*time.Millisecond)

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10)})
	require.Equal(t, 1, factory.sessionCount())
	session := factory.session(0)

	// The immediate estimate plus at least two loop iterations.
	require.Eventually(t, func() bool {
		return session.estimateCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	o.Teardown()
	time.Sleep(30 * time.Millisecond)
	after := session.estimateCount()
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, after, session.estimateCount())
}

func TestStartLoopTwiceKeepsOneLoop(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{}, 15*time.Millisecond)

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10)})
	require.Equal(t, 1, factory.sessionCount())
	session := factory.session(0)

	o.loopMu.Lock()
	running := o.loopRunning
	stop := o.loopStop
	o.loopMu.Unlock()
	require.True(t, running)

	// Redundant starts must not spawn a second loop.
	o.startLoop()
	o.startLoop()

	o.loopMu.Lock()
	sameLoop := stop == o.loopStop
	o.loopMu.Unlock()
	require.True(t, sameLoop)

	require.Eventually(t, func() bool {
		return session.estimateCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	// One teardown silences everything; a leaked second loop would keep
	// estimating past this point.
	o.Teardown()
	time.Sleep(30 * time.Millisecond)
	after := session.estimateCount()
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, after, session.estimateCount())
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	factory := &fakeSessionFactory{}
	o := newTestOrchestrator(factory, &fakeAccountState{}, time.Hour)
	defer o.Teardown()

	id, ch := o.Subscribe()

	// The current snapshot arrives immediately.
	first := <-ch
	require.Equal(t, types.OrchestratorIdle, first.State)
	require.Equal(t, testAccount.Hex(), first.Account)

	o.SyncOperation(context.Background(), []types.PoolCall{poolCall(1, 10)})

	sawEstimating := false
	deadline := time.After(2 * time.Second)
	for {
		var snap types.OrchestratorSnapshot
		select {
		case snap = <-ch:
		case <-deadline:
			t.Fatal("timed out waiting for ready snapshot")
		}
		if snap.State == types.OrchestratorEstimating {
			sawEstimating = true
		}
		if snap.State == types.OrchestratorReady {
			require.True(t, sawEstimating)
			require.Equal(t, uint64(42000), snap.GasLimit)
			o.Unsubscribe(id)
			// Unsubscribe closes the channel once it drains.
			for {
				if _, ok := <-ch; !ok {
					return
				}
			}
		}
	}
}

func TestUnsubscribeUnknownIDIsNoOp(t *testing.T) {
	o := newTestOrchestrator(&fakeSessionFactory{}, &fakeAccountState{}, time.Hour)
	o.Unsubscribe("not-a-subscription")
}
