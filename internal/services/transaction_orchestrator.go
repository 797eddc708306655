package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/interfaces"
	"pool-backend/internal/metrics"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

const (
	// defaultReestimateInterval is how long the background loop waits
	// between gas re-estimations while a session is open.
	defaultReestimateInterval = 30 * time.Second

	// estimationTimeout bounds one estimation round-trip.
	estimationTimeout = 25 * time.Second

	// snapshotBuffer is the per-subscriber channel depth; slow consumers
	// drop intermediate snapshots rather than block a transition.
	snapshotBuffer = 16
)

// TransactionOrchestrator drives the signing lifecycle for one account on
// behalf of the API layer: it builds a chain operation from privacy-pool
// calls, owns exactly one signing session at a time, and keeps the session's
// gas estimate fresh through a cancellable background loop.
//
// Every state transition publishes an immutable snapshot to subscribers;
// nothing is exposed as a mutable field. Errors after a session exists are
// delivered the same way, never returned across this boundary.
type TransactionOrchestrator struct {
	account   common.Address
	registry  *utils.ChainRegistry
	accounts  interfaces.AccountStateProvider
	paymaster interfaces.PaymasterResolver
	factory   interfaces.SigningSessionFactory
	interval  time.Duration
	logger    *logrus.Logger

	// mu guards the session reference and the whole build path, so a
	// second SyncOperation arriving mid-build waits for the first instead
	// of racing to create a second session.
	mu          sync.Mutex
	state       types.OrchestratorState
	session     interfaces.SigningSession
	lastErr     string
	updateSubID string
	errorSubID  string

	loopMu      sync.Mutex
	loopStop    chan struct{}
	loopRunning bool
	loopWG      sync.WaitGroup

	subMu       sync.RWMutex
	subscribers map[string]chan types.OrchestratorSnapshot
}

// NewTransactionOrchestrator creates an orchestrator for one account. A zero
// interval selects the 30s default. Missing collaborators leave the
// orchestrator in the uninitialized state, where every operation is a silent
// no-op until a properly wired instance replaces it.
func NewTransactionOrchestrator(
	account common.Address,
	registry *utils.ChainRegistry,
	accounts interfaces.AccountStateProvider,
	paymaster interfaces.PaymasterResolver,
	factory interfaces.SigningSessionFactory,
	interval time.Duration,
	logger *logrus.Logger,
) *TransactionOrchestrator {
	if interval <= 0 {
		interval = defaultReestimateInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	state := types.OrchestratorIdle
	if registry == nil || accounts == nil || factory == nil || account == (common.Address{}) {
		state = types.OrchestratorUninitialized
	}
	return &TransactionOrchestrator{
		account:     account,
		registry:    registry,
		accounts:    accounts,
		paymaster:   paymaster,
		factory:     factory,
		interval:    interval,
		logger:      logger,
		state:       state,
		subscribers: make(map[string]chan types.OrchestratorSnapshot),
	}
}

// SyncOperation folds a batch of calls into the orchestrator. With no open
// session it builds a fresh operation, fetches on-chain account state, and
// creates the session; with an open session the calls merge into the owned
// operation in place and a re-estimation is triggered.
//
// An empty batch is a no-op. Unresolvable preconditions (uninitialized
// orchestrator, unknown target network) are silent no-ops: the caller is
// expected to retry once warm-up completes.
func (o *TransactionOrchestrator) SyncOperation(ctx context.Context, calls []types.PoolCall) {
	if len(calls) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == types.OrchestratorUninitialized {
		return
	}

	if o.session != nil {
		if err := o.session.Update(calls); err != nil {
			o.lastErr = err.Error()
			o.publishLocked()
			return
		}
		o.state = types.OrchestratorEstimating
		o.publishLocked()
		go o.estimateOnce(o.session)
		return
	}

	chainID, err := deriveChainID(calls)
	if err != nil {
		o.lastErr = err.Error()
		o.publishLocked()
		return
	}
	deployment, ok := o.registry.GetByChainID(chainID)
	if !ok {
		// Target network not resolvable yet: routine during warm-up.
		return
	}

	o.state = types.OrchestratorBuilding
	o.publishLocked()

	accountState, err := o.accounts.GetAccountState(ctx, o.account, chainID)
	if err != nil {
		o.state = types.OrchestratorIdle
		o.lastErr = fmt.Sprintf("account state unavailable: %v", err)
		o.publishLocked()
		return
	}

	op := &types.ChainOperation{
		ChainID: chainID,
		From:    o.account,
		Calls:   calls,
		Nonce:   accountState.Nonce,
	}
	session, err := o.factory.NewSession(ctx, o.account, deployment, op, o.paymaster)
	if err != nil {
		o.state = types.OrchestratorIdle
		o.lastErr = fmt.Sprintf("session construction failed: %v", err)
		o.publishLocked()
		return
	}

	o.session = session
	o.updateSubID = session.OnUpdate(o.onSessionUpdate)
	o.errorSubID = session.OnError(o.onSessionError)
	o.state = types.OrchestratorEstimating
	o.lastErr = ""
	metrics.ActiveSigningSessions.Inc()
	o.publishLocked()

	go o.estimateOnce(session)
	o.startLoop()
}

// deriveChainID extracts the single chain id a batch targets.
func deriveChainID(calls []types.PoolCall) (uint64, error) {
	chainID := calls[0].ChainID
	if chainID == 0 {
		return 0, fmt.Errorf("calls carry no chain id")
	}
	for _, call := range calls[1:] {
		if call.ChainID != chainID {
			return 0, fmt.Errorf("calls target multiple chains: %d and %d", chainID, call.ChainID)
		}
	}
	return chainID, nil
}

// Teardown detaches the session hooks exactly once, cancels the
// re-estimation loop, resets and releases the session, and returns the
// orchestrator to idle. Safe to call any number of times, with or without an
// open session.
func (o *TransactionOrchestrator) Teardown() {
	o.stopLoop()

	o.mu.Lock()
	if o.session != nil {
		if o.updateSubID != "" {
			o.session.Detach(o.updateSubID)
			o.updateSubID = ""
		}
		if o.errorSubID != "" {
			o.session.Detach(o.errorSubID)
			o.errorSubID = ""
		}
		o.session.Reset()
		o.session = nil
		metrics.ActiveSigningSessions.Dec()
	}
	if o.state != types.OrchestratorUninitialized {
		o.state = types.OrchestratorIdle
	}
	o.publishLocked()
	o.mu.Unlock()
}

// ResetForm is teardown plus a clean slate for the caller-visible error.
func (o *TransactionOrchestrator) ResetForm() {
	o.Teardown()

	o.mu.Lock()
	o.lastErr = ""
	o.publishLocked()
	o.mu.Unlock()
}

// AttachSignature stores the signature the user's wallet produced for the
// estimated operation. It reports acceptance; with no open session it is a
// silent no-op returning false.
func (o *TransactionOrchestrator) AttachSignature(signature []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return false
	}
	if err := o.session.AttachSignature(signature); err != nil {
		o.lastErr = err.Error()
		o.publishLocked()
		return false
	}
	o.state = types.OrchestratorSigned
	o.lastErr = ""
	o.publishLocked()
	return true
}

// estimateOnce runs a single estimation round against the session, skipping
// when one is already in flight. Outcomes propagate through the session's
// update/error hooks.
func (o *TransactionOrchestrator) estimateOnce(session interfaces.SigningSession) {
	if session.IsEstimating() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), estimationTimeout)
	defer cancel()

	op := session.Operation()
	chainLabel := fmt.Sprintf("%d", op.ChainID)
	if err := session.Estimate(ctx); err != nil {
		metrics.EstimationRuns.WithLabelValues(chainLabel, "error").Inc()
		return
	}
	metrics.EstimationRuns.WithLabelValues(chainLabel, "success").Inc()
}

// startLoop launches the background re-estimation loop. Starting it while
// one is already running is a no-op; at most one loop exists per
// orchestrator instance.
func (o *TransactionOrchestrator) startLoop() {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.loopRunning {
		return
	}
	o.loopRunning = true
	o.loopStop = make(chan struct{})
	o.loopWG.Add(1)
	go o.reestimationLoop(o.loopStop)
}

// stopLoop requests cooperative cancellation. An estimation already in
// flight finishes; no further iteration starts.
func (o *TransactionOrchestrator) stopLoop() {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if !o.loopRunning {
		return
	}
	close(o.loopStop)
	o.loopRunning = false
}

// reestimationLoop waits the configured interval, checks cancellation, and
// triggers one estimation at a time until torn down. Estimation errors are
// reported through the session's error hook and never stop the loop.
func (o *TransactionOrchestrator) reestimationLoop(stop <-chan struct{}) {
	defer o.loopWG.Done()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Cancellation wins over a tick that raced with teardown.
			select {
			case <-stop:
				return
			default:
			}

			o.mu.Lock()
			session := o.session
			o.mu.Unlock()
			if session == nil {
				continue
			}
			if session.IsEstimating() {
				continue
			}
			o.estimateOnce(session)
		}
	}
}

// onSessionUpdate receives the session's post-estimation notification.
func (o *TransactionOrchestrator) onSessionUpdate(op *types.ChainOperation) {
	o.mu.Lock()
	if o.session != nil {
		o.state = types.OrchestratorReady
		o.lastErr = ""
	}
	o.publishLocked()
	o.mu.Unlock()
}

// onSessionError surfaces estimation/signing errors to subscribers. The
// session stays alive so the user can retry without losing the built
// operation.
func (o *TransactionOrchestrator) onSessionError(err error) {
	o.mu.Lock()
	o.lastErr = err.Error()
	o.publishLocked()
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"account": o.account.Hex(),
	}).WithError(err).Warn("signing session reported an error")
}

// Subscribe registers a snapshot channel and returns its id together with
// the channel. The current snapshot is delivered immediately.
func (o *TransactionOrchestrator) Subscribe() (string, <-chan types.OrchestratorSnapshot) {
	ch := make(chan types.OrchestratorSnapshot, snapshotBuffer)
	id := uuid.New().String()

	o.subMu.Lock()
	o.subscribers[id] = ch
	o.subMu.Unlock()

	ch <- o.Snapshot()
	return id, ch
}

// Unsubscribe removes a snapshot channel. Unknown ids are no-ops.
func (o *TransactionOrchestrator) Unsubscribe(id string) {
	o.subMu.Lock()
	if ch, ok := o.subscribers[id]; ok {
		delete(o.subscribers, id)
		close(ch)
	}
	o.subMu.Unlock()
}

// Snapshot returns the current immutable state view.
func (o *TransactionOrchestrator) Snapshot() types.OrchestratorSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// State returns the current lifecycle state.
func (o *TransactionOrchestrator) State() types.OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SessionActive reports whether a signing session is currently owned.
func (o *TransactionOrchestrator) SessionActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil
}

// LastError returns the most recent error surfaced to subscribers, empty
// when none.
func (o *TransactionOrchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

func (o *TransactionOrchestrator) snapshotLocked() types.OrchestratorSnapshot {
	snap := types.OrchestratorSnapshot{
		State:     o.state,
		Account:   o.account.Hex(),
		LastError: o.lastErr,
		UpdatedAt: time.Now().UTC(),
	}
	if o.session != nil {
		snap.SessionID = o.session.ID()
		if op := o.session.Operation(); op != nil {
			snap.ChainID = op.ChainID
			snap.CallCount = len(op.Calls)
			snap.Nonce = op.Nonce
			snap.GasLimit = op.GasLimit
			if op.GasPrice != nil {
				snap.GasPrice = op.GasPrice.String()
			}
		}
	}
	return snap
}

// publishLocked broadcasts the current snapshot without blocking on slow
// subscribers. Callers hold o.mu.
func (o *TransactionOrchestrator) publishLocked() {
	snap := o.snapshotLocked()
	o.subMu.RLock()
	for _, ch := range o.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
	o.subMu.RUnlock()
}
