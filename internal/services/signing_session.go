package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/clients"
	"pool-backend/internal/interfaces"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

// EVMSigningSession coordinates gas estimation and signature collection for
// exactly one chain operation. The owning orchestrator is the only writer;
// external callers go through the orchestrator, never mutate the session
// directly.
type EVMSigningSession struct {
	id         string
	account    common.Address
	deployment *utils.PoolDeployment
	pool       *ChainClientPool
	gasOracle  *clients.GasPriceClient
	logger     *logrus.Logger

	mu          sync.Mutex
	op          *types.ChainOperation
	estimating  bool
	signed      bool
	signature   []byte
	updateHooks map[string]func(*types.ChainOperation)
	errorHooks  map[string]func(error)
}

// ID returns the session's unique id.
func (s *EVMSigningSession) ID() string { return s.id }

// Operation returns the operation owned by this session.
func (s *EVMSigningSession) Operation() *types.ChainOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.op
}

// IsEstimating reports whether an estimation is currently in flight.
func (s *EVMSigningSession) IsEstimating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimating
}

// Signed reports whether a signature has been attached.
func (s *EVMSigningSession) Signed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signed
}

// Estimate runs one gas estimation to completion: per-call gas via the node,
// price from the external tracker with the node's suggestion (+20%) as
// fallback, and a 2x headroom on the summed limit. A call arriving while an
// estimation is already in flight returns immediately without starting a
// second one.
func (s *EVMSigningSession) Estimate(ctx context.Context) error {
	s.mu.Lock()
	if s.estimating {
		s.mu.Unlock()
		return nil
	}
	s.estimating = true
	op := s.op
	s.mu.Unlock()

	gasLimit, gasPrice, err := s.estimateOperation(ctx, op)

	s.mu.Lock()
	s.estimating = false
	if err == nil {
		s.op.GasLimit = gasLimit
		s.op.GasPrice = gasPrice
		// New estimates invalidate a previously collected signature.
		s.signed = false
		s.signature = nil
	}
	s.mu.Unlock()

	if err != nil {
		s.notifyError(err)
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"account":    s.account.Hex(),
		"chain_id":   s.deployment.ChainID,
		"gas_limit":  gasLimit,
		"gas_price":  gasPrice.String(),
	}).Debug("estimation complete")
	s.notifyUpdate()
	return nil
}

func (s *EVMSigningSession) estimateOperation(ctx context.Context, op *types.ChainOperation) (uint64, *big.Int, error) {
	client, err := s.pool.GetClient(op.ChainID)
	if err != nil {
		return 0, nil, fmt.Errorf("no client for chain %d: %w", op.ChainID, err)
	}

	var totalGas uint64
	for i, call := range op.Calls {
		msg := ethereum.CallMsg{
			From:  op.From,
			To:    &call.To,
			Value: call.Value,
			Data:  call.Data,
		}
		gas, err := client.EstimateGas(ctx, msg)
		if err != nil {
			return 0, nil, fmt.Errorf("gas estimation failed for call %d: %w", i, err)
		}
		totalGas += gas
	}

	gasPrice, err := s.gasOracle.GetGasPrice(ctx, op.ChainID)
	if err != nil || gasPrice == nil {
		suggested, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("gas price suggestion failed: %w", err)
		}
		// +20% over the node suggestion so the operation is not underpriced
		// by the time the user signs.
		gasPrice = new(big.Int).Div(new(big.Int).Mul(suggested, big.NewInt(120)), big.NewInt(100))
	}

	return totalGas * 2, gasPrice, nil
}

// Update merges additional calls into the owned operation in place and drops
// previous estimates.
func (s *EVMSigningSession) Update(calls []types.PoolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signed {
		return fmt.Errorf("session %s already signed, reset before updating", s.id)
	}
	s.op.MergeCalls(calls)
	s.op.GasLimit = 0
	s.op.GasPrice = nil
	return nil
}

// AttachSignature stores the signature collected for the estimated operation.
func (s *EVMSigningSession) AttachSignature(signature []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(signature) == 0 {
		return fmt.Errorf("empty signature")
	}
	if s.op.GasLimit == 0 {
		return fmt.Errorf("session %s has no estimate to sign", s.id)
	}
	if s.signed {
		return fmt.Errorf("session %s already signed", s.id)
	}
	s.signature = append([]byte(nil), signature...)
	s.signed = true
	return nil
}

// OnUpdate registers an operation-update hook and returns its subscription id.
func (s *EVMSigningSession) OnUpdate(fn func(*types.ChainOperation)) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.updateHooks[id] = fn
	return id
}

// OnError registers an error hook and returns its subscription id.
func (s *EVMSigningSession) OnError(fn func(error)) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.errorHooks[id] = fn
	return id
}

// Detach removes a hook. Unknown or already-detached ids are no-ops.
func (s *EVMSigningSession) Detach(subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.updateHooks, subscriptionID)
	delete(s.errorHooks, subscriptionID)
}

// Reset returns the session to a fresh internal state: estimates, hooks and
// any collected signature are dropped. The operation's call list survives so
// a subsequent session rebuild can reuse it if needed.
func (s *EVMSigningSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimating = false
	s.signed = false
	s.signature = nil
	s.op.GasLimit = 0
	s.op.GasPrice = nil
	s.updateHooks = make(map[string]func(*types.ChainOperation))
	s.errorHooks = make(map[string]func(error))
}

// notifyUpdate invokes update hooks outside the session lock so a hook may
// call back into the session.
func (s *EVMSigningSession) notifyUpdate() {
	s.mu.Lock()
	hooks := make([]func(*types.ChainOperation), 0, len(s.updateHooks))
	for _, fn := range s.updateHooks {
		hooks = append(hooks, fn)
	}
	op := s.op
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(op)
	}
}

func (s *EVMSigningSession) notifyError(err error) {
	s.mu.Lock()
	hooks := make([]func(error), 0, len(s.errorHooks))
	for _, fn := range s.errorHooks {
		hooks = append(hooks, fn)
	}
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(err)
	}
}

// EVMSigningSessionFactory builds signing sessions against real chain
// clients.
type EVMSigningSessionFactory struct {
	pool      *ChainClientPool
	gasOracle *clients.GasPriceClient
	logger    *logrus.Logger
}

// NewEVMSigningSessionFactory creates the production session factory.
func NewEVMSigningSessionFactory(pool *ChainClientPool, gasOracle *clients.GasPriceClient, logger *logrus.Logger) *EVMSigningSessionFactory {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EVMSigningSessionFactory{pool: pool, gasOracle: gasOracle, logger: logger}
}

// NewSession constructs a session bound to the given operation, resolving a
// paymaster sponsorship for the account when one exists.
func (f *EVMSigningSessionFactory) NewSession(
	ctx context.Context,
	account common.Address,
	deployment *utils.PoolDeployment,
	op *types.ChainOperation,
	paymaster interfaces.PaymasterResolver,
) (interfaces.SigningSession, error) {
	if op == nil {
		return nil, fmt.Errorf("operation is required")
	}

	if paymaster != nil {
		pm, err := paymaster.ResolvePaymaster(ctx, account, deployment.ChainID)
		if err != nil {
			// Sponsorship is best-effort: the operation pays its own gas
			// when resolution fails.
			f.logger.WithFields(logrus.Fields{
				"account":  account.Hex(),
				"chain_id": deployment.ChainID,
			}).WithError(err).Warn("paymaster resolution failed")
		} else if pm != nil {
			op.PreExecutionHook = fmt.Sprintf("paymaster:%s", pm.Address.Hex())
		}
	}

	return &EVMSigningSession{
		id:          uuid.New().String(),
		account:     account,
		deployment:  deployment,
		pool:        f.pool,
		gasOracle:   f.gasOracle,
		logger:      f.logger,
		op:          op,
		updateHooks: make(map[string]func(*types.ChainOperation)),
		errorHooks:  make(map[string]func(error)),
	}, nil
}
