package services

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/interfaces"
	"pool-backend/internal/utils"
)

// OrchestratorManager hands out one transaction orchestrator per account.
// Each orchestrator owns at most one signing session; the manager keeps that
// invariant while the API serves many accounts concurrently.
type OrchestratorManager struct {
	registry  *utils.ChainRegistry
	accounts  interfaces.AccountStateProvider
	paymaster interfaces.PaymasterResolver
	factory   interfaces.SigningSessionFactory
	interval  time.Duration
	logger    *logrus.Logger

	mu            sync.RWMutex
	orchestrators map[common.Address]*TransactionOrchestrator
}

// NewOrchestratorManager creates the per-account orchestrator registry.
func NewOrchestratorManager(
	registry *utils.ChainRegistry,
	accounts interfaces.AccountStateProvider,
	paymaster interfaces.PaymasterResolver,
	factory interfaces.SigningSessionFactory,
	interval time.Duration,
	logger *logrus.Logger,
) *OrchestratorManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OrchestratorManager{
		registry:      registry,
		accounts:      accounts,
		paymaster:     paymaster,
		factory:       factory,
		interval:      interval,
		logger:        logger,
		orchestrators: make(map[common.Address]*TransactionOrchestrator),
	}
}

// GetOrCreate returns the orchestrator for an account, creating it on first
// use.
func (m *OrchestratorManager) GetOrCreate(account common.Address) *TransactionOrchestrator {
	m.mu.RLock()
	orch, ok := m.orchestrators[account]
	m.mu.RUnlock()
	if ok {
		return orch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if orch, ok := m.orchestrators[account]; ok {
		return orch
	}
	orch = NewTransactionOrchestrator(account, m.registry, m.accounts, m.paymaster, m.factory, m.interval, m.logger)
	m.orchestrators[account] = orch
	m.logger.WithFields(logrus.Fields{
		"account": account.Hex(),
	}).Debug("created transaction orchestrator")
	return orch
}

// Get returns the orchestrator for an account if one exists.
func (m *OrchestratorManager) Get(account common.Address) (*TransactionOrchestrator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orch, ok := m.orchestrators[account]
	return orch, ok
}

// ActiveCount returns the number of live orchestrators.
func (m *OrchestratorManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orchestrators)
}

// Remove tears down and forgets an account's orchestrator.
func (m *OrchestratorManager) Remove(account common.Address) {
	m.mu.Lock()
	orch, ok := m.orchestrators[account]
	delete(m.orchestrators, account)
	m.mu.Unlock()
	if ok {
		orch.Teardown()
	}
}

// TeardownAll tears down every orchestrator and waits for their re-estimation
// loops to exit. Used on service shutdown.
func (m *OrchestratorManager) TeardownAll() {
	m.mu.Lock()
	all := make([]*TransactionOrchestrator, 0, len(m.orchestrators))
	for account, orch := range m.orchestrators {
		all = append(all, orch)
		delete(m.orchestrators, account)
	}
	m.mu.Unlock()

	for _, orch := range all {
		orch.Teardown()
	}
	for _, orch := range all {
		orch.loopWG.Wait()
	}
}
