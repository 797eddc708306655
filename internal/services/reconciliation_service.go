package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/clients"
	"pool-backend/internal/interfaces"
	"pool-backend/internal/metrics"
	"pool-backend/internal/models"
	"pool-backend/internal/repository"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

// CachedReconciliation is the retained outcome of an account's latest pass.
type CachedReconciliation struct {
	Result     *types.ReconcileResult `json:"result"`
	AccountKey common.Hash            `json:"account_key"`
	ChainID    uint64                 `json:"chain_id"`
	Reconciled time.Time              `json:"reconciled_at"`
	// Stale is set on read when pool events arrived after this pass.
	Stale bool `json:"stale"`
}

// ReconciliationService runs full reconciliation passes: it gathers
// commitment history, allow-list decisions and ragequit exits, feeds them
// through the reconciler, persists the audit trail and fans the outcome out
// to NATS and websocket subscribers.
type ReconciliationService struct {
	registry     *utils.ChainRegistry
	reconciler   *PoolAccountReconciler
	commitments  interfaces.CommitmentSource
	ragequits    interfaces.RagequitSource
	approvals    interfaces.ApprovalSource
	ragequitRepo repository.RagequitRepository
	runRepo      repository.ReconciliationRunRepository
	logger       *logrus.Logger

	// optional fan-out targets, nil when the deployment runs without them
	nats *clients.NATSClient
	push *WebSocketPushService

	mu          sync.RWMutex
	lastByKey   map[string]*CachedReconciliation
	staleChains map[uint64]time.Time
}

// NewReconciliationService wires a reconciliation service. The NATS client
// and push service may be nil; fan-out is skipped without them.
func NewReconciliationService(
	registry *utils.ChainRegistry,
	reconciler *PoolAccountReconciler,
	commitments interfaces.CommitmentSource,
	ragequits interfaces.RagequitSource,
	approvals interfaces.ApprovalSource,
	ragequitRepo repository.RagequitRepository,
	runRepo repository.ReconciliationRunRepository,
	natsClient *clients.NATSClient,
	push *WebSocketPushService,
	logger *logrus.Logger,
) *ReconciliationService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReconciliationService{
		registry:     registry,
		reconciler:   reconciler,
		commitments:  commitments,
		ragequits:    ragequits,
		approvals:    approvals,
		ragequitRepo: ragequitRepo,
		runRepo:      runRepo,
		nats:         natsClient,
		push:         push,
		logger:       logger,
		lastByKey:    make(map[string]*CachedReconciliation),
		staleChains:  make(map[uint64]time.Time),
	}
}

// ReconcileAccounts runs one full pass for the caller's secret material and
// returns accounts filtered to chainID plus the cross-chain grouping.
//
// Degraded inputs never abort the pass: scopes whose history cannot be
// fetched are omitted, a failed allow-list lookup leaves statuses pending,
// and ragequit data falls back to locally persisted records.
func (s *ReconciliationService) ReconcileAccounts(ctx context.Context, chainID uint64, material types.SecretMaterial) (*types.ReconcileResult, error) {
	started := time.Now()
	accountKey := utils.ComputeAccountKey(material.ViewingKey)
	chainLabel := fmt.Sprintf("%d", chainID)
	var degraded []string

	deployments := s.registry.AllDeployments()
	chainsByScope, err := s.commitments.GetCommitmentHistory(ctx, deployments, material)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues(chainLabel, "error").Inc()
		return nil, fmt.Errorf("commitment history unavailable: %w", err)
	}

	approvalSet, err := s.approvals.GetApprovalSet(ctx, terminalCommitments(chainsByScope))
	if err != nil {
		s.logger.WithError(err).Warn("allow-list lookup failed, review statuses degrade to pending")
		degraded = append(degraded, fmt.Sprintf("allow-list unavailable: %v", err))
		approvalSet = types.NewApprovalSet()
	}

	ragequitsByScope, ragequitNotes := s.collectRagequits(ctx, chainsByScope)
	degraded = append(degraded, ragequitNotes...)

	result, err := s.reconciler.Reconcile(ctx, chainID, chainsByScope, approvalSet, ragequitsByScope)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues(chainLabel, "error").Inc()
		return result, err
	}

	durationMs := time.Since(started).Milliseconds()
	s.recordRun(ctx, chainID, accountKey, chainsByScope, result, degraded, durationMs)

	s.mu.Lock()
	s.lastByKey[accountKey.Hex()] = &CachedReconciliation{
		Result:     result,
		AccountKey: accountKey,
		ChainID:    chainID,
		Reconciled: started,
	}
	s.mu.Unlock()

	s.publishOutcome(chainID, accountKey, result, durationMs)
	metrics.ReconcileRuns.WithLabelValues(chainLabel, "success").Inc()

	s.logger.WithFields(logrus.Fields{
		"chain_id":    chainID,
		"account_key": accountKey.Hex(),
		"accounts":    len(result.AccountsForChain),
		"groups":      len(result.AccountsByChainScope),
		"degraded":    len(degraded),
		"duration_ms": durationMs,
	}).Info("Reconciliation pass complete")

	return result, nil
}

// LastResult returns a copy of the account's most recent pass, flagged stale
// when pool events arrived after it ran.
func (s *ReconciliationService) LastResult(accountKey common.Hash) (*CachedReconciliation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cached, ok := s.lastByKey[accountKey.Hex()]
	if !ok {
		return nil, false
	}
	cp := *cached
	if eventAt, hasEvents := s.staleChains[cached.ChainID]; hasEvents && eventAt.After(cached.Reconciled) {
		cp.Stale = true
	}
	return &cp, true
}

// MarkChainStale records that new pool events landed on a chain, so cached
// results predating the events read as stale.
func (s *ReconciliationService) MarkChainStale(chainID uint64) {
	s.mu.Lock()
	s.staleChains[chainID] = time.Now()
	s.mu.Unlock()
}

// collectRagequits gathers ragequit exits for every scope that produced
// commitment chains. Fresh indexer data is preferred and persisted; when the
// indexer is unreachable the locally persisted records serve as a fallback.
func (s *ReconciliationService) collectRagequits(ctx context.Context, chainsByScope map[common.Hash][]*types.CommitmentChain) (map[common.Hash][]*types.RagequitEvent, []string) {
	out := make(map[common.Hash][]*types.RagequitEvent, len(chainsByScope))
	var notes []string

	for scope := range chainsByScope {
		deployment, ok := s.registry.GetByScope(scope)
		if !ok {
			continue
		}

		events, err := s.ragequits.FetchRagequits(ctx, deployment)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"scope":    scope.Hex(),
				"chain_id": deployment.ChainID,
			}).WithError(err).Warn("Ragequit fetch failed, serving persisted records")
			notes = append(notes, fmt.Sprintf("ragequits for scope %s served from persisted records: %v", scope.Hex(), err))

			records, repoErr := s.ragequitRepo.FindByScope(ctx, scope.Hex())
			if repoErr != nil {
				s.logger.WithField("scope", scope.Hex()).WithError(repoErr).Warn("Persisted ragequit lookup failed, scope reconciles without exits")
				continue
			}
			out[scope] = ragequitRecordsToEvents(records)
			continue
		}

		pointers := make([]*types.RagequitEvent, 0, len(events))
		for i := range events {
			ev := events[i]
			pointers = append(pointers, &ev)

			record := &models.RagequitRecord{
				ChainID:        deployment.ChainID,
				Scope:          ev.Scope.Hex(),
				Label:          ev.Label.Hex(),
				CommitmentHash: ev.CommitmentHash.Hex(),
				BlockNumber:    ev.BlockNumber,
				TxHash:         ev.TxHash.Hex(),
				Source:         "indexer",
			}
			if err := s.ragequitRepo.Upsert(ctx, record); err != nil {
				s.logger.WithField("commitment", ev.CommitmentHash.Hex()).WithError(err).Warn("Ragequit record upsert failed")
			}
		}
		out[scope] = pointers
	}

	return out, notes
}

// recordRun persists the audit row for a completed pass. Losing the audit
// row downgrades to a warning; the pass result already exists.
func (s *ReconciliationService) recordRun(
	ctx context.Context,
	chainID uint64,
	accountKey common.Hash,
	chainsByScope map[common.Hash][]*types.CommitmentChain,
	result *types.ReconcileResult,
	degraded []string,
	durationMs int64,
) {
	chainCount := 0
	for _, chains := range chainsByScope {
		chainCount += len(chains)
	}
	accountCount := 0
	for _, accounts := range result.AccountsByChainScope {
		accountCount += len(accounts)
	}

	malformed := make(pq.StringArray, 0, len(result.ChainErrors))
	for _, chainErr := range result.ChainErrors {
		malformed = append(malformed, fmt.Sprintf("%s#%d: %s", chainErr.Scope.Hex(), chainErr.ChainIndex, chainErr.Reason))
	}

	run := &models.ReconciliationRun{
		ChainID:         chainID,
		AccountKey:      accountKey.Hex(),
		ScopeCount:      len(chainsByScope),
		ChainCount:      chainCount,
		AccountCount:    accountCount,
		MalformedLabels: malformed,
		DurationMs:      durationMs,
		ErrorSummary:    strings.Join(degraded, "; "),
	}
	if err := s.runRepo.Create(ctx, run); err != nil {
		s.logger.WithError(err).Warn("Reconciliation audit row not persisted")
	}
}

// publishOutcome fans a completed pass out to NATS and the account's
// websocket connections.
func (s *ReconciliationService) publishOutcome(chainID uint64, accountKey common.Hash, result *types.ReconcileResult, durationMs int64) {
	if s.nats != nil && s.nats.IsConnected() {
		event := &clients.AccountsReconciledEvent{
			ChainID:      chainID,
			AccountKey:   accountKey.Hex(),
			AccountCount: len(result.AccountsForChain),
			GroupCount:   len(result.AccountsByChainScope),
			Timestamp:    time.Now().UTC(),
		}
		if err := s.nats.PublishAccountsReconciled(event); err != nil {
			s.logger.WithError(err).Warn("Reconciliation event publish failed")
		}
	}

	if s.push != nil {
		s.push.PushAccountsReconciled(accountKey.Hex(), AccountsReconciledData{
			ChainID:       chainID,
			AccountCount:  len(result.AccountsForChain),
			GroupCount:    len(result.AccountsByChainScope),
			MalformedSets: len(result.ChainErrors),
			DurationMs:    durationMs,
		})
	}
}

// terminalCommitments lists each scope's chain-terminal commitment hashes,
// the only ones whose allow-list decision the reconciler consults.
func terminalCommitments(chainsByScope map[common.Hash][]*types.CommitmentChain) map[common.Hash][]common.Hash {
	out := make(map[common.Hash][]common.Hash, len(chainsByScope))
	for scope, chains := range chainsByScope {
		hashes := make([]common.Hash, 0, len(chains))
		for _, chain := range chains {
			if current := chain.Current(); current != nil {
				hashes = append(hashes, current.Hash)
			}
		}
		if len(hashes) > 0 {
			out[scope] = hashes
		}
	}
	return out
}

// ragequitRecordsToEvents converts persisted rows to reconciler inputs.
// Timestamps stay nil; the reconciler resolves them from block numbers.
func ragequitRecordsToEvents(records []*models.RagequitRecord) []*types.RagequitEvent {
	out := make([]*types.RagequitEvent, 0, len(records))
	for _, rec := range records {
		out = append(out, &types.RagequitEvent{
			Scope:          common.HexToHash(rec.Scope),
			Label:          common.HexToHash(rec.Label),
			CommitmentHash: common.HexToHash(rec.CommitmentHash),
			BlockNumber:    rec.BlockNumber,
			TxHash:         common.HexToHash(rec.TxHash),
		})
	}
	return out
}
