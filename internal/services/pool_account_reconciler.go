package services

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/interfaces"
	"pool-backend/internal/metrics"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

// timestampWorkers bounds the concurrent block-time lookups per pass.
const timestampWorkers = 8

// PoolAccountReconciler derives the authoritative set of pool accounts from
// commitment chains, allow-list data and ragequit events. It owns no mutable
// state: every pass only reads its inputs and allocates fresh outputs, so
// concurrent calls for different chain ids are safe.
type PoolAccountReconciler struct {
	registry  *utils.ChainRegistry
	blockTime interfaces.BlockTimeResolver
	logger    *logrus.Logger
}

// NewPoolAccountReconciler creates a reconciler over the given registry and
// block-time resolver.
func NewPoolAccountReconciler(registry *utils.ChainRegistry, blockTime interfaces.BlockTimeResolver, logger *logrus.Logger) *PoolAccountReconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PoolAccountReconciler{
		registry:  registry,
		blockTime: blockTime,
		logger:    logger,
	}
}

// statusRuleInput carries everything the review-status rules may consult for
// one commitment.
type statusRuleInput struct {
	ragequit   *types.RagequitEvent
	superseded bool // a later commitment exists in the same chain
	decision   types.ApprovalDecision
}

// statusRule is one row of the ordered review-status table.
type statusRule struct {
	name    string
	applies func(statusRuleInput) bool
	status  types.ReviewStatus
}

// reviewStatusRules is the ordered, total precedence table for review-status
// resolution. Order is the contract: the first matching row wins, and the
// final row matches everything.
var reviewStatusRules = []statusRule{
	{"ragequit", func(in statusRuleInput) bool { return in.ragequit != nil }, types.ReviewStatusExited},
	{"superseded", func(in statusRuleInput) bool { return in.superseded }, types.ReviewStatusSpent},
	{"approved", func(in statusRuleInput) bool { return in.decision == types.ApprovalApproved }, types.ReviewStatusApproved},
	{"declined", func(in statusRuleInput) bool { return in.decision == types.ApprovalDeclined }, types.ReviewStatusDeclined},
	{"default", func(in statusRuleInput) bool { return true }, types.ReviewStatusPending},
}

// resolveReviewStatus walks the rule table in order and returns the status of
// the first matching row.
func resolveReviewStatus(in statusRuleInput) types.ReviewStatus {
	for _, rule := range reviewStatusRules {
		if rule.applies(in) {
			return rule.status
		}
	}
	// The table ends with a catch-all row; this is unreachable.
	return types.ReviewStatusPending
}

// Reconcile rebuilds the pool-account set from the supplied commitment
// chains, approval data and ragequit events. It returns accounts filtered to
// the requested chain id plus the full set grouped by "<chainId>-<scope>".
//
// Malformed chains (a child value exceeding its parent, or a negative value)
// fail individually and are reported in ReconcileResult.ChainErrors; sibling
// chains still reconcile. Missing allow-list data is not an error and reads
// as pending. Blocks that cannot be resolved to timestamps leave a nil
// timestamp on the affected commitment and never abort the pass.
func (r *PoolAccountReconciler) Reconcile(
	ctx context.Context,
	chainID uint64,
	chainsByScope map[common.Hash][]*types.CommitmentChain,
	approvals *types.ApprovalSet,
	ragequitsByScope map[common.Hash][]*types.RagequitEvent,
) (*types.ReconcileResult, error) {
	started := time.Now()
	result := &types.ReconcileResult{
		ChainID:              chainID,
		AccountsForChain:     make([]*types.PoolAccount, 0),
		AccountsByChainScope: make(map[string][]*types.PoolAccount),
	}

	var tsJobs []timestampJob

	for _, scope := range sortedScopes(chainsByScope) {
		deployment, ok := r.registry.GetByScope(scope)
		if !ok {
			// Unknown scope: the account set degrades gracefully by
			// omitting it, mirroring how missing chain data is handled.
			r.logger.WithFields(logrus.Fields{
				"scope": scope.Hex(),
			}).Warn("skipping commitment chains for unregistered scope")
			continue
		}
		poolScope := &types.PoolScope{
			ChainID:         deployment.ChainID,
			PoolAddress:     deployment.PoolAddress,
			DeploymentBlock: deployment.DeploymentBlock,
			ScopeHash:       deployment.ScopeHash,
		}
		ragequitByCommitment := indexRagequits(ragequitsByScope[scope])

		for chainIdx, chain := range chainsByScope[scope] {
			if reason := validateChain(chain); reason != "" {
				chainErr := &types.MalformedChainError{Scope: scope, ChainIndex: chainIdx, Reason: reason}
				result.ChainErrors = append(result.ChainErrors, chainErr)
				metrics.MalformedChainsTotal.WithLabelValues(scope.Hex()).Inc()
				r.logger.WithFields(logrus.Fields{
					"scope":       scope.Hex(),
					"chain_index": chainIdx,
					"reason":      reason,
				}).Warn("commitment chain failed integrity check")
				continue
			}

			copied := copyChain(chain)
			ragequit := matchRagequit(copied, ragequitByCommitment)
			last := copied.Current()

			balance := new(big.Int).Set(last.Value)
			if ragequit != nil {
				balance = new(big.Int)
			}

			account := &types.PoolAccount{
				Scope:          poolScope,
				Chain:          copied,
				LastCommitment: last,
				Balance:        balance,
				SequenceNumber: chainIdx + 1,
				ReviewStatus: resolveReviewStatus(statusRuleInput{
					ragequit:   ragequit,
					superseded: false, // the account always represents the terminal commitment
					decision:   approvals.Decision(scope, last.Hash),
				}),
				Ragequit: ragequit,
			}

			key := account.CompositeKey()
			result.AccountsByChainScope[key] = append(result.AccountsByChainScope[key], account)
			if poolScope.ChainID == chainID {
				result.AccountsForChain = append(result.AccountsForChain, account)
			}

			for _, c := range copied.All() {
				if c.Timestamp == nil {
					tsJobs = append(tsJobs, timestampJob{
						chainID: poolScope.ChainID,
						block:   c.BlockNumber,
						assign:  assignCommitmentTime(c),
					})
				}
			}
			if ragequit != nil && ragequit.Timestamp == nil {
				tsJobs = append(tsJobs, timestampJob{
					chainID: poolScope.ChainID,
					block:   ragequit.BlockNumber,
					assign:  assignRagequitTime(ragequit),
				})
			}
		}
	}

	r.resolveTimestamps(ctx, tsJobs)

	metrics.ReconcileDuration.WithLabelValues(fmt.Sprintf("%d", chainID)).Observe(time.Since(started).Seconds())
	r.logger.WithFields(logrus.Fields{
		"chain_id":     chainID,
		"accounts":     len(result.AccountsForChain),
		"scope_groups": len(result.AccountsByChainScope),
		"chain_errors": len(result.ChainErrors),
		"duration_ms":  time.Since(started).Milliseconds(),
	}).Debug("reconciliation pass complete")

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// validateChain checks one chain's value integrity and returns a non-empty
// reason on failure.
func validateChain(chain *types.CommitmentChain) string {
	if chain == nil || chain.Root == nil {
		return "chain has no root deposit"
	}
	prev := chain.Root
	if prev.Value == nil {
		return "root deposit has no value"
	}
	if prev.Value.Sign() < 0 {
		return fmt.Sprintf("negative value %s on root deposit", prev.Value.String())
	}
	for i, child := range chain.Children {
		if child == nil || child.Value == nil {
			return fmt.Sprintf("child %d has no value", i)
		}
		if child.Value.Sign() < 0 {
			return fmt.Sprintf("negative value %s on child %d", child.Value.String(), i)
		}
		if child.Value.Cmp(prev.Value) > 0 {
			return fmt.Sprintf("child %d value %s exceeds parent value %s", i, child.Value.String(), prev.Value.String())
		}
		prev = child
	}
	return ""
}

// copyChain deep-copies a chain so timestamp resolution never mutates the
// caller's input data.
func copyChain(chain *types.CommitmentChain) *types.CommitmentChain {
	out := &types.CommitmentChain{Root: copyCommitment(chain.Root)}
	if len(chain.Children) > 0 {
		out.Children = make([]*types.Commitment, len(chain.Children))
		for i, c := range chain.Children {
			out.Children[i] = copyCommitment(c)
		}
	}
	return out
}

func copyCommitment(c *types.Commitment) *types.Commitment {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// indexRagequits keys a scope's ragequit events by the commitment they were
// recorded against.
func indexRagequits(events []*types.RagequitEvent) map[common.Hash]*types.RagequitEvent {
	if len(events) == 0 {
		return nil
	}
	out := make(map[common.Hash]*types.RagequitEvent, len(events))
	for _, ev := range events {
		out[ev.CommitmentHash] = ev
	}
	return out
}

// matchRagequit finds the ragequit event recorded against one of the chain's
// commitments, checking the terminal commitment first. The returned event is
// a copy so timestamp resolution stays within the pass's own allocations.
func matchRagequit(chain *types.CommitmentChain, byCommitment map[common.Hash]*types.RagequitEvent) *types.RagequitEvent {
	if len(byCommitment) == 0 {
		return nil
	}
	all := chain.All()
	for i := len(all) - 1; i >= 0; i-- {
		if ev, ok := byCommitment[all[i].Hash]; ok {
			cp := *ev
			return &cp
		}
	}
	return nil
}

// timestampJob is one block-to-time resolution to fan out.
type timestampJob struct {
	chainID uint64
	block   uint64
	assign  func(time.Time)
}

func assignCommitmentTime(c *types.Commitment) func(time.Time) {
	return func(ts time.Time) { c.Timestamp = &ts }
}

func assignRagequitTime(ev *types.RagequitEvent) func(time.Time) {
	return func(ts time.Time) { ev.Timestamp = &ts }
}

// resolveTimestamps resolves block numbers to timestamps concurrently.
// Results merge by identity so arrival order is irrelevant, and one failed
// lookup never cancels its siblings: the affected record simply keeps its
// nil-timestamp sentinel.
func (r *PoolAccountReconciler) resolveTimestamps(ctx context.Context, jobs []timestampJob) {
	if len(jobs) == 0 || r.blockTime == nil {
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, timestampWorkers)
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(job timestampJob) {
			defer wg.Done()
			defer func() { <-sem }()
			ts, err := r.blockTime.ResolveTimestamp(ctx, job.chainID, job.block)
			if err != nil {
				metrics.TimestampResolutionFailures.WithLabelValues(fmt.Sprintf("%d", job.chainID)).Inc()
				r.logger.WithFields(logrus.Fields{
					"chain_id": job.chainID,
					"block":    job.block,
				}).WithError(err).Warn("block timestamp resolution failed, keeping unresolved marker")
				return
			}
			job.assign(ts)
		}(job)
	}
	wg.Wait()
}

// sortedScopes returns the scope keys in a deterministic order so repeated
// passes over identical inputs yield structurally equal results.
func sortedScopes(chainsByScope map[common.Hash][]*types.CommitmentChain) []common.Hash {
	scopes := make([]common.Hash, 0, len(chainsByScope))
	for scope := range chainsByScope {
		scopes = append(scopes, scope)
	}
	sort.Slice(scopes, func(i, j int) bool {
		return scopes[i].Hex() < scopes[j].Hex()
	})
	return scopes
}
