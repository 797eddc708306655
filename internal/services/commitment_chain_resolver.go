package services

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/clients"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

const (
	// accountScanGapLimit stops the deposit index scan after this many
	// consecutive indices with no matching on-chain deposit.
	accountScanGapLimit = 20
	indexerPageLimit    = 200
)

// CommitmentChainResolver rebuilds an account's commitment chains from public
// pool events. Deposit and spend secrets are re-derived from the viewing key,
// deposits are located by precommitment hash, and each deposit's spend events
// are linked into an ordered chain by nullifier-hash succession.
type CommitmentChainResolver struct {
	indexer *clients.IndexerClient
	logger  *logrus.Logger
}

// NewCommitmentChainResolver creates a resolver over the given indexer
// client.
func NewCommitmentChainResolver(indexer *clients.IndexerClient, logger *logrus.Logger) *CommitmentChainResolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CommitmentChainResolver{
		indexer: indexer,
		logger:  logger,
	}
}

// GetCommitmentHistory resolves the commitment chains of every given
// deployment for the account owning the secret material. A scope whose events
// cannot be fetched yields no entry and a warning, never a global failure.
func (r *CommitmentChainResolver) GetCommitmentHistory(ctx context.Context, deployments []*utils.PoolDeployment, secret types.SecretMaterial) (map[common.Hash][]*types.CommitmentChain, error) {
	out := make(map[common.Hash][]*types.CommitmentChain, len(deployments))

	for _, deployment := range deployments {
		if deployment == nil {
			continue
		}
		chains, err := r.resolveScope(ctx, deployment, secret)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			r.logger.WithFields(logrus.Fields{
				"chain_id": deployment.ChainID,
				"scope":    deployment.ScopeHash.Hex(),
				"error":    err.Error(),
			}).Warn("Commitment history unavailable for scope")
			continue
		}
		out[deployment.ScopeHash] = chains
	}
	return out, nil
}

func (r *CommitmentChainResolver) resolveScope(ctx context.Context, deployment *utils.PoolDeployment, secret types.SecretMaterial) ([]*types.CommitmentChain, error) {
	deposits, err := r.fetchDeposits(ctx, deployment.ScopeHash)
	if err != nil {
		return nil, fmt.Errorf("fetch deposits: %w", err)
	}
	spends, err := r.fetchSpends(ctx, deployment.ScopeHash)
	if err != nil {
		return nil, fmt.Errorf("fetch spends: %w", err)
	}

	depositsByPrecommitment := make(map[common.Hash]clients.DepositEventRecord, len(deposits))
	for _, d := range deposits {
		depositsByPrecommitment[common.HexToHash(d.PrecommitmentHash)] = d
	}

	spendsByLabel := make(map[common.Hash][]clients.SpendEventRecord)
	for _, s := range spends {
		label := common.HexToHash(s.Label)
		spendsByLabel[label] = append(spendsByLabel[label], s)
	}
	for label := range spendsByLabel {
		list := spendsByLabel[label]
		sort.Slice(list, func(i, j int) bool { return list[i].BlockNumber < list[j].BlockNumber })
		spendsByLabel[label] = list
	}

	var chains []*types.CommitmentChain
	misses := 0
	for index := uint64(0); misses < accountScanGapLimit; index++ {
		nullifier, depositSecret := utils.DeriveDepositKeys(secret.ViewingKey, deployment.ScopeHash, index)
		precommitment := utils.ComputePrecommitmentHash(nullifier, depositSecret)

		record, ok := depositsByPrecommitment[precommitment]
		if !ok {
			misses++
			continue
		}
		misses = 0

		chain, err := r.buildChain(secret.ViewingKey, record, nullifier, depositSecret, spendsByLabel)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"chain_id":   deployment.ChainID,
				"scope":      deployment.ScopeHash.Hex(),
				"commitment": record.CommitmentHash,
				"error":      err.Error(),
			}).Warn("Skipping unlinkable deposit")
			continue
		}
		chains = append(chains, chain)
	}

	sort.Slice(chains, func(i, j int) bool { return chains[i].Root.BlockNumber < chains[j].Root.BlockNumber })
	return chains, nil
}

// buildChain links one deposit's spend events into a chain. Each spend must
// reveal the nullifier hash of the previous commitment; the first spend that
// does not chain truncates the history there.
func (r *CommitmentChainResolver) buildChain(viewingKey common.Hash, record clients.DepositEventRecord, nullifier, depositSecret common.Hash, spendsByLabel map[common.Hash][]clients.SpendEventRecord) (*types.CommitmentChain, error) {
	value, ok := new(big.Int).SetString(record.Value, 10)
	if !ok {
		return nil, fmt.Errorf("deposit value %q is not a decimal integer", record.Value)
	}
	label := common.HexToHash(record.Label)

	chain := &types.CommitmentChain{
		Root: &types.Commitment{
			Hash:        common.HexToHash(record.CommitmentHash),
			Value:       value,
			Label:       label,
			Nullifier:   nullifier,
			Secret:      depositSecret,
			BlockNumber: record.BlockNumber,
		},
	}

	parentNullifier := nullifier
	parentValue := value
	for spendIdx, spend := range spendsByLabel[label] {
		expected := utils.ComputeNullifierHash(parentNullifier)
		if common.HexToHash(spend.SpentNullifierHash) != expected {
			r.logger.WithFields(logrus.Fields{
				"label":    label.Hex(),
				"expected": expected.Hex(),
				"revealed": spend.SpentNullifierHash,
			}).Warn("Spend does not chain from the previous commitment, truncating history")
			break
		}

		withdrawn, ok := new(big.Int).SetString(spend.WithdrawnValue, 10)
		if !ok || withdrawn.Sign() < 0 {
			return nil, fmt.Errorf("spend value %q is not a non-negative decimal integer", spend.WithdrawnValue)
		}
		childValue := new(big.Int).Sub(parentValue, withdrawn)
		if childValue.Sign() < 0 {
			return nil, fmt.Errorf("spend at block %d withdraws more than the commitment holds", spend.BlockNumber)
		}

		childNullifier, childSecret := utils.DeriveSpendKeys(viewingKey, label, uint64(spendIdx)+1)
		chain.Children = append(chain.Children, &types.Commitment{
			Hash:        common.HexToHash(spend.NewCommitmentHash),
			Value:       childValue,
			Label:       label,
			Nullifier:   childNullifier,
			Secret:      childSecret,
			BlockNumber: spend.BlockNumber,
		})

		parentNullifier = childNullifier
		parentValue = childValue
	}

	return chain, nil
}

func (r *CommitmentChainResolver) fetchDeposits(ctx context.Context, scope common.Hash) ([]clients.DepositEventRecord, error) {
	var all []clients.DepositEventRecord
	for page := 1; ; page++ {
		resp, err := r.indexer.GetDepositsByScope(ctx, scope.Hex(), page, indexerPageLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Deposits...)
		if !resp.Pagination.HasMore {
			return all, nil
		}
	}
}

func (r *CommitmentChainResolver) fetchSpends(ctx context.Context, scope common.Hash) ([]clients.SpendEventRecord, error) {
	var all []clients.SpendEventRecord
	for page := 1; ; page++ {
		resp, err := r.indexer.GetSpendsByScope(ctx, scope.Hex(), page, indexerPageLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Spends...)
		if !resp.Pagination.HasMore {
			return all, nil
		}
	}
}

// FetchRagequits pulls every ragequit event the indexer has for a scope.
// Used by the reconciliation service to refresh the persisted ragequit set.
func (r *CommitmentChainResolver) FetchRagequits(ctx context.Context, deployment *utils.PoolDeployment) ([]types.RagequitEvent, error) {
	var all []types.RagequitEvent
	for page := 1; ; page++ {
		resp, err := r.indexer.GetRagequitsByScope(ctx, deployment.ScopeHash.Hex(), page, indexerPageLimit)
		if err != nil {
			return nil, err
		}
		for _, rec := range resp.Ragequits {
			all = append(all, types.RagequitEvent{
				Scope:          deployment.ScopeHash,
				Label:          common.HexToHash(rec.Label),
				CommitmentHash: common.HexToHash(rec.CommitmentHash),
				BlockNumber:    rec.BlockNumber,
				TxHash:         common.HexToHash(rec.TransactionHash),
			})
		}
		if !resp.Pagination.HasMore {
			return all, nil
		}
	}
}
