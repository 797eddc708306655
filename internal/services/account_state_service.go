package services

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/types"
)

// AccountStateService fetches current on-chain account state through the
// shared client pool. Used by the transaction orchestrator before building
// an operation.
type AccountStateService struct {
	pool   *ChainClientPool
	logger *logrus.Logger
}

// NewAccountStateService creates an account-state provider.
func NewAccountStateService(pool *ChainClientPool, logger *logrus.Logger) *AccountStateService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AccountStateService{pool: pool, logger: logger}
}

// GetAccountState returns the pending nonce and balance for an address.
func (s *AccountStateService) GetAccountState(ctx context.Context, address common.Address, chainID uint64) (*types.AccountState, error) {
	client, err := s.pool.GetClient(chainID)
	if err != nil {
		return nil, fmt.Errorf("no client for chain %d: %w", chainID, err)
	}

	nonce, err := client.PendingNonceAt(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce for %s on chain %d: %w", address.Hex(), chainID, err)
	}

	balance, err := client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance for %s on chain %d: %w", address.Hex(), chainID, err)
	}

	return &types.AccountState{
		Address: address,
		ChainID: chainID,
		Nonce:   nonce,
		Balance: balance,
	}, nil
}
