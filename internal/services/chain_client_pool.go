package services

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/utils"
)

// ChainClientPool lazily dials and caches one RPC client per chain. All EVM
// access (nonce lookups, block headers, gas estimation) goes through it so
// connections are shared instead of re-dialed per request.
type ChainClientPool struct {
	registry *utils.ChainRegistry
	logger   *logrus.Logger

	mu      sync.RWMutex
	clients map[uint64]*ethclient.Client
}

// NewChainClientPool creates a pool over the deployment registry.
func NewChainClientPool(registry *utils.ChainRegistry, logger *logrus.Logger) *ChainClientPool {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ChainClientPool{
		registry: registry,
		logger:   logger,
		clients:  make(map[uint64]*ethclient.Client),
	}
}

// GetClient returns the cached client for a chain, dialing the registry's
// primary endpoint on first use.
func (p *ChainClientPool) GetClient(chainID uint64) (*ethclient.Client, error) {
	p.mu.RLock()
	client, ok := p.clients[chainID]
	p.mu.RUnlock()
	if ok {
		return client, nil
	}

	endpoint, err := p.registry.GetRPCEndpoint(chainID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another caller may have dialed while we waited for the write lock.
	if client, ok := p.clients[chainID]; ok {
		return client, nil
	}

	client, err = ethclient.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain %d at %s: %w", chainID, endpoint, err)
	}
	p.clients[chainID] = client
	p.logger.WithFields(logrus.Fields{
		"chain_id": chainID,
		"endpoint": endpoint,
	}).Info("dialed RPC client")
	return client, nil
}

// Close releases every dialed client.
func (p *ChainClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for chainID, client := range p.clients {
		client.Close()
		delete(p.clients, chainID)
	}
}
