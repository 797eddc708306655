package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// blockTimeCacheLimit caps the per-service header timestamp cache. Entries
// are immutable (a mined block's timestamp never changes), so eviction just
// drops the whole map when it grows past the limit.
const blockTimeCacheLimit = 8192

// BlockTimeService resolves block numbers to wall-clock timestamps via the
// chain's RPC headers. Each resolution is independently fallible; callers
// tolerate individual failures.
type BlockTimeService struct {
	pool   *ChainClientPool
	logger *logrus.Logger

	mu    sync.RWMutex
	cache map[blockTimeKey]time.Time
}

type blockTimeKey struct {
	chainID uint64
	block   uint64
}

// NewBlockTimeService creates a resolver over the shared client pool.
func NewBlockTimeService(pool *ChainClientPool, logger *logrus.Logger) *BlockTimeService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BlockTimeService{
		pool:   pool,
		logger: logger,
		cache:  make(map[blockTimeKey]time.Time),
	}
}

// ResolveTimestamp returns the timestamp of the given block.
func (s *BlockTimeService) ResolveTimestamp(ctx context.Context, chainID uint64, blockNumber uint64) (time.Time, error) {
	key := blockTimeKey{chainID: chainID, block: blockNumber}

	s.mu.RLock()
	ts, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return ts, nil
	}

	client, err := s.pool.GetClient(chainID)
	if err != nil {
		return time.Time{}, fmt.Errorf("no client for chain %d: %w", chainID, err)
	}

	header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch header %d on chain %d: %w", blockNumber, chainID, err)
	}

	ts = time.Unix(int64(header.Time), 0).UTC()

	s.mu.Lock()
	if len(s.cache) >= blockTimeCacheLimit {
		s.cache = make(map[blockTimeKey]time.Time)
	}
	s.cache[key] = ts
	s.mu.Unlock()

	return ts, nil
}
