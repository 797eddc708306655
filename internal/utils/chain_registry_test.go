package utils

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestGlobalChainRegistryDeployments(t *testing.T) {
	deployments := GlobalChainRegistry.AllDeployments()
	require.NotEmpty(t, deployments)

	// Listing is ordered by chain ID.
	for i := 1; i < len(deployments); i++ {
		require.Less(t, deployments[i-1].ChainID, deployments[i].ChainID)
	}

	for _, d := range deployments {
		// Registered scope hashes are derived, never hand-maintained.
		require.Equal(t, ComputeScopeHash(d.ChainID, d.PoolAddress), d.ScopeHash)
		require.NotEqual(t, common.Hash{}, d.ScopeHash)
		require.NotEmpty(t, d.RPCEndpoints)

		byID, ok := GlobalChainRegistry.GetByChainID(d.ChainID)
		require.True(t, ok)
		require.Same(t, d, byID)

		byScope, ok := GlobalChainRegistry.GetByScope(d.ScopeHash)
		require.True(t, ok)
		require.Same(t, d, byScope)
	}
}

func TestChainRegistryLookupMisses(t *testing.T) {
	_, ok := GlobalChainRegistry.GetByChainID(999)
	require.False(t, ok)
	require.False(t, GlobalChainRegistry.IsSupported(999))
	require.True(t, GlobalChainRegistry.IsSupported(1))

	_, ok = GlobalChainRegistry.GetByScope(common.HexToHash("0xdead"))
	require.False(t, ok)

	_, err := GlobalChainRegistry.GetRPCEndpoint(999)
	require.Error(t, err)
}

func TestOverrideRPCEndpoints(t *testing.T) {
	pool := common.HexToAddress("0x1111111111111111111111111111111111111111")
	d := &PoolDeployment{
		ChainID:      31337,
		Name:         "Local",
		PoolAddress:  pool,
		ScopeHash:    ComputeScopeHash(31337, pool),
		RPCEndpoints: []string{"http://localhost:8545"},
	}
	reg := &ChainRegistry{
		byChainID: map[uint64]*PoolDeployment{d.ChainID: d},
		byScope:   map[common.Hash]*PoolDeployment{d.ScopeHash: d},
	}

	endpoint, err := reg.GetRPCEndpoint(31337)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8545", endpoint)

	require.NoError(t, reg.OverrideRPCEndpoints(31337, []string{"http://localhost:9545", "http://localhost:9546"}))
	endpoint, err = reg.GetRPCEndpoint(31337)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9545", endpoint)

	// Empty override keeps the current endpoints.
	require.NoError(t, reg.OverrideRPCEndpoints(31337, nil))
	endpoint, err = reg.GetRPCEndpoint(31337)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9545", endpoint)

	require.Error(t, reg.OverrideRPCEndpoints(999, []string{"http://localhost:1111"}))
}
