package utils

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// PoolDeployment describes one privacy pool deployment on one chain.
type PoolDeployment struct {
	ChainID         uint64         `json:"chain_id"`         // native EVM chain ID
	Name            string         `json:"name"`             // chain name
	Symbol          string         `json:"symbol"`           // native token symbol
	PoolAddress     common.Address `json:"pool_address"`     // pool contract
	EntrypointAddr  common.Address `json:"entrypoint"`       // batch entrypoint the operations target
	DeploymentBlock uint64         `json:"deployment_block"` // first block with pool events
	ScopeHash       common.Hash    `json:"scope_hash"`       // keccak(chainId || poolAddress)
	RPCEndpoints    []string       `json:"rpc_endpoints"`
	ExplorerURL     string         `json:"explorer_url"`
}

// Scope returns the deployment as a pool scope value.
func (d *PoolDeployment) Scope() (uint64, common.Address, uint64, common.Hash) {
	return d.ChainID, d.PoolAddress, d.DeploymentBlock, d.ScopeHash
}

// ChainRegistry is the static table of supported pool deployments.
type ChainRegistry struct {
	byChainID map[uint64]*PoolDeployment
	byScope   map[common.Hash]*PoolDeployment
}

// GlobalChainRegistry holds all deployments known at build time; endpoints
// may be overridden from config at startup.
var GlobalChainRegistry *ChainRegistry

func init() {
	GlobalChainRegistry = &ChainRegistry{
		byChainID: make(map[uint64]*PoolDeployment),
		byScope:   make(map[common.Hash]*PoolDeployment),
	}

	deployments := []*PoolDeployment{
		{
			ChainID:         1,
			Name:            "Ethereum",
			Symbol:          "ETH",
			PoolAddress:     common.HexToAddress("0x6818809EefCe719E480a7526D76bD3e561526b46"),
			EntrypointAddr:  common.HexToAddress("0x69f19bcC293bf2BC0E279Fc1E2c0cC8525a841C1"),
			DeploymentBlock: 22155310,
			RPCEndpoints:    []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth"},
			ExplorerURL:     "https://etherscan.io",
		},
		{
			ChainID:         100,
			Name:            "Gnosis",
			Symbol:          "xDAI",
			PoolAddress:     common.HexToAddress("0x2dE6cb8Bd9Bb8c025F1161c3E7bBc041Cd0F8b94"),
			EntrypointAddr:  common.HexToAddress("0x41A2e85bdBF331b0b2E6ab1ba185f4c37e3a3C11"),
			DeploymentBlock: 39481205,
			RPCEndpoints:    []string{"https://rpc.gnosischain.com", "https://rpc.ankr.com/gnosis"},
			ExplorerURL:     "https://gnosisscan.io",
		},
		{
			ChainID:         8453,
			Name:            "Base",
			Symbol:          "ETH",
			PoolAddress:     common.HexToAddress("0x8Ca46c0c4f28E8104fC1b2e9B81f1b70D203CA6c"),
			EntrypointAddr:  common.HexToAddress("0x9aB6540E2b2d9A1a5bCbFd0e1fDD84dBbF58E103"),
			DeploymentBlock: 28744021,
			RPCEndpoints:    []string{"https://mainnet.base.org", "https://base.llamarpc.com"},
			ExplorerURL:     "https://basescan.org",
		},
		{
			ChainID:         11155111,
			Name:            "Sepolia",
			Symbol:          "ETH",
			PoolAddress:     common.HexToAddress("0xF4d36fDeaB723a8B74E06a29CeD750Aa4c0f8A42"),
			EntrypointAddr:  common.HexToAddress("0xC30eB27F9aD2A3D6f34ba971d500C0fA3b1058D9"),
			DeploymentBlock: 7861342,
			RPCEndpoints:    []string{"https://rpc.sepolia.org", "https://rpc.ankr.com/eth_sepolia"},
			ExplorerURL:     "https://sepolia.etherscan.io",
		},
	}

	for _, d := range deployments {
		d.ScopeHash = ComputeScopeHash(d.ChainID, d.PoolAddress)
		GlobalChainRegistry.byChainID[d.ChainID] = d
		GlobalChainRegistry.byScope[d.ScopeHash] = d
	}
}

// GetByChainID looks up a deployment by native chain ID.
func (r *ChainRegistry) GetByChainID(chainID uint64) (*PoolDeployment, bool) {
	d, ok := r.byChainID[chainID]
	return d, ok
}

// GetByScope looks up a deployment by scope hash.
func (r *ChainRegistry) GetByScope(scope common.Hash) (*PoolDeployment, bool) {
	d, ok := r.byScope[scope]
	return d, ok
}

// GetRPCEndpoint returns the primary RPC endpoint for a chain.
func (r *ChainRegistry) GetRPCEndpoint(chainID uint64) (string, error) {
	d, ok := r.GetByChainID(chainID)
	if !ok || len(d.RPCEndpoints) == 0 {
		return "", fmt.Errorf("no RPC endpoint for chain: %d", chainID)
	}
	return d.RPCEndpoints[0], nil
}

// OverrideRPCEndpoints replaces the endpoint list for a chain, used when the
// config carries operator-provided endpoints.
func (r *ChainRegistry) OverrideRPCEndpoints(chainID uint64, endpoints []string) error {
	d, ok := r.GetByChainID(chainID)
	if !ok {
		return fmt.Errorf("unsupported chain ID: %d", chainID)
	}
	if len(endpoints) > 0 {
		d.RPCEndpoints = endpoints
	}
	return nil
}

// AllDeployments lists every registered deployment ordered by chain ID.
func (r *ChainRegistry) AllDeployments() []*PoolDeployment {
	out := make([]*PoolDeployment, 0, len(r.byChainID))
	for _, d := range r.byChainID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// IsSupported reports whether a pool deployment exists for the chain.
func (r *ChainRegistry) IsSupported(chainID uint64) bool {
	_, ok := r.GetByChainID(chainID)
	return ok
}
