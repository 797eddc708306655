// Pool deployment wiring between the YAML network config and the built-in
// chain registry.
package config

import (
	"log"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"pool-backend/internal/utils"
)

// ApplyDeploymentOverrides pushes operator-provided network settings onto the
// chain registry: RPC endpoint lists replace the built-in defaults for every
// enabled network. Contract addresses are build-time registry constants; a
// config address that disagrees with the registry is logged and ignored so a
// stale config file cannot silently point signing at the wrong pool.
func ApplyDeploymentOverrides(registry *utils.ChainRegistry) {
	if AppConfig == nil || len(AppConfig.Networks) == 0 {
		return
	}

	for name, network := range AppConfig.Networks {
		if !network.Enabled {
			log.Printf("🔧 [Config] Network %s (chain %d) disabled in config", name, network.ChainID)
			continue
		}

		deployment, ok := registry.GetByChainID(network.ChainID)
		if !ok {
			log.Printf("⚠️ [Config] Network %s references unsupported chain %d, skipping", name, network.ChainID)
			continue
		}

		if len(network.RPCEndpoints) > 0 {
			if err := registry.OverrideRPCEndpoints(network.ChainID, network.RPCEndpoints); err != nil {
				log.Printf("⚠️ [Config] RPC endpoint override for %s failed: %v", name, err)
			} else {
				log.Printf("🔧 [Config] Chain %d uses %d configured RPC endpoint(s)", network.ChainID, len(network.RPCEndpoints))
			}
		}

		warnOnAddressDrift(name, "poolContract", network.PoolContract, deployment.PoolAddress)
		warnOnAddressDrift(name, "entrypointContract", network.EntrypointContract, deployment.EntrypointAddr)
	}
}

// warnOnAddressDrift reports a configured contract address that differs from
// the registry's build-time constant.
func warnOnAddressDrift(network, field, configured string, deployed common.Address) {
	if configured == "" || !common.IsHexAddress(configured) {
		return
	}
	if !strings.EqualFold(configured, deployed.Hex()) {
		log.Printf("⚠️ [Config] %s.%s=%s differs from deployed contract %s - registry address stays authoritative",
			network, field, configured, deployed.Hex())
	}
}
