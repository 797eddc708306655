package services

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/config"
	"pool-backend/internal/types"
)

// ConfigPaymasterResolver answers sponsorship lookups from the static network
// configuration: a network carrying a paymaster contract sponsors every
// account on that chain. A nil result means the operation pays its own gas.
type ConfigPaymasterResolver struct {
	logger *logrus.Logger
}

// NewConfigPaymasterResolver creates a resolver over the loaded config.
func NewConfigPaymasterResolver(logger *logrus.Logger) *ConfigPaymasterResolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ConfigPaymasterResolver{logger: logger}
}

// ResolvePaymaster returns the chain's sponsorship arrangement, or nil when
// the network has none configured. An unknown chain resolves to nil rather
// than an error: missing sponsorship never blocks an operation.
func (r *ConfigPaymasterResolver) ResolvePaymaster(ctx context.Context, account common.Address, chainID uint64) (*types.PaymasterConfig, error) {
	network, err := config.GetNetworkConfigByChainID(chainID)
	if err != nil || network.PaymasterContract == "" {
		return nil, nil
	}

	if !common.IsHexAddress(network.PaymasterContract) {
		r.logger.WithFields(logrus.Fields{
			"chain_id":  chainID,
			"paymaster": network.PaymasterContract,
		}).Warn("Configured paymaster contract is not a valid address, skipping sponsorship")
		return nil, nil
	}

	pm := &types.PaymasterConfig{
		Address: common.HexToAddress(network.PaymasterContract),
	}

	if raw := strings.TrimPrefix(network.PaymasterData, "0x"); raw != "" {
		data, err := hex.DecodeString(raw)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"chain_id": chainID,
			}).WithError(err).Warn("Configured paymaster data is not valid hex, sponsoring without payload")
		} else {
			pm.Data = data
		}
	}

	return pm, nil
}
