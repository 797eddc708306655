package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"
)

// GasPriceClient queries external gas trackers for a price suggestion before
// the signing session falls back to the node's own estimate. Lookups never
// fail hard: any oracle problem yields a nil price and the caller moves on.
type GasPriceClient struct {
	httpClient *http.Client
}

// NewGasPriceClient creates a gas tracker client.
func NewGasPriceClient() *GasPriceClient {
	return &GasPriceClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// gasOracleResponse is the Etherscan-family gas tracker response shape.
type gasOracleResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  struct {
		SafeGasPrice    string `json:"SafeGasPrice"`
		ProposeGasPrice string `json:"ProposeGasPrice"`
		FastGasPrice    string `json:"FastGasPrice"`
	} `json:"result"`
}

// gasTrackerURLs maps chain ids to their gas tracker endpoints. Chains
// without one always fall back to the node suggestion.
var gasTrackerURLs = map[uint64]string{
	1:    "https://api.etherscan.io/api?module=gastracker&action=gasoracle",
	100:  "https://api.gnosisscan.io/api?module=gastracker&action=gasoracle",
	8453: "https://api.basescan.org/api?module=gastracker&action=gasoracle",
}

// GetGasPrice returns the tracker's proposed gas price in wei, or nil when
// no tracker exists for the chain or the lookup failed for any reason.
func (c *GasPriceClient) GetGasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	url, ok := gasTrackerURLs[chainID]
	if !ok {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Oracle unreachable: not an error for the caller.
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}

	var oracle gasOracleResponse
	if err := json.Unmarshal(body, &oracle); err != nil {
		return nil, nil
	}
	if oracle.Status != "1" {
		return nil, nil
	}

	wei, err := gweiToWei(oracle.Result.ProposeGasPrice)
	if err != nil {
		return nil, nil
	}
	return wei, nil
}

// gweiToWei converts a decimal gwei string (e.g. "12.5") to wei.
func gweiToWei(gwei string) (*big.Int, error) {
	price, ok := new(big.Float).SetString(gwei)
	if !ok {
		return nil, fmt.Errorf("invalid gas price: %s", gwei)
	}
	price.Mul(price, big.NewFloat(1e9))
	wei, _ := price.Int(nil)
	if wei.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive gas price: %s", gwei)
	}
	return wei, nil
}
