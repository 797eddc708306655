package handlers

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var bytes32Pattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// parseHash32 parses a strict bytes32 hex string. Rejects short or unpadded
// values instead of silently left-padding them.
func parseHash32(field, value string) (common.Hash, error) {
	if !bytes32Pattern.MatchString(value) {
		return common.Hash{}, fmt.Errorf("%s must be a 0x-prefixed 32-byte hex string", field)
	}
	return common.HexToHash(value), nil
}

// parseUint256 parses a non-negative decimal uint256 string.
func parseUint256(field, value string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a decimal integer string", field)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	if n.BitLen() > 256 {
		return nil, fmt.Errorf("%s exceeds uint256", field)
	}
	return n, nil
}

// parseAddress parses a 20-byte hex address.
func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s must be a valid hex address", field)
	}
	return common.HexToAddress(value), nil
}

// parseHexBytes parses a 0x-prefixed hex payload. Empty input is an empty
// payload.
func parseHexBytes(field, value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, nil
	}
	data, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s must be valid hex: %w", field, err)
	}
	return data, nil
}
