package utils

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// keccak256 hashes the concatenation of the given chunks.
func keccak256(chunks ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, chunk := range chunks {
		h.Write(chunk)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// valueBytes32 encodes a uint256 value as 32 big-endian bytes.
func valueBytes32(v *big.Int) ([32]byte, error) {
	var out [32]byte
	if v == nil {
		return out, nil
	}
	if v.Sign() < 0 {
		return out, fmt.Errorf("value must be non-negative, got %s", v.String())
	}
	if v.BitLen() > 256 {
		return out, fmt.Errorf("value exceeds 256 bits")
	}
	v.FillBytes(out[:])
	return out, nil
}

// ComputePrecommitmentHash derives the precommitment binding a nullifier to
// its secret: keccak256(nullifier || secret).
func ComputePrecommitmentHash(nullifier, secret common.Hash) common.Hash {
	return keccak256(nullifier.Bytes(), secret.Bytes())
}

// ComputeCommitmentHash derives the content hash of a commitment:
// keccak256(value || label || precommitment).
func ComputeCommitmentHash(value *big.Int, label, nullifier, secret common.Hash) (common.Hash, error) {
	vb, err := valueBytes32(value)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid commitment value: %w", err)
	}
	pre := ComputePrecommitmentHash(nullifier, secret)
	return keccak256(vb[:], label.Bytes(), pre.Bytes()), nil
}

// ComputeNullifierHash derives the public nullifier hash revealed when a
// commitment is spent: keccak256(nullifier).
func ComputeNullifierHash(nullifier common.Hash) common.Hash {
	return keccak256(nullifier.Bytes())
}

// ComputeScopeHash derives the scope identifier of one pool deployment:
// keccak256(chainId || poolAddress).
func ComputeScopeHash(chainID uint64, poolAddress common.Address) common.Hash {
	var cid [8]byte
	binary.BigEndian.PutUint64(cid[:], chainID)
	return keccak256(cid[:], poolAddress.Bytes())
}
