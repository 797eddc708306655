package utils

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestComputePrecommitmentHash(t *testing.T) {
	nullifier := common.HexToHash("0x01")
	secret := common.HexToHash("0x02")

	got := ComputePrecommitmentHash(nullifier, secret)
	require.Equal(t,
		common.HexToHash("0xe90b7bceb6e7df5418fb78d8ee546e97c83a08bbccc01a0644d599ccd2a7c2e0"),
		got)

	// Argument order matters: swapping nullifier and secret changes the hash.
	swapped := ComputePrecommitmentHash(secret, nullifier)
	require.NotEqual(t, got, swapped)
}

func TestComputeNullifierHash(t *testing.T) {
	got := ComputeNullifierHash(common.HexToHash("0x01"))
	require.Equal(t,
		common.HexToHash("0xb10e2d527612073b26eecdfd717e6a320cf44b4afac2b0732d9fcbe2b7fa0cf6"),
		got)
}

func TestComputeCommitmentHash(t *testing.T) {
	nullifier := common.HexToHash("0x01")
	secret := common.HexToHash("0x02")
	label := common.HexToHash("0x03")

	got, err := ComputeCommitmentHash(big.NewInt(100), label, nullifier, secret)
	require.NoError(t, err)
	require.Equal(t,
		common.HexToHash("0x64ff065ecafb24edc283aa00125862701f437c14dee71b383d3248b7ef1aa7f6"),
		got)

	// A nil value encodes as zero, same as an explicit zero value.
	fromNil, err := ComputeCommitmentHash(nil, label, nullifier, secret)
	require.NoError(t, err)
	fromZero, err := ComputeCommitmentHash(big.NewInt(0), label, nullifier, secret)
	require.NoError(t, err)
	require.Equal(t, fromZero, fromNil)
	require.Equal(t,
		common.HexToHash("0xa30dc5a116dd105095a33e459d08f2f436a4d01d9a7fecc08990fc698f230d88"),
		fromZero)

	// Value changes the hash.
	other, err := ComputeCommitmentHash(big.NewInt(101), label, nullifier, secret)
	require.NoError(t, err)
	require.NotEqual(t, got, other)
}

func TestComputeCommitmentHashRejectsBadValues(t *testing.T) {
	label := common.HexToHash("0x03")

	_, err := ComputeCommitmentHash(big.NewInt(-1), label, common.HexToHash("0x01"), common.HexToHash("0x02"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "non-negative")

	overflow := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = ComputeCommitmentHash(overflow, label, common.HexToHash("0x01"), common.HexToHash("0x02"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "256 bits")

	// Exactly 2^256-1 still fits.
	max := new(big.Int).Sub(overflow, big.NewInt(1))
	_, err = ComputeCommitmentHash(max, label, common.HexToHash("0x01"), common.HexToHash("0x02"))
	require.NoError(t, err)
}

func TestComputeScopeHash(t *testing.T) {
	pool := common.HexToAddress("0x6818809EefCe719E480a7526D76bD3e561526b46")

	got := ComputeScopeHash(1, pool)
	require.Equal(t,
		common.HexToHash("0x529b72c825b32bb13d62150ea82edc25aad12e8c523caf843408fa212c96daf1"),
		got)

	// Same pool address on a different chain is a different scope.
	require.NotEqual(t, got, ComputeScopeHash(100, pool))
}
