package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestChainOperationMergeCalls(t *testing.T) {
	op := &ChainOperation{
		ChainID: 1,
		Calls:   []PoolCall{{ChainID: 1, To: common.HexToAddress("0x01"), Value: big.NewInt(10)}},
	}

	op.MergeCalls([]PoolCall{
		{ChainID: 1, To: common.HexToAddress("0x02"), Value: big.NewInt(20)},
		{ChainID: 1, To: common.HexToAddress("0x03")},
	})
	require.Len(t, op.Calls, 3)
	require.Equal(t, common.HexToAddress("0x01"), op.Calls[0].To)
	require.Equal(t, common.HexToAddress("0x03"), op.Calls[2].To)

	op.MergeCalls(nil)
	require.Len(t, op.Calls, 3)
}

func TestChainOperationTotalValue(t *testing.T) {
	op := &ChainOperation{}
	require.Zero(t, op.TotalValue().Sign())

	op.Calls = []PoolCall{
		{Value: big.NewInt(10)},
		{Value: nil}, // value-less call contributes nothing
		{Value: big.NewInt(32)},
	}
	require.Equal(t, "42", op.TotalValue().String())
}
