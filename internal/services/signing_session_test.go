package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"pool-backend/internal/clients"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

const sessionTestChain = uint64(11155111)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// rpcNode serves a minimal JSON-RPC node: respond returns the hex result for
// a method, or an error message for a JSON-RPC error response.
func rpcNode(t *testing.T, respond func(method string) (result string, errMsg string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, errMsg := respond(req.Method)
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		if errMsg != "" {
			resp["error"] = map[string]interface{}{"code": -32000, "message": errMsg}
		} else {
			resp["result"] = result
		}
		writeJSON(t, w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// sessionFactoryOverRPC points the test chain's RPC endpoint at the fake node
// and returns a factory dialing it. The registry endpoint is restored on
// cleanup. The gas tracker has no entry for the test chain, so price lookups
// deterministically fall back to the node suggestion.
func sessionFactoryOverRPC(t *testing.T, node *httptest.Server) (*EVMSigningSessionFactory, *utils.PoolDeployment) {
	t.Helper()
	deployment, ok := utils.GlobalChainRegistry.GetByChainID(sessionTestChain)
	require.True(t, ok)

	original := append([]string(nil), deployment.RPCEndpoints...)
	require.NoError(t, utils.GlobalChainRegistry.OverrideRPCEndpoints(sessionTestChain, []string{node.URL}))
	t.Cleanup(func() {
		require.NoError(t, utils.GlobalChainRegistry.OverrideRPCEndpoints(sessionTestChain, original))
	})

	pool := NewChainClientPool(utils.GlobalChainRegistry, testLogger())
	t.Cleanup(pool.Close)
	return NewEVMSigningSessionFactory(pool, clients.NewGasPriceClient(), testLogger()), deployment
}

func sessionOperation(calls int) *types.ChainOperation {
	op := &types.ChainOperation{
		ChainID: sessionTestChain,
		From:    testAccount,
		Nonce:   7,
	}
	for i := 0; i < calls; i++ {
		op.Calls = append(op.Calls, poolCall(sessionTestChain, int64(i+1)))
	}
	return op
}

func TestEstimateComputesGasParameters(t *testing.T) {
	var estimateCalls atomic.Int32
	node := rpcNode(t, func(method string) (string, string) {
		switch method {
		case "eth_estimateGas":
			// 21000 for the first call, 30000 for the second.
			if estimateCalls.Add(1) == 1 {
				return "0x5208", ""
			}
			return "0x7530", ""
		case "eth_gasPrice":
			return "0x3b9aca00", "" // 1 gwei
		}
		return "", "unexpected method: " + method
	})
	factory, deployment := sessionFactoryOverRPC(t, node)

	op := sessionOperation(2)
	session, err := factory.NewSession(context.Background(), testAccount, deployment, op, nil)
	require.NoError(t, err)

	var updates atomic.Int32
	session.OnUpdate(func(*types.ChainOperation) { updates.Add(1) })

	require.NoError(t, session.Estimate(context.Background()))
	require.Equal(t, int32(2), estimateCalls.Load())

	// Summed per-call gas with 2x headroom; node suggestion +20%.
	got := session.Operation()
	require.Equal(t, uint64((21000+30000)*2), got.GasLimit)
	require.Equal(t, "1200000000", got.GasPrice.String())
	require.Equal(t, int32(1), updates.Load())
	require.False(t, session.IsEstimating())
}

func TestEstimateFailureNotifiesAndRecovers(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	node := rpcNode(t, func(method string) (string, string) {
		if method == "eth_estimateGas" && failing.Load() {
			return "", "execution reverted"
		}
		switch method {
		case "eth_estimateGas":
			return "0x5208", ""
		case "eth_gasPrice":
			return "0x3b9aca00", ""
		}
		return "", "unexpected method: " + method
	})
	factory, deployment := sessionFactoryOverRPC(t, node)

	session, err := factory.NewSession(context.Background(), testAccount, deployment, sessionOperation(1), nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	session.OnError(func(err error) { errCh <- err })

	err = session.Estimate(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "gas estimation failed for call 0")
	require.ErrorContains(t, <-errCh, "execution reverted")
	require.False(t, session.IsEstimating())
	require.Zero(t, session.Operation().GasLimit)

	// A failed estimation leaves the session usable.
	failing.Store(false)
	require.NoError(t, session.Estimate(context.Background()))
	require.Equal(t, uint64(42000), session.Operation().GasLimit)
}

func TestEstimateInvalidatesSignature(t *testing.T) {
	node := rpcNode(t, func(method string) (string, string) {
		switch method {
		case "eth_estimateGas":
			return "0x5208", ""
		case "eth_gasPrice":
			return "0x3b9aca00", ""
		}
		return "", "unexpected method: " + method
	})
	factory, deployment := sessionFactoryOverRPC(t, node)

	session, err := factory.NewSession(context.Background(), testAccount, deployment, sessionOperation(1), nil)
	require.NoError(t, err)

	require.NoError(t, session.Estimate(context.Background()))
	require.NoError(t, session.AttachSignature([]byte{0x01, 0x02}))
	require.True(t, session.Signed())

	// Re-estimation reprices the operation, so the old signature is dropped.
	require.NoError(t, session.Estimate(context.Background()))
	require.False(t, session.Signed())
}

func TestAttachSignaturePreconditions(t *testing.T) {
	node := rpcNode(t, func(method string) (string, string) {
		switch method {
		case "eth_estimateGas":
			return "0x5208", ""
		case "eth_gasPrice":
			return "0x3b9aca00", ""
		}
		return "", "unexpected method: " + method
	})
	factory, deployment := sessionFactoryOverRPC(t, node)

	session, err := factory.NewSession(context.Background(), testAccount, deployment, sessionOperation(1), nil)
	require.NoError(t, err)

	// Nothing estimated yet: there is no operation shape to sign.
	require.ErrorContains(t, session.AttachSignature([]byte{0x01}), "no estimate")

	require.NoError(t, session.Estimate(context.Background()))
	require.ErrorContains(t, session.AttachSignature(nil), "empty signature")
	require.NoError(t, session.AttachSignature([]byte{0x01}))
	require.ErrorContains(t, session.AttachSignature([]byte{0x02}), "already signed")

	// A signed session refuses call merges until reset.
	require.ErrorContains(t, session.Update([]types.PoolCall{poolCall(sessionTestChain, 9)}), "already signed")

	session.Reset()
	require.False(t, session.Signed())
	require.Zero(t, session.Operation().GasLimit)
	require.NoError(t, session.Update([]types.PoolCall{poolCall(sessionTestChain, 9)}))
}

func TestUpdateDropsEstimates(t *testing.T) {
	node := rpcNode(t, func(method string) (string, string) {
		switch method {
		case "eth_estimateGas":
			return "0x5208", ""
		case "eth_gasPrice":
			return "0x3b9aca00", ""
		}
		return "", "unexpected method: " + method
	})
	factory, deployment := sessionFactoryOverRPC(t, node)

	session, err := factory.NewSession(context.Background(), testAccount, deployment, sessionOperation(2), nil)
	require.NoError(t, err)
	require.NoError(t, session.Estimate(context.Background()))
	require.Equal(t, uint64(21000*2*2), session.Operation().GasLimit)

	require.NoError(t, session.Update([]types.PoolCall{poolCall(sessionTestChain, 3)}))
	op := session.Operation()
	require.Len(t, op.Calls, 3)
	require.Zero(t, op.GasLimit)
	require.Nil(t, op.GasPrice)

	// The next estimation covers the grown batch.
	require.NoError(t, session.Estimate(context.Background()))
	require.Equal(t, uint64(21000*3*2), session.Operation().GasLimit)
}

type stubPaymasterResolver struct {
	cfg *types.PaymasterConfig
	err error
}

func (s *stubPaymasterResolver) ResolvePaymaster(context.Context, common.Address, uint64) (*types.PaymasterConfig, error) {
	return s.cfg, s.err
}

func TestFactoryAttachesPaymasterHook(t *testing.T) {
	node := rpcNode(t, func(string) (string, string) { return "", "no RPC expected" })
	factory, deployment := sessionFactoryOverRPC(t, node)

	sponsor := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	op := sessionOperation(1)
	_, err := factory.NewSession(context.Background(), testAccount, deployment, op, &stubPaymasterResolver{
		cfg: &types.PaymasterConfig{Address: sponsor},
	})
	require.NoError(t, err)
	require.Equal(t, "paymaster:"+sponsor.Hex(), op.PreExecutionHook)
}

func TestFactoryPaymasterFailureIsBestEffort(t *testing.T) {
	node := rpcNode(t, func(string) (string, string) { return "", "no RPC expected" })
	factory, deployment := sessionFactoryOverRPC(t, node)

	op := sessionOperation(1)
	session, err := factory.NewSession(context.Background(), testAccount, deployment, op, &stubPaymasterResolver{
		err: errors.New("sponsorship service down"),
	})
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Empty(t, op.PreExecutionHook)

	// No resolver at all: the operation simply pays its own gas.
	op = sessionOperation(1)
	_, err = factory.NewSession(context.Background(), testAccount, deployment, op, nil)
	require.NoError(t, err)
	require.Empty(t, op.PreExecutionHook)

	_, err = factory.NewSession(context.Background(), testAccount, deployment, nil, nil)
	require.ErrorContains(t, err, "operation is required")
}
