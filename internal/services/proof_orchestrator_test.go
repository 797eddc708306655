package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"pool-backend/internal/clients"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

// abiWords encodes an offset-prefixed static tuple the way the prover emits
// public values: one offset word followed by the 32-byte fields.
func abiWords(words ...common.Hash) string {
	var sb strings.Builder
	sb.WriteString("0x")
	offset := common.BigToHash(big.NewInt(32))
	sb.WriteString(hex.EncodeToString(offset[:]))
	for _, w := range words {
		sb.WriteString(hex.EncodeToString(w[:]))
	}
	return sb.String()
}

func proverOverHTTP(t *testing.T, handler http.HandlerFunc) (*ProofOrchestrator, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := &clients.ProverClient{BaseURL: srv.URL, Client: srv.Client()}
	return NewProofOrchestrator(client, testLogger()), srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestProveCommitment(t *testing.T) {
	value := big.NewInt(100)
	label := common.HexToHash("0x03")
	nullifier := common.HexToHash("0x01")
	secret := common.HexToHash("0x02")

	commitmentHash, err := utils.ComputeCommitmentHash(value, label, nullifier, secret)
	require.NoError(t, err)
	nullifierHash := utils.ComputeNullifierHash(nullifier)
	publicValues := abiWords(commitmentHash, label, common.BigToHash(value), nullifierHash)

	var gotPath string
	var gotReq clients.CommitmentProofRequest
	o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeJSON(t, w, clients.ProofResponse{
			RequestID:    "req-1",
			Success:      true,
			ProofData:    "0xproof",
			PublicValues: publicValues,
		})
	})

	proof, err := o.ProveCommitment(context.Background(), value, label, nullifier, secret)
	require.NoError(t, err)
	require.Equal(t, "/api/proof/commitment", gotPath)
	require.Equal(t, "100", gotReq.Value)
	require.Equal(t, label.Hex(), gotReq.Label)
	require.Equal(t, nullifier.Hex(), gotReq.Nullifier)
	require.Equal(t, secret.Hex(), gotReq.Secret)
	require.Equal(t, "0xproof", proof.ProofData)
	require.Equal(t, publicValues, proof.PublicValues)
}

func TestProveCommitmentRejectsBadValueLocally(t *testing.T) {
	var calls atomic.Int32
	o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := o.ProveCommitment(context.Background(), nil, common.Hash{}, common.Hash{}, common.Hash{})
	var invalid *types.ProofInvalidError
	require.ErrorAs(t, err, &invalid)

	_, err = o.ProveCommitment(context.Background(), big.NewInt(-1), common.Hash{}, common.Hash{}, common.Hash{})
	require.ErrorAs(t, err, &invalid)

	// Bad inputs never reach the prover.
	require.Zero(t, calls.Load())
}

func TestProveCommitmentProverRejection(t *testing.T) {
	msg := "constraint system unsatisfied"
	o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clients.ProofResponse{Success: false, ErrorMessage: &msg})
	})

	_, err := o.ProveCommitment(context.Background(), big.NewInt(1), common.Hash{}, common.HexToHash("0x01"), common.HexToHash("0x02"))
	var invalid *types.ProofInvalidError
	require.ErrorAs(t, err, &invalid)
	require.Contains(t, invalid.Reason, "constraint system unsatisfied")
}

func TestProveCommitmentUndecodablePublicValues(t *testing.T) {
	o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clients.ProofResponse{Success: true, ProofData: "0xproof", PublicValues: "0xdead"})
	})

	_, err := o.ProveCommitment(context.Background(), big.NewInt(1), common.Hash{}, common.HexToHash("0x01"), common.HexToHash("0x02"))
	var invalid *types.ProofInvalidError
	require.ErrorAs(t, err, &invalid)
	require.Contains(t, invalid.Reason, "undecodable")
}

func TestTransportErrorClassification(t *testing.T) {
	t.Run("4xx is a rejected input", func(t *testing.T) {
		o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad request", http.StatusBadRequest)
		})
		_, err := o.ProveCommitment(context.Background(), big.NewInt(1), common.Hash{}, common.HexToHash("0x01"), common.HexToHash("0x02"))
		var invalid *types.ProofInvalidError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("5xx is unavailability", func(t *testing.T) {
		o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		})
		_, err := o.ProveCommitment(context.Background(), big.NewInt(1), common.Hash{}, common.HexToHash("0x01"), common.HexToHash("0x02"))
		var unavailable *types.ProverUnavailableError
		require.ErrorAs(t, err, &unavailable)
	})

	t.Run("connection failure is unavailability", func(t *testing.T) {
		o, srv := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {})
		srv.Close()
		_, err := o.ProveCommitment(context.Background(), big.NewInt(1), common.Hash{}, common.HexToHash("0x01"), common.HexToHash("0x02"))
		var unavailable *types.ProverUnavailableError
		require.ErrorAs(t, err, &unavailable)
	})
}

func withdrawalFixture(t *testing.T) (types.WithdrawalPreimage, types.WithdrawalInput) {
	t.Helper()
	preimage := types.WithdrawalPreimage{
		Value:     big.NewInt(100),
		Label:     common.HexToHash("0x03"),
		Nullifier: common.HexToHash("0x01"),
		Secret:    common.HexToHash("0x02"),
	}
	commitmentHash, err := utils.ComputeCommitmentHash(preimage.Value, preimage.Label, preimage.Nullifier, preimage.Secret)
	require.NoError(t, err)
	input := types.WithdrawalInput{
		CommitmentHash: commitmentHash,
		NullifierHash:  utils.ComputeNullifierHash(preimage.Nullifier),
		Recipient:      common.HexToAddress("0x742d35Cc6634C0532925a3b0F26750C66d78EB66"),
		WithdrawnValue: big.NewInt(40),
		StateRoot:      common.HexToHash("0xaa"),
		AllowlistRoot:  common.HexToHash("0xbb"),
		Context:        common.HexToHash("0xcc"),
	}
	return preimage, input
}

func TestProveWithdrawal(t *testing.T) {
	preimage, input := withdrawalFixture(t)

	newCommitment := common.HexToHash("0x77")
	publicValues := abiWords(
		input.StateRoot,
		input.NullifierHash,
		newCommitment,
		common.BigToHash(input.WithdrawnValue),
		common.BytesToHash(input.Recipient.Bytes()),
	)

	var gotReq clients.WithdrawalProofRequest
	o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/proof/withdrawal", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeJSON(t, w, clients.ProofResponse{
			Success:      true,
			ProofData:    "0xproof",
			PublicValues: publicValues,
		})
	})

	proof, err := o.ProveWithdrawal(context.Background(), preimage, input)
	require.NoError(t, err)
	require.Equal(t, "0xproof", proof.ProofData)
	require.Equal(t, input.NullifierHash.Hex(), proof.NullifierHash)
	require.Equal(t, "100", gotReq.Preimage.Value)
	require.Equal(t, "40", gotReq.Input.WithdrawnValue)
	require.Equal(t, input.CommitmentHash.Hex(), gotReq.Input.CommitmentHash)
}

func TestProveWithdrawalPreimageFailFast(t *testing.T) {
	var calls atomic.Int32
	o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	cases := []struct {
		name   string
		mutate func(*types.WithdrawalPreimage, *types.WithdrawalInput)
		reason string
	}{
		{"commitment hash mismatch", func(p *types.WithdrawalPreimage, in *types.WithdrawalInput) {
			in.CommitmentHash = common.HexToHash("0xbad")
		}, "commitment hash does not match"},
		{"nullifier hash mismatch", func(p *types.WithdrawalPreimage, in *types.WithdrawalInput) {
			in.NullifierHash = common.HexToHash("0xbad")
		}, "nullifier hash does not match"},
		{"overdraw", func(p *types.WithdrawalPreimage, in *types.WithdrawalInput) {
			in.WithdrawnValue = big.NewInt(101)
		}, "exceeds the commitment value"},
		{"zero withdrawal", func(p *types.WithdrawalPreimage, in *types.WithdrawalInput) {
			in.WithdrawnValue = big.NewInt(0)
		}, "positive integer"},
		{"missing preimage value", func(p *types.WithdrawalPreimage, in *types.WithdrawalInput) {
			p.Value = nil
		}, "non-negative integer"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			preimage, input := withdrawalFixture(t)
			tc.mutate(&preimage, &input)

			_, err := o.ProveWithdrawal(context.Background(), preimage, input)
			var invalid *types.ProofInvalidError
			require.ErrorAs(t, err, &invalid)
			require.Contains(t, invalid.Reason, tc.reason)
		})
	}

	// None of the malformed requests reached the prover.
	require.Zero(t, calls.Load())
}

func TestProveWithdrawalResponseNullifierMismatch(t *testing.T) {
	preimage, input := withdrawalFixture(t)

	publicValues := abiWords(
		input.StateRoot,
		common.HexToHash("0xother"), // not the requested nullifier hash
		common.HexToHash("0x77"),
		common.BigToHash(input.WithdrawnValue),
		common.BytesToHash(input.Recipient.Bytes()),
	)
	o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, clients.ProofResponse{Success: true, ProofData: "0xproof", PublicValues: publicValues})
	})

	_, err := o.ProveWithdrawal(context.Background(), preimage, input)
	var invalid *types.ProofInvalidError
	require.ErrorAs(t, err, &invalid)
	require.Contains(t, invalid.Reason, "different nullifier hash")
}

func TestVerifyCommitment(t *testing.T) {
	t.Run("missing proof data", func(t *testing.T) {
		o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {})
		_, err := o.VerifyCommitment(context.Background(), nil)
		var invalid *types.ProofInvalidError
		require.ErrorAs(t, err, &invalid)

		_, err = o.VerifyCommitment(context.Background(), &types.CommitmentProof{ProofData: "0xproof"})
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("verdict passes through", func(t *testing.T) {
		valid := true
		o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/proof/verify/commitment", r.URL.Path)
			writeJSON(t, w, clients.VerifyProofResponse{Success: true, Valid: valid})
		})
		proof := &types.CommitmentProof{ProofData: "0xproof", PublicValues: "0xvals"}

		ok, err := o.VerifyCommitment(context.Background(), proof)
		require.NoError(t, err)
		require.True(t, ok)

		// A clean "invalid" verdict is an answer, not an error.
		valid = false
		ok, err = o.VerifyCommitment(context.Background(), proof)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("prover failure is an error, not a verdict", func(t *testing.T) {
		msg := "malformed proof"
		o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, clients.VerifyProofResponse{Success: false, ErrorMessage: &msg})
		})
		_, err := o.VerifyCommitment(context.Background(), &types.CommitmentProof{ProofData: "0xproof", PublicValues: "0xvals"})
		var invalid *types.ProofInvalidError
		require.ErrorAs(t, err, &invalid)
		require.Contains(t, invalid.Reason, "malformed proof")
	})
}

func TestVerifyWithdrawal(t *testing.T) {
	o, _ := proverOverHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/proof/verify/withdrawal", r.URL.Path)
		writeJSON(t, w, clients.VerifyProofResponse{Success: true, Valid: true})
	})

	ok, err := o.VerifyWithdrawal(context.Background(), &types.WithdrawalProof{ProofData: "0xproof", PublicValues: "0xvals"})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = o.VerifyWithdrawal(context.Background(), &types.WithdrawalProof{})
	var invalid *types.ProofInvalidError
	require.ErrorAs(t, err, &invalid)
}
