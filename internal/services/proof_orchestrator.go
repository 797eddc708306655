package services

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/clients"
	"pool-backend/internal/metrics"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

// ProofOrchestrator wraps the external prover service with local preimage
// validation and a typed error surface. It holds no state: every call is
// independent and safe to run concurrently.
type ProofOrchestrator struct {
	prover *clients.ProverClient
	logger *logrus.Logger
}

// NewProofOrchestrator creates a proof orchestrator over the given prover
// client.
func NewProofOrchestrator(prover *clients.ProverClient, logger *logrus.Logger) *ProofOrchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ProofOrchestrator{
		prover: prover,
		logger: logger,
	}
}

// ProveCommitment requests a commitment (ragequit) proof for the given
// preimage material.
func (o *ProofOrchestrator) ProveCommitment(ctx context.Context, value *big.Int, label, nullifier, secret common.Hash) (*types.CommitmentProof, error) {
	if value == nil || value.Sign() < 0 {
		return nil, &types.ProofInvalidError{Operation: "prove_commitment", Reason: "commitment value must be a non-negative integer"}
	}

	req := &clients.CommitmentProofRequest{
		Value:     value.String(),
		Label:     label.Hex(),
		Nullifier: nullifier.Hex(),
		Secret:    secret.Hex(),
	}

	start := time.Now()
	resp, err := o.prover.ProveCommitment(ctx, req)
	metrics.ProverRequestDuration.WithLabelValues("prove_commitment").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, o.classifyTransport("prove_commitment", err)
	}
	if !resp.Success {
		return nil, &types.ProofInvalidError{Operation: "prove_commitment", Reason: respError(resp.ErrorMessage)}
	}

	parsed, err := types.ParseCommitmentProofValues(resp.PublicValues)
	if err != nil {
		return nil, &types.ProofInvalidError{Operation: "prove_commitment", Reason: "prover returned undecodable public values", Cause: err}
	}

	o.logger.WithFields(logrus.Fields{
		"request_id":     resp.RequestID,
		"commitment":     parsed.CommitmentHash,
		"nullifier_hash": parsed.NullifierHash,
	}).Info("Commitment proof generated")

	return &types.CommitmentProof{
		ProofData:    resp.ProofData,
		PublicValues: resp.PublicValues,
	}, nil
}

// ProveWithdrawal requests a withdrawal proof. Both hashes the input claims
// are re-derived from the preimage locally first; a mismatch never reaches
// the prover.
func (o *ProofOrchestrator) ProveWithdrawal(ctx context.Context, preimage types.WithdrawalPreimage, input types.WithdrawalInput) (*types.WithdrawalProof, error) {
	if err := o.checkPreimage(preimage, input); err != nil {
		return nil, err
	}

	req := &clients.WithdrawalProofRequest{}
	req.Preimage.Value = preimage.Value.String()
	req.Preimage.Label = preimage.Label.Hex()
	req.Preimage.Nullifier = preimage.Nullifier.Hex()
	req.Preimage.Secret = preimage.Secret.Hex()
	req.Input.CommitmentHash = input.CommitmentHash.Hex()
	req.Input.NullifierHash = input.NullifierHash.Hex()
	req.Input.Recipient = input.Recipient.Hex()
	req.Input.WithdrawnValue = input.WithdrawnValue.String()
	req.Input.StateRoot = input.StateRoot.Hex()
	req.Input.AllowlistRoot = input.AllowlistRoot.Hex()
	req.Input.Context = input.Context.Hex()

	start := time.Now()
	resp, err := o.prover.ProveWithdrawal(ctx, req)
	metrics.ProverRequestDuration.WithLabelValues("prove_withdrawal").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, o.classifyTransport("prove_withdrawal", err)
	}
	if !resp.Success {
		return nil, &types.ProofInvalidError{Operation: "prove_withdrawal", Reason: respError(resp.ErrorMessage)}
	}

	parsed, err := types.ParseWithdrawalProofValues(resp.PublicValues)
	if err != nil {
		return nil, &types.ProofInvalidError{Operation: "prove_withdrawal", Reason: "prover returned undecodable public values", Cause: err}
	}
	if common.HexToHash(parsed.NullifierHash) != input.NullifierHash {
		return nil, &types.ProofInvalidError{Operation: "prove_withdrawal", Reason: "prover public values carry a different nullifier hash than requested"}
	}

	o.logger.WithFields(logrus.Fields{
		"request_id":     resp.RequestID,
		"nullifier_hash": parsed.NullifierHash,
		"recipient":      parsed.Recipient,
		"withdrawn":      parsed.WithdrawnValue,
	}).Info("Withdrawal proof generated")

	return &types.WithdrawalProof{
		ProofData:     resp.ProofData,
		PublicValues:  resp.PublicValues,
		NullifierHash: parsed.NullifierHash,
	}, nil
}

// VerifyCommitment asks the prover to verify a commitment proof. The bool is
// the verification verdict; an error means no verdict could be obtained.
func (o *ProofOrchestrator) VerifyCommitment(ctx context.Context, proof *types.CommitmentProof) (bool, error) {
	if proof == nil || proof.ProofData == "" || proof.PublicValues == "" {
		return false, &types.ProofInvalidError{Operation: "verify_commitment", Reason: "proof data and public values are required"}
	}

	start := time.Now()
	resp, err := o.prover.VerifyCommitment(ctx, &clients.VerifyProofRequest{
		ProofData:    proof.ProofData,
		PublicValues: proof.PublicValues,
	})
	metrics.ProverRequestDuration.WithLabelValues("verify_commitment").Observe(time.Since(start).Seconds())
	if err != nil {
		return false, o.classifyTransport("verify_commitment", err)
	}
	if !resp.Success {
		return false, &types.ProofInvalidError{Operation: "verify_commitment", Reason: respError(resp.ErrorMessage)}
	}
	return resp.Valid, nil
}

// VerifyWithdrawal asks the prover to verify a withdrawal proof.
func (o *ProofOrchestrator) VerifyWithdrawal(ctx context.Context, proof *types.WithdrawalProof) (bool, error) {
	if proof == nil || proof.ProofData == "" || proof.PublicValues == "" {
		return false, &types.ProofInvalidError{Operation: "verify_withdrawal", Reason: "proof data and public values are required"}
	}

	start := time.Now()
	resp, err := o.prover.VerifyWithdrawal(ctx, &clients.VerifyProofRequest{
		ProofData:    proof.ProofData,
		PublicValues: proof.PublicValues,
	})
	metrics.ProverRequestDuration.WithLabelValues("verify_withdrawal").Observe(time.Since(start).Seconds())
	if err != nil {
		return false, o.classifyTransport("verify_withdrawal", err)
	}
	if !resp.Success {
		return false, &types.ProofInvalidError{Operation: "verify_withdrawal", Reason: respError(resp.ErrorMessage)}
	}
	return resp.Valid, nil
}

// checkPreimage re-derives the commitment hash and nullifier hash from the
// preimage and compares them to what the input claims.
func (o *ProofOrchestrator) checkPreimage(preimage types.WithdrawalPreimage, input types.WithdrawalInput) error {
	if preimage.Value == nil || preimage.Value.Sign() < 0 {
		return &types.ProofInvalidError{Operation: "prove_withdrawal", Reason: "preimage value must be a non-negative integer"}
	}
	if input.WithdrawnValue == nil || input.WithdrawnValue.Sign() <= 0 {
		return &types.ProofInvalidError{Operation: "prove_withdrawal", Reason: "withdrawn value must be a positive integer"}
	}
	if input.WithdrawnValue.Cmp(preimage.Value) > 0 {
		return &types.ProofInvalidError{Operation: "prove_withdrawal", Reason: "withdrawn value exceeds the commitment value"}
	}

	commitmentHash, err := utils.ComputeCommitmentHash(preimage.Value, preimage.Label, preimage.Nullifier, preimage.Secret)
	if err != nil {
		return &types.ProofInvalidError{Operation: "prove_withdrawal", Reason: "preimage does not hash", Cause: err}
	}
	if commitmentHash != input.CommitmentHash {
		o.logger.WithFields(logrus.Fields{
			"expected": commitmentHash.Hex(),
			"claimed":  input.CommitmentHash.Hex(),
		}).Warn("Commitment hash mismatch, refusing to call prover")
		return &types.ProofInvalidError{Operation: "prove_withdrawal", Reason: "commitment hash does not match the preimage"}
	}

	nullifierHash := utils.ComputeNullifierHash(preimage.Nullifier)
	if nullifierHash != input.NullifierHash {
		o.logger.WithFields(logrus.Fields{
			"expected": nullifierHash.Hex(),
			"claimed":  input.NullifierHash.Hex(),
		}).Warn("Nullifier hash mismatch, refusing to call prover")
		return &types.ProofInvalidError{Operation: "prove_withdrawal", Reason: "nullifier hash does not match the preimage nullifier"}
	}
	return nil
}

// classifyTransport sorts a prover client error into the retryable /
// non-retryable halves of the error surface. Anything that never produced an
// HTTP status, plus 5xx answers, counts as the service being unavailable.
func (o *ProofOrchestrator) classifyTransport(operation string, err error) error {
	var httpErr *clients.ProverHTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= http.StatusInternalServerError {
			return &types.ProverUnavailableError{Operation: operation, Cause: err}
		}
		return &types.ProofInvalidError{Operation: operation, Reason: "prover rejected the request", Cause: err}
	}
	return &types.ProverUnavailableError{Operation: operation, Cause: err}
}

func respError(msg *string) string {
	if msg != nil && *msg != "" {
		return *msg
	}
	return "prover reported failure without detail"
}
