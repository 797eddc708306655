package handlers

import (
	"errors"
	"net/http"

	"pool-backend/internal/dto"
	"pool-backend/internal/models"
	"pool-backend/internal/services"
	"pool-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ProofHandler serves the proof queue and synchronous verification.
type ProofHandler struct {
	tasks        *services.ProofTaskService
	orchestrator *services.ProofOrchestrator
	logger       *logrus.Logger
}

func NewProofHandler(
	tasks *services.ProofTaskService,
	orchestrator *services.ProofOrchestrator,
	logger *logrus.Logger,
) *ProofHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ProofHandler{
		tasks:        tasks,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// EnqueueCommitmentProofHandler queues an asynchronous commitment (ragequit)
// proof. The preimage never reaches the database; a restart before completion
// fails the task with a resubmit hint.
// POST /api/proofs/commitment
func (h *ProofHandler) EnqueueCommitmentProofHandler(c *gin.Context) {
	var req dto.CommitmentProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ProofTaskResponse{
			Success: false,
			Message: "Invalid request: " + err.Error(),
		})
		return
	}

	value, err := parseUint256("value", req.Value)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ProofTaskResponse{Success: false, Message: err.Error()})
		return
	}
	label, err := parseHash32("label", req.Label)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ProofTaskResponse{Success: false, Message: err.Error()})
		return
	}
	nullifier, err := parseHash32("nullifier", req.Nullifier)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ProofTaskResponse{Success: false, Message: err.Error()})
		return
	}
	secret, err := parseHash32("secret", req.Secret)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ProofTaskResponse{Success: false, Message: err.Error()})
		return
	}

	accountKey, err := optionalAccountKey(req.AccountKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ProofTaskResponse{Success: false, Message: err.Error()})
		return
	}

	taskID, err := h.tasks.EnqueueCommitmentProof(c.Request.Context(), accountKey, value, label, nullifier, secret)
	if err != nil {
		h.logger.WithError(err).Error("Failed to enqueue commitment proof")
		c.JSON(http.StatusInternalServerError, dto.ProofTaskResponse{
			Success: false,
			Message: "Failed to enqueue proof task: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.ProofTaskResponse{
		Success: true,
		TaskID:  taskID,
		Status:  string(models.ProofTaskStatusPending),
		Message: "Commitment proof task queued",
	})
}

// EnqueueWithdrawalProofHandler queues an asynchronous withdrawal proof.
// POST /api/proofs/withdrawal
func (h *ProofHandler) EnqueueWithdrawalProofHandler(c *gin.Context) {
	var req dto.WithdrawalProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ProofTaskResponse{
			Success: false,
			Message: "Invalid request: " + err.Error(),
		})
		return
	}

	preimage, err := parseWithdrawalPreimage(req.Preimage)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ProofTaskResponse{Success: false, Message: err.Error()})
		return
	}
	input, err := parseWithdrawalInput(req.Input)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ProofTaskResponse{Success: false, Message: err.Error()})
		return
	}

	accountKey, err := optionalAccountKey(req.AccountKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ProofTaskResponse{Success: false, Message: err.Error()})
		return
	}

	taskID, err := h.tasks.EnqueueWithdrawalProof(c.Request.Context(), accountKey, preimage, input)
	if err != nil {
		h.logger.WithError(err).Error("Failed to enqueue withdrawal proof")
		c.JSON(http.StatusInternalServerError, dto.ProofTaskResponse{
			Success: false,
			Message: "Failed to enqueue proof task: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.ProofTaskResponse{
		Success: true,
		TaskID:  taskID,
		Status:  string(models.ProofTaskStatusPending),
		Message: "Withdrawal proof task queued",
	})
}

// TaskStatusHandler returns one queued task. The stored request data is the
// redacted descriptor, so nothing secret can leak here.
// GET /api/proofs/tasks/:id
func (h *ProofHandler) TaskStatusHandler(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Task id is required",
		})
		return
	}

	task, err := h.tasks.GetTask(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Proof task not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    taskView(task),
	})
}

// VerifyCommitmentHandler verifies a commitment proof synchronously.
// Verified=false with HTTP 200 means the prover answered and rejected it;
// 502 means the prover could not be reached.
// POST /api/proofs/verify/commitment
func (h *ProofHandler) VerifyCommitmentHandler(c *gin.Context) {
	var req dto.VerifyCommitmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.VerifyResponse{
			Success: false,
			Message: "Invalid request: " + err.Error(),
		})
		return
	}

	verified, err := h.orchestrator.VerifyCommitment(c.Request.Context(), &types.CommitmentProof{
		ProofData:    req.ProofData,
		PublicValues: req.PublicValues,
	})
	h.respondVerify(c, verified, err)
}

// VerifyWithdrawalHandler verifies a withdrawal proof synchronously.
// POST /api/proofs/verify/withdrawal
func (h *ProofHandler) VerifyWithdrawalHandler(c *gin.Context) {
	var req dto.VerifyWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.VerifyResponse{
			Success: false,
			Message: "Invalid request: " + err.Error(),
		})
		return
	}

	verified, err := h.orchestrator.VerifyWithdrawal(c.Request.Context(), &types.WithdrawalProof{
		ProofData:    req.ProofData,
		PublicValues: req.PublicValues,
	})
	h.respondVerify(c, verified, err)
}

// respondVerify maps the verdict-vs-error contract onto HTTP statuses.
func (h *ProofHandler) respondVerify(c *gin.Context, verified bool, err error) {
	if err != nil {
		var unavailable *types.ProverUnavailableError
		if errors.As(err, &unavailable) {
			c.JSON(http.StatusBadGateway, dto.VerifyResponse{
				Success: false,
				Message: "Prover unavailable: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, dto.VerifyResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.VerifyResponse{
		Success:  true,
		Verified: verified,
	})
}

// optionalAccountKey parses the optional routing key; empty means no routing.
func optionalAccountKey(value string) (common.Hash, error) {
	if value == "" {
		return common.Hash{}, nil
	}
	return parseHash32("account_key", value)
}

func parseWithdrawalPreimage(in dto.WithdrawalPreimageInput) (types.WithdrawalPreimage, error) {
	var preimage types.WithdrawalPreimage

	value, err := parseUint256("preimage.value", in.Value)
	if err != nil {
		return preimage, err
	}
	label, err := parseHash32("preimage.label", in.Label)
	if err != nil {
		return preimage, err
	}
	nullifier, err := parseHash32("preimage.nullifier", in.Nullifier)
	if err != nil {
		return preimage, err
	}
	secret, err := parseHash32("preimage.secret", in.Secret)
	if err != nil {
		return preimage, err
	}

	preimage.Value = value
	preimage.Label = label
	preimage.Nullifier = nullifier
	preimage.Secret = secret
	return preimage, nil
}

func parseWithdrawalInput(in dto.WithdrawalPublicInput) (types.WithdrawalInput, error) {
	var input types.WithdrawalInput

	commitmentHash, err := parseHash32("input.commitment_hash", in.CommitmentHash)
	if err != nil {
		return input, err
	}
	nullifierHash, err := parseHash32("input.nullifier_hash", in.NullifierHash)
	if err != nil {
		return input, err
	}
	recipient, err := parseAddress("input.recipient", in.Recipient)
	if err != nil {
		return input, err
	}
	withdrawnValue, err := parseUint256("input.withdrawn_value", in.WithdrawnValue)
	if err != nil {
		return input, err
	}
	stateRoot, err := parseHash32("input.state_root", in.StateRoot)
	if err != nil {
		return input, err
	}
	allowlistRoot, err := parseHash32("input.allowlist_root", in.AllowlistRoot)
	if err != nil {
		return input, err
	}
	contextHash, err := parseHash32("input.context", in.Context)
	if err != nil {
		return input, err
	}

	input.CommitmentHash = commitmentHash
	input.NullifierHash = nullifierHash
	input.Recipient = recipient
	input.WithdrawnValue = withdrawnValue
	input.StateRoot = stateRoot
	input.AllowlistRoot = allowlistRoot
	input.Context = contextHash
	return input, nil
}

// taskView redacts a queue row onto the wire shape.
func taskView(task *models.ProofTask) dto.ProofTaskView {
	view := dto.ProofTaskView{
		ID:            task.ID,
		Type:          string(task.Type),
		Status:        string(task.Status),
		NullifierHash: task.NullifierHash,
		ProofData:     task.ProofData,
		PublicValues:  task.PublicValues,
		RetryCount:    task.RetryCount,
		MaxRetries:    task.MaxRetries,
		LastError:     task.LastError,
		CreatedAt:     task.CreatedAt.Unix(),
	}
	if task.CompletedAt != nil {
		view.CompletedAt = task.CompletedAt.Unix()
	}
	return view
}
