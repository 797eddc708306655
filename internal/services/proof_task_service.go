package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"pool-backend/internal/clients"
	"pool-backend/internal/interfaces"
	"pool-backend/internal/metrics"
	"pool-backend/internal/models"
	"pool-backend/internal/repository"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

const (
	proofPollInterval  = 5 * time.Second
	proofStuckInterval = time.Minute
	proofStuckCutoff   = 10 * time.Minute
	proofBatchSize     = 10
	proveTimeout       = 10 * time.Minute

	commitmentTaskPriority = 100
	withdrawalTaskPriority = 50
)

// taskDescriptor is the non-sensitive summary persisted with a task. Proof
// preimages never reach the database; they live in memory until the task
// resolves.
type taskDescriptor struct {
	AccountKey     string `json:"accountKey"`
	Label          string `json:"label,omitempty"`
	Value          string `json:"value,omitempty"`
	CommitmentHash string `json:"commitmentHash,omitempty"`
	Recipient      string `json:"recipient,omitempty"`
	WithdrawnValue string `json:"withdrawnValue,omitempty"`
}

// taskPayload holds the in-memory proving material for one task.
type taskPayload struct {
	accountKey string

	// commitment tasks
	value     *big.Int
	label     common.Hash
	nullifier common.Hash
	secret    common.Hash

	// withdrawal tasks
	preimage *types.WithdrawalPreimage
	input    *types.WithdrawalInput
}

// ProofTaskService runs proof generation asynchronously: requests enqueue as
// database tasks, a polling worker drives them through the prover, and
// outcomes fan out over NATS and websocket pushes.
type ProofTaskService struct {
	tasks  repository.ProofTaskRepository
	prover interfaces.Prover
	push   *WebSocketPushService
	nats   *clients.NATSClient
	logger *logrus.Logger

	payloadMu sync.RWMutex
	payloads  map[string]*taskPayload

	processingMu sync.RWMutex
	processing   map[string]bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewProofTaskService wires the proof task worker. The NATS client and push
// service may be nil; completion fan-out is skipped without them.
func NewProofTaskService(
	tasks repository.ProofTaskRepository,
	prover interfaces.Prover,
	push *WebSocketPushService,
	natsClient *clients.NATSClient,
	logger *logrus.Logger,
) *ProofTaskService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ProofTaskService{
		tasks:      tasks,
		prover:     prover,
		push:       push,
		nats:       natsClient,
		logger:     logger,
		payloads:   make(map[string]*taskPayload),
		processing: make(map[string]bool),
		stopChan:   make(chan struct{}),
	}
}

// Start launches the polling worker and requeues tasks a previous process
// left in processing state.
func (s *ProofTaskService) Start() {
	s.logger.Info("Starting proof task worker")

	if requeued, err := s.tasks.RequeueStuck(context.Background(), 0); err != nil {
		s.logger.WithError(err).Warn("Orphaned proof task recovery failed")
	} else if requeued > 0 {
		s.logger.WithField("count", requeued).Info("Requeued proof tasks orphaned by restart")
	}

	s.wg.Add(1)
	go s.processTasks()

	s.logger.Info("Proof task worker started")
}

// Stop halts the worker and waits for in-flight tasks to settle.
func (s *ProofTaskService) Stop() {
	s.logger.Info("Stopping proof task worker")
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("Proof task worker stopped")
}

// EnqueueCommitmentProof queues a commitment proof. The preimage stays in
// memory; only the public descriptor is persisted.
func (s *ProofTaskService) EnqueueCommitmentProof(ctx context.Context, accountKey common.Hash, value *big.Int, label, nullifier, secret common.Hash) (string, error) {
	if value == nil || value.Sign() < 0 {
		return "", fmt.Errorf("commitment value must be a non-negative integer")
	}

	descriptor, err := json.Marshal(taskDescriptor{
		AccountKey: accountKey.Hex(),
		Label:      label.Hex(),
		Value:      value.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal task descriptor: %w", err)
	}

	task := &models.ProofTask{
		ID:            uuid.New().String(),
		Type:          models.ProofTaskTypeCommitment,
		Status:        models.ProofTaskStatusPending,
		RequestData:   string(descriptor),
		NullifierHash: utils.ComputeNullifierHash(nullifier).Hex(),
		MaxRetries:    3,
		Priority:      commitmentTaskPriority,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return "", fmt.Errorf("failed to enqueue commitment proof task: %w", err)
	}

	s.storePayload(task.ID, &taskPayload{
		accountKey: accountKey.Hex(),
		value:      new(big.Int).Set(value),
		label:      label,
		nullifier:  nullifier,
		secret:     secret,
	})

	metrics.ProofTasksTotal.WithLabelValues(string(task.Type), "enqueued").Inc()
	s.logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"label":   label.Hex(),
	}).Info("Commitment proof task enqueued")

	go s.processTask(task.ID)
	return task.ID, nil
}

// EnqueueWithdrawalProof queues a withdrawal proof. The preimage stays in
// memory; only the public descriptor is persisted.
func (s *ProofTaskService) EnqueueWithdrawalProof(ctx context.Context, accountKey common.Hash, preimage types.WithdrawalPreimage, input types.WithdrawalInput) (string, error) {
	if preimage.Value == nil {
		return "", fmt.Errorf("withdrawal preimage has no value")
	}
	if input.WithdrawnValue == nil {
		return "", fmt.Errorf("withdrawal input has no withdrawn value")
	}

	descriptor, err := json.Marshal(taskDescriptor{
		AccountKey:     accountKey.Hex(),
		Label:          preimage.Label.Hex(),
		CommitmentHash: input.CommitmentHash.Hex(),
		Recipient:      input.Recipient.Hex(),
		WithdrawnValue: input.WithdrawnValue.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal task descriptor: %w", err)
	}

	task := &models.ProofTask{
		ID:            uuid.New().String(),
		Type:          models.ProofTaskTypeWithdrawal,
		Status:        models.ProofTaskStatusPending,
		RequestData:   string(descriptor),
		NullifierHash: input.NullifierHash.Hex(),
		MaxRetries:    3,
		Priority:      withdrawalTaskPriority,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return "", fmt.Errorf("failed to enqueue withdrawal proof task: %w", err)
	}

	preimageCopy := preimage
	preimageCopy.Value = new(big.Int).Set(preimage.Value)
	inputCopy := input
	inputCopy.WithdrawnValue = new(big.Int).Set(input.WithdrawnValue)

	s.storePayload(task.ID, &taskPayload{
		accountKey: accountKey.Hex(),
		preimage:   &preimageCopy,
		input:      &inputCopy,
	})

	metrics.ProofTasksTotal.WithLabelValues(string(task.Type), "enqueued").Inc()
	s.logger.WithFields(logrus.Fields{
		"task_id":        task.ID,
		"nullifier_hash": task.NullifierHash,
	}).Info("Withdrawal proof task enqueued")

	go s.processTask(task.ID)
	return task.ID, nil
}

// GetTask returns a task for status queries.
func (s *ProofTaskService) GetTask(ctx context.Context, id string) (*models.ProofTask, error) {
	return s.tasks.GetByID(ctx, id)
}

// ListRecent pages through tasks, newest first.
func (s *ProofTaskService) ListRecent(ctx context.Context, page, limit int) ([]*models.ProofTask, int64, error) {
	return s.tasks.FindRecent(ctx, page, limit)
}

// RequeueStuck returns long-running processing tasks to pending. Exposed for
// the admin surface.
func (s *ProofTaskService) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.tasks.RequeueStuck(ctx, olderThan)
}

// processTasks is the polling loop: it claims runnable tasks and requeues
// stuck ones until Stop is called.
func (s *ProofTaskService) processTasks() {
	defer s.wg.Done()

	ticker := time.NewTicker(proofPollInterval)
	defer ticker.Stop()
	stuckTicker := time.NewTicker(proofStuckInterval)
	defer stuckTicker.Stop()

	for {
		select {
		case <-s.stopChan:
			return

		case <-stuckTicker.C:
			if requeued, err := s.tasks.RequeueStuck(context.Background(), proofStuckCutoff); err != nil {
				s.logger.WithError(err).Warn("Stuck proof task requeue failed")
			} else if requeued > 0 {
				s.logger.WithField("count", requeued).Warn("Requeued proof tasks stuck in processing")
			}

		case <-ticker.C:
			runnable, err := s.tasks.FindRunnable(context.Background(), proofBatchSize)
			if err != nil {
				s.logger.WithError(err).Error("Runnable proof task query failed")
				continue
			}
			for _, task := range runnable {
				s.processingMu.RLock()
				inFlight := s.processing[task.ID]
				s.processingMu.RUnlock()
				if !inFlight {
					go s.processTask(task.ID)
				}
			}
		}
	}
}

// processTask drives one task through the prover.
func (s *ProofTaskService) processTask(taskID string) {
	s.processingMu.Lock()
	if s.processing[taskID] {
		s.processingMu.Unlock()
		return
	}
	s.processing[taskID] = true
	s.processingMu.Unlock()

	defer func() {
		s.processingMu.Lock()
		delete(s.processing, taskID)
		s.processingMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), proveTimeout)
	defer cancel()

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return
		}
		s.logger.WithField("task_id", taskID).WithError(err).Error("Proof task lookup failed")
		return
	}
	if task.Status != models.ProofTaskStatusPending {
		return
	}

	payload := s.loadPayload(taskID)
	if payload == nil {
		// The proving material lived only in the process that accepted the
		// request. Without it the task can never prove.
		s.failTask(task, "proving material lost on restart, resubmit the proof request")
		return
	}

	if err := s.tasks.MarkProcessing(ctx, taskID); err != nil {
		s.logger.WithField("task_id", taskID).WithError(err).Error("Proof task claim failed")
		return
	}
	s.pushUpdate(payload.accountKey, task, models.ProofTaskStatusProcessing, "", task.RetryCount)

	s.logger.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": task.Type,
		"retry":     task.RetryCount,
	}).Info("Processing proof task")

	var (
		proofData     string
		publicValues  string
		nullifierHash string
		proveErr      error
	)
	switch task.Type {
	case models.ProofTaskTypeCommitment:
		var proof *types.CommitmentProof
		proof, proveErr = s.prover.ProveCommitment(ctx, payload.value, payload.label, payload.nullifier, payload.secret)
		if proveErr == nil {
			proofData = proof.ProofData
			publicValues = proof.PublicValues
			nullifierHash = task.NullifierHash
		}
	case models.ProofTaskTypeWithdrawal:
		var proof *types.WithdrawalProof
		proof, proveErr = s.prover.ProveWithdrawal(ctx, *payload.preimage, *payload.input)
		if proveErr == nil {
			proofData = proof.ProofData
			publicValues = proof.PublicValues
			nullifierHash = proof.NullifierHash
		}
	default:
		s.failTask(task, fmt.Sprintf("unknown task type %q", task.Type))
		return
	}

	if proveErr != nil {
		s.handleProveError(task, payload, proveErr)
		return
	}

	if err := s.tasks.MarkCompleted(ctx, taskID, proofData, publicValues, nullifierHash); err != nil {
		s.logger.WithField("task_id", taskID).WithError(err).Error("Proof task completion not persisted")
		return
	}
	s.dropPayload(taskID)

	metrics.ProofTasksTotal.WithLabelValues(string(task.Type), "completed").Inc()
	s.logger.WithFields(logrus.Fields{
		"task_id":        taskID,
		"task_type":      task.Type,
		"nullifier_hash": nullifierHash,
	}).Info("Proof task completed")

	s.pushUpdate(payload.accountKey, task, models.ProofTaskStatusCompleted, "", task.RetryCount)
	s.publishCompletion(task, models.ProofTaskStatusCompleted, nullifierHash)
}

// handleProveError requeues retryable failures with exponential backoff and
// terminates tasks whose input can never prove. It runs against a fresh
// context: the proving context may already be expired.
func (s *ProofTaskService) handleProveError(task *models.ProofTask, payload *taskPayload, proveErr error) {
	var invalid *types.ProofInvalidError
	if errors.As(proveErr, &invalid) {
		s.failTask(task, invalid.Error())
		return
	}

	// ProverUnavailableError and everything else (timeouts, cancellations)
	// may succeed once the prover is reachable again.
	if task.RetryCount+1 >= task.MaxRetries {
		s.failTask(task, fmt.Sprintf("retries exhausted: %v", proveErr))
		return
	}

	delay := time.Duration(1<<uint(task.RetryCount)) * 10 * time.Second
	if delay > 10*time.Minute {
		delay = 10 * time.Minute
	}
	nextRetry := time.Now().Add(delay)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.tasks.Requeue(ctx, task.ID, nextRetry, proveErr.Error()); err != nil {
		s.logger.WithField("task_id", task.ID).WithError(err).Error("Proof task requeue failed")
		return
	}

	metrics.ProofTasksTotal.WithLabelValues(string(task.Type), "requeued").Inc()
	s.logger.WithFields(logrus.Fields{
		"task_id":    task.ID,
		"next_retry": nextRetry.Format(time.RFC3339),
		"retry":      task.RetryCount + 1,
	}).WithError(proveErr).Warn("Proof task requeued after prover failure")

	s.pushUpdate(payload.accountKey, task, models.ProofTaskStatusPending, proveErr.Error(), task.RetryCount+1)
}

// failTask moves a task to its terminal failed state and fans the outcome
// out.
func (s *ProofTaskService) failTask(task *models.ProofTask, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.tasks.MarkFailed(ctx, task.ID, reason); err != nil {
		s.logger.WithField("task_id", task.ID).WithError(err).Error("Proof task failure not persisted")
	}
	s.dropPayload(task.ID)

	metrics.ProofTasksTotal.WithLabelValues(string(task.Type), "failed").Inc()
	s.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"task_type": task.Type,
		"reason":    reason,
	}).Warn("Proof task failed")

	s.pushUpdate(s.accountKeyFor(task), task, models.ProofTaskStatusFailed, reason, task.RetryCount)
	s.publishCompletion(task, models.ProofTaskStatusFailed, task.NullifierHash)
}

// accountKeyFor recovers the push routing key from the persisted descriptor
// when the in-memory payload is gone.
func (s *ProofTaskService) accountKeyFor(task *models.ProofTask) string {
	if payload := s.loadPayload(task.ID); payload != nil {
		return payload.accountKey
	}
	var descriptor taskDescriptor
	if err := json.Unmarshal([]byte(task.RequestData), &descriptor); err != nil {
		return ""
	}
	return descriptor.AccountKey
}

func (s *ProofTaskService) pushUpdate(accountKey string, task *models.ProofTask, status models.ProofTaskStatus, errMsg string, retryCount int) {
	if s.push == nil || accountKey == "" {
		return
	}
	s.push.PushProofTaskUpdate(accountKey, ProofTaskUpdateData{
		TaskID:        task.ID,
		TaskType:      task.Type,
		Status:        status,
		NullifierHash: task.NullifierHash,
		Error:         errMsg,
		RetryCount:    retryCount,
	})
}

func (s *ProofTaskService) publishCompletion(task *models.ProofTask, status models.ProofTaskStatus, nullifierHash string) {
	if s.nats == nil || !s.nats.IsConnected() {
		return
	}
	event := &clients.ProofCompletedEvent{
		TaskID:        task.ID,
		TaskType:      string(task.Type),
		Status:        string(status),
		NullifierHash: nullifierHash,
		Timestamp:     time.Now().UTC(),
	}
	if err := s.nats.PublishProofCompleted(event); err != nil {
		s.logger.WithField("task_id", task.ID).WithError(err).Warn("Proof completion publish failed")
	}
}

func (s *ProofTaskService) storePayload(taskID string, payload *taskPayload) {
	s.payloadMu.Lock()
	s.payloads[taskID] = payload
	s.payloadMu.Unlock()
}

func (s *ProofTaskService) loadPayload(taskID string) *taskPayload {
	s.payloadMu.RLock()
	defer s.payloadMu.RUnlock()
	return s.payloads[taskID]
}

func (s *ProofTaskService) dropPayload(taskID string) {
	s.payloadMu.Lock()
	delete(s.payloads, taskID)
	s.payloadMu.Unlock()
}
