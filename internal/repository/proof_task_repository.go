package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"pool-backend/internal/models"
)

// ProofTaskRepository defines the interface for proof task data access
type ProofTaskRepository interface {
	Create(ctx context.Context, task *models.ProofTask) error
	GetByID(ctx context.Context, id string) (*models.ProofTask, error)
	// FindRunnable returns pending tasks whose retry window has opened,
	// highest priority first.
	FindRunnable(ctx context.Context, limit int) ([]*models.ProofTask, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, proofData, publicValues, nullifierHash string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	// Requeue returns a task to pending with a retry delay after the prover
	// was unavailable.
	Requeue(ctx context.Context, id string, nextRetryAt time.Time, lastError string) error
	// RequeueStuck returns processing tasks older than the cutoff to pending.
	RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error)
	FindRecent(ctx context.Context, page, limit int) ([]*models.ProofTask, int64, error)
}

// proofTaskRepository implements ProofTaskRepository
type proofTaskRepository struct {
	db *gorm.DB
}

// NewProofTaskRepository creates a new ProofTaskRepository instance
func NewProofTaskRepository(db *gorm.DB) ProofTaskRepository {
	return &proofTaskRepository{db: db}
}

func (r *proofTaskRepository) Create(ctx context.Context, task *models.ProofTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *proofTaskRepository) GetByID(ctx context.Context, id string) (*models.ProofTask, error) {
	var task models.ProofTask
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *proofTaskRepository) FindRunnable(ctx context.Context, limit int) ([]*models.ProofTask, error) {
	var tasks []*models.ProofTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", models.ProofTaskStatusPending, time.Now()).
		Order("priority ASC, created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *proofTaskRepository) MarkProcessing(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.ProofTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.ProofTaskStatusProcessing,
			"started_at": &now,
		}).Error
}

func (r *proofTaskRepository) MarkCompleted(ctx context.Context, id string, proofData, publicValues, nullifierHash string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.ProofTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         models.ProofTaskStatusCompleted,
			"proof_data":     proofData,
			"public_values":  publicValues,
			"nullifier_hash": nullifierHash,
			"completed_at":   &now,
		}).Error
}

func (r *proofTaskRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.ProofTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.ProofTaskStatusFailed,
			"last_error":   lastError,
			"completed_at": &now,
		}).Error
}

func (r *proofTaskRepository) Requeue(ctx context.Context, id string, nextRetryAt time.Time, lastError string) error {
	return r.db.WithContext(ctx).Model(&models.ProofTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.ProofTaskStatusPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"next_retry_at": &nextRetryAt,
			"last_error":    lastError,
		}).Error
}

func (r *proofTaskRepository) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := r.db.WithContext(ctx).Model(&models.ProofTask{}).
		Where("status = ? AND started_at < ?", models.ProofTaskStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     models.ProofTaskStatusPending,
			"last_error": "requeued: processing exceeded deadline",
		})
	return result.RowsAffected, result.Error
}

func (r *proofTaskRepository) FindRecent(ctx context.Context, page, limit int) ([]*models.ProofTask, int64, error) {
	var tasks []*models.ProofTask
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ProofTask{})
	query.Count(&total)

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&tasks).Error
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}
