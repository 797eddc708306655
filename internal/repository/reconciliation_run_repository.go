package repository

import (
	"context"

	"gorm.io/gorm"

	"pool-backend/internal/models"
)

// ReconciliationRunRepository defines the interface for reconciliation audit
// row data access
type ReconciliationRunRepository interface {
	Create(ctx context.Context, run *models.ReconciliationRun) error
	FindByChain(ctx context.Context, chainID uint64, page, limit int) ([]*models.ReconciliationRun, int64, error)
	FindLatestByAccountKey(ctx context.Context, accountKey string) (*models.ReconciliationRun, error)
}

// reconciliationRunRepository implements ReconciliationRunRepository
type reconciliationRunRepository struct {
	db *gorm.DB
}

// NewReconciliationRunRepository creates a new ReconciliationRunRepository
// instance
func NewReconciliationRunRepository(db *gorm.DB) ReconciliationRunRepository {
	return &reconciliationRunRepository{db: db}
}

func (r *reconciliationRunRepository) Create(ctx context.Context, run *models.ReconciliationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *reconciliationRunRepository) FindByChain(ctx context.Context, chainID uint64, page, limit int) ([]*models.ReconciliationRun, int64, error) {
	var runs []*models.ReconciliationRun
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ReconciliationRun{}).Where("chain_id = ?", chainID)
	query.Count(&total)

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&runs).Error
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

func (r *reconciliationRunRepository) FindLatestByAccountKey(ctx context.Context, accountKey string) (*models.ReconciliationRun, error) {
	var run models.ReconciliationRun
	err := r.db.WithContext(ctx).
		Where("account_key = ?", accountKey).
		Order("created_at DESC").
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}
