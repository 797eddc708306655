package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pool-backend/internal/models"
)

// RagequitRepository defines the interface for ragequit event data access
type RagequitRepository interface {
	// Upsert inserts a ragequit record, ignoring duplicates of the same
	// (scope, commitment) pair.
	Upsert(ctx context.Context, record *models.RagequitRecord) error
	FindByScope(ctx context.Context, scope string) ([]*models.RagequitRecord, error)
	FindByChain(ctx context.Context, chainID uint64) ([]*models.RagequitRecord, error)
	CountByChain(ctx context.Context, chainID uint64) (int64, error)
}

// ragequitRepository implements RagequitRepository
type ragequitRepository struct {
	db *gorm.DB
}

// NewRagequitRepository creates a new RagequitRepository instance
func NewRagequitRepository(db *gorm.DB) RagequitRepository {
	return &ragequitRepository{db: db}
}

func (r *ragequitRepository) Upsert(ctx context.Context, record *models.RagequitRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}, {Name: "commitment_hash"}},
			DoNothing: true,
		}).
		Create(record).Error
}

func (r *ragequitRepository) FindByScope(ctx context.Context, scope string) ([]*models.RagequitRecord, error) {
	var records []*models.RagequitRecord
	err := r.db.WithContext(ctx).
		Where("scope = ?", scope).
		Order("block_number ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *ragequitRepository) FindByChain(ctx context.Context, chainID uint64) ([]*models.RagequitRecord, error) {
	var records []*models.RagequitRecord
	err := r.db.WithContext(ctx).
		Where("chain_id = ?", chainID).
		Order("block_number ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *ragequitRepository) CountByChain(ctx context.Context, chainID uint64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.RagequitRecord{}).
		Where("chain_id = ?", chainID).
		Count(&total).Error
	return total, err
}
