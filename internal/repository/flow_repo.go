package repository

import (
	"context"
	"errors"

	"escrowpay/internal/model"

	"gorm.io/gorm"
)

// FlowRepository 余额流水仓储，只追加
type FlowRepository struct {
	db *gorm.DB
}

func NewFlowRepository(db *gorm.DB) *FlowRepository {
	return &FlowRepository{db: db}
}

func (r *FlowRepository) Create(ctx context.Context, tx *gorm.DB, flow *model.BalanceTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(flow).Error
}

// GetByReference 按关联单号和流水类型查询，不存在返回 (nil, nil)
func (r *FlowRepository) GetByReference(ctx context.Context, referenceNo, flowType string) (*model.BalanceTransaction, error) {
	var flow model.BalanceTransaction
	err := r.db.WithContext(ctx).
		Where("reference_no = ? AND type = ?", referenceNo, flowType).
		First(&flow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &flow, nil
}

func (r *FlowRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.BalanceTransaction, int64, error) {
	var flows []*model.BalanceTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.BalanceTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&flows).Error

	return flows, total, err
}
