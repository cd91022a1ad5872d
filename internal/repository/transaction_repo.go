package repository

import (
	"context"
	"errors"
	"time"

	"escrowpay/internal/model"
	"escrowpay/pkg/errs"

	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound      = errs.Wrap(errs.ErrNotFound, "交易不存在")
	ErrTransactionStatusInvalid = errs.Wrap(errs.ErrState, "交易状态不允许该迁移")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, txn *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(txn).Error
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// GetByRequestID 幂等查询，不存在返回 (nil, nil)
func (r *TransactionRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// GetByProviderPaymentID 按渠道支付单ID查询，webhook 对账入口，
// 不存在返回 (nil, nil)
func (r *TransactionRepository) GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.db.WithContext(ctx).Where("provider_payment_id = ?", providerPaymentID).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// UpdateStatus 条件状态迁移
//
// WHERE 带当前状态，迁移合法性先查状态机表——"读状态再改状态"
// 压缩成一条原子 UPDATE，并发写者里只有一个能命中。
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, transactionNo string, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrTransactionStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if toStatus == model.TransactionStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("transaction_no = ? AND status = ?", transactionNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrTransactionStatusInvalid
	}

	return nil
}

// GetStaleProcessing 查询卡在处理中超过阈值的交易（对账任务用）
func (r *TransactionRepository) GetStaleProcessing(ctx context.Context, beforeTime time.Time, limit int) ([]*model.Transaction, error) {
	var txns []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.TransactionStatusProcessing, beforeTime).
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var txns []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("payer_id = ? OR payee_id = ?", userID, userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&txns).Error

	return txns, total, err
}
