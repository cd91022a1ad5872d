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
	ErrEscrowNotFound      = errs.Wrap(errs.ErrNotFound, "托管账户不存在")
	ErrEscrowStatusInvalid = errs.Wrap(errs.ErrState, "托管账户状态不允许该迁移")
)

type EscrowRepository struct {
	db *gorm.DB
}

func NewEscrowRepository(db *gorm.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

func (r *EscrowRepository) Create(ctx context.Context, tx *gorm.DB, escrow *model.EscrowAccount) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(escrow).Error
}

func (r *EscrowRepository) GetByEscrowNo(ctx context.Context, escrowNo string) (*model.EscrowAccount, error) {
	var escrow model.EscrowAccount
	err := r.db.WithContext(ctx).Where("escrow_no = ?", escrowNo).First(&escrow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	return &escrow, nil
}

// GetByTransactionNo 按入金交易查托管账户，不存在返回 (nil, nil)
func (r *EscrowRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.EscrowAccount, error) {
	var escrow model.EscrowAccount
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&escrow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &escrow, nil
}

// UpdateStatus 条件状态迁移，语义同交易表：WHERE 带当前状态，
// 放款和退款的"最多一次"由这条原子 UPDATE 兜底。
func (r *EscrowRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, escrowNo string, fromStatus, toStatus string) error {
	if !model.CanEscrowTransitionTo(fromStatus, toStatus) {
		return ErrEscrowStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if toStatus == model.EscrowStatusReleased || toStatus == model.EscrowStatusRefunded {
		now := time.Now()
		updates["resolved_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.EscrowAccount{}).
		Where("escrow_no = ? AND status = ?", escrowNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrEscrowStatusInvalid
	}

	return nil
}

// GetExpiredActive 查询已过自动放款时间仍处于 ACTIVE 的托管账户
func (r *EscrowRepository) GetExpiredActive(ctx context.Context, limit int) ([]*model.EscrowAccount, error) {
	var escrows []*model.EscrowAccount
	err := r.db.WithContext(ctx).
		Where("status = ? AND auto_release_at < ?", model.EscrowStatusActive, time.Now()).
		Limit(limit).
		Find(&escrows).Error
	return escrows, err
}

func (r *EscrowRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.EscrowAccount, int64, error) {
	var escrows []*model.EscrowAccount
	var total int64

	query := r.db.WithContext(ctx).Model(&model.EscrowAccount{}).
		Where("client_id = ? OR freelancer_id = ?", userID, userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&escrows).Error

	return escrows, total, err
}

// AppendLedgerEntry 追加托管流水（只追加，永不更新）
func (r *EscrowRepository) AppendLedgerEntry(ctx context.Context, tx *gorm.DB, entry *model.EscrowLedgerEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *EscrowRepository) ListLedgerEntries(ctx context.Context, escrowNo string) ([]*model.EscrowLedgerEntry, error) {
	var entries []*model.EscrowLedgerEntry
	err := r.db.WithContext(ctx).
		Where("escrow_no = ?", escrowNo).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}
