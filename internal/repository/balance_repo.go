package repository

import (
	"context"
	"errors"

	"escrowpay/internal/model"
	"escrowpay/pkg/errs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound  = errs.Wrap(errs.ErrNotFound, "余额账户不存在")
	ErrBalanceNotEnough = errs.Wrap(errs.ErrInsufficientFunds, "余额不足以完成扣减")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) GetByUserID(ctx context.Context, userID int64) (*model.Balance, error) {
	var balance model.Balance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// Deduct 乐观锁扣减余额
//
// WHERE 里同时带余额充足和版本号条件，扣减与"余额是否够"的判断
// 是同一条原子 UPDATE——两笔并发提现最多一笔能命中。
func (r *BalanceRepository) Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Balance{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		balance, err := r.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if balance.Balance < amount {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

// Increase 入账，返回入账后的余额
//
// 入账后余额在同一个 tx 里回读：流水的前后值以这里为准，
// 并发入账同一用户时各自看到自己更新后的余额，不会共用过期快照。
func (r *BalanceRepository) Increase(ctx context.Context, tx *gorm.DB, userID int64, amount int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Balance{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected == 0 {
		return 0, ErrBalanceNotFound
	}

	var balance model.Balance
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error; err != nil {
		return 0, err
	}
	return balance.Balance, nil
}

func (r *BalanceRepository) GetOrCreate(ctx context.Context, userID int64) (*model.Balance, error) {
	balance, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return balance, nil
	}

	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	newBalance := &model.Balance{
		UserID:  userID,
		Balance: 0,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newBalance).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}
