package repository

import (
	"context"
	"errors"

	"escrowpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, tx *gorm.DB, invoice *model.Invoice) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(invoice).Error
}

// GetByTransactionNo 发票存在性检查，"尚未开票"是预期情况，
// 返回 (nil, nil) 而不是错误。资金事务内调用时必须传入 tx，
// 读写走同一个连接。
func (r *InvoiceRepository) GetByTransactionNo(ctx context.Context, tx *gorm.DB, transactionNo string) (*model.Invoice, error) {
	if tx == nil {
		tx = r.db
	}
	var invoice model.Invoice
	err := tx.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// NextSeq 分配下一个年份内序号
//
// 计数行自增后回读。调用方在年份维度的分布式锁内调用，
// 加上计数行 UPDATE 自身的原子性，编号永不复用（回滚产生的空号可以接受）。
func (r *InvoiceRepository) NextSeq(ctx context.Context, tx *gorm.DB, year int) (int64, error) {
	if tx == nil {
		tx = r.db
	}

	// 年份行不存在时先补一行，冲突则忽略
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "year"}},
			DoNothing: true,
		}).
		Create(&model.InvoiceCounter{Year: year, LastSeq: 0}).Error
	if err != nil {
		return 0, err
	}

	result := tx.WithContext(ctx).
		Model(&model.InvoiceCounter{}).
		Where("year = ?", year).
		UpdateColumn("last_seq", gorm.Expr("last_seq + 1"))
	if result.Error != nil {
		return 0, result.Error
	}

	var counter model.InvoiceCounter
	if err := tx.WithContext(ctx).Where("year = ?", year).First(&counter).Error; err != nil {
		return 0, err
	}
	return counter.LastSeq, nil
}
