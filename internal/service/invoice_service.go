package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"escrowpay/internal/model"
	"escrowpay/internal/repository"
	"escrowpay/pkg/errs"

	"gorm.io/gorm"
)

// InvoiceService 发票开具
//
// 一笔完成的支付交易最多一张发票。编号按年份连续递增：
// 计数行的自增 UPDATE 持有行锁直到事务提交，同一年份的分配
// 天然串行，编号永不复用，留空号可以接受。
type InvoiceService struct {
	db          *gorm.DB
	invoiceRepo *repository.InvoiceRepository
	txnRepo     *repository.TransactionRepository
}

func NewInvoiceService(db *gorm.DB) *InvoiceService {
	return &InvoiceService{
		db:          db,
		invoiceRepo: repository.NewInvoiceRepository(db),
		txnRepo:     repository.NewTransactionRepository(db),
	}
}

type invoiceItem struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

// GenerateInvoice 为已完成的支付交易开具发票
//
// 已开过票时直接返回既有发票（幂等，不报错）。
func (s *InvoiceService) GenerateInvoice(ctx context.Context, transactionNo string) (*model.Invoice, error) {
	txn, err := s.txnRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, err
	}

	if txn.Type != model.TransactionTypePayment {
		return nil, errs.Wrap(errs.ErrValidation, "只有支付交易可以开票: type=%s", txn.Type)
	}
	if txn.Status != model.TransactionStatusCompleted && txn.Status != model.TransactionStatusRefunded {
		return nil, errs.Wrap(errs.ErrState, "交易尚未完成，不能开票: status=%s", txn.Status)
	}

	var invoice *model.Invoice
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		invoice, txErr = s.generateInTx(ctx, tx, txn)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// generateInTx 在既有资金事务里开票（completeTransaction 复用）
//
// 存在性检查和创建都走同一个 tx，重复调用是空操作；
// TransactionNo 唯一索引兜底并发下的重复创建。
func (s *InvoiceService) generateInTx(ctx context.Context, tx *gorm.DB, txn *model.Transaction) (*model.Invoice, error) {
	existing, err := s.invoiceRepo.GetByTransactionNo(ctx, tx, txn.TransactionNo)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	year := now.Year()

	seq, err := s.invoiceRepo.NextSeq(ctx, tx, year)
	if err != nil {
		return nil, fmt.Errorf("分配发票编号失败: %w", err)
	}

	items := []invoiceItem{
		{Description: fmt.Sprintf("项目款项 %s", txn.TransactionNo), Amount: txn.NetAmount},
		{Description: "平台服务费", Amount: txn.PlatformFeeAmount},
	}
	itemsJSON, _ := json.Marshal(items)

	invoice := &model.Invoice{
		InvoiceNo:     fmt.Sprintf("INV-%d-%06d", year, seq),
		TransactionNo: txn.TransactionNo,
		PayerID:       txn.PayerID,
		PayeeID:       txn.PayeeID,
		Amount:        txn.Amount,
		PlatformFee:   txn.PlatformFeeAmount,
		NetAmount:     txn.NetAmount,
		Currency:      txn.Currency,
		Items:         string(itemsJSON),
		IssuedAt:      now,
	}
	if err := s.invoiceRepo.Create(ctx, tx, invoice); err != nil {
		return nil, fmt.Errorf("创建发票失败: %w", err)
	}

	log.Printf("发票开具成功: invoiceNo=%s, transactionNo=%s", invoice.InvoiceNo, txn.TransactionNo)
	return invoice, nil
}

// GetInvoice 查询交易的发票，尚未开票返回 (nil, nil)
func (s *InvoiceService) GetInvoice(ctx context.Context, transactionNo string) (*model.Invoice, error) {
	return s.invoiceRepo.GetByTransactionNo(ctx, nil, transactionNo)
}
