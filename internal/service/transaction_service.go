package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"escrowpay/internal/config"
	"escrowpay/internal/gateway"
	"escrowpay/internal/infrastructure/lock"
	"escrowpay/internal/model"
	"escrowpay/internal/repository"
	"escrowpay/pkg/errs"
	"escrowpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// TransactionService 交易状态机与结算入口
//
// 【关键点】completeTransaction 是整个引擎的资金落账点，必须保证：
// 1. 幂等性：webhook 重复投递时，第二次完成调用是空操作
// 2. 原子性：状态迁移、余额入账、开票、发件箱消息同事务
// 3. 并发安全：交易维度分布式锁 + 条件状态 UPDATE 双保险
type TransactionService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	gw          gateway.Gateway
	txnRepo     *repository.TransactionRepository
	escrowRepo  *repository.EscrowRepository
	balanceRepo *repository.BalanceRepository
	flowRepo    *repository.FlowRepository
	outboxRepo  *repository.OutboxRepository
	invoiceSvc  *InvoiceService
}

func NewTransactionService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, gw gateway.Gateway) *TransactionService {
	return &TransactionService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		gw:          gw,
		txnRepo:     repository.NewTransactionRepository(db),
		escrowRepo:  repository.NewEscrowRepository(db),
		balanceRepo: repository.NewBalanceRepository(db),
		flowRepo:    repository.NewFlowRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		invoiceSvc:  NewInvoiceService(db),
	}
}

type CreateTransactionRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	PayerID   int64  `json:"payer_id" binding:"required"`
	PayeeID   int64  `json:"payee_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Currency  string `json:"currency"`
	Type      string `json:"type" binding:"required"`
}

// CreateTransaction 创建交易
//
// 校验入参、计算平台抽成拆分、落 PENDING 状态。
// 相同 request_id 的重复请求返回既有交易（幂等）。
func (s *TransactionService) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*model.Transaction, error) {
	if req.PayerID <= 0 || req.PayeeID <= 0 {
		return nil, errs.Wrap(errs.ErrValidation, "payer_id 和 payee_id 必须大于0")
	}
	if req.Amount <= 0 {
		return nil, errs.Wrap(errs.ErrValidation, "金额必须大于0")
	}
	switch req.Type {
	case model.TransactionTypePayment, model.TransactionTypeRefund,
		model.TransactionTypeWithdrawal, model.TransactionTypeFee:
	default:
		return nil, errs.Wrap(errs.ErrValidation, "交易类型不合法: %s", req.Type)
	}
	if req.RequestID == "" {
		return nil, errs.Wrap(errs.ErrValidation, "request_id 不能为空")
	}

	// 幂等校验
	existing, err := s.txnRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询交易失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	currency := req.Currency
	if currency == "" {
		currency = "CNY"
	}

	platformFee, netAmount := CalculateFee(req.Amount, s.cfg.Business.FeePercent)

	txn := &model.Transaction{
		TransactionNo:     idgen.GenerateTransactionNo(),
		RequestID:         req.RequestID,
		PayerID:           req.PayerID,
		PayeeID:           req.PayeeID,
		Type:              req.Type,
		Amount:            req.Amount,
		Currency:          currency,
		PlatformFeeAmount: platformFee,
		NetAmount:         netAmount,
		Status:            model.TransactionStatusPending,
	}

	if err := s.txnRepo.Create(ctx, nil, txn); err != nil {
		return nil, fmt.Errorf("创建交易失败: %w", err)
	}

	log.Printf("交易创建成功: transactionNo=%s, payer=%d, payee=%d, amount=%d, fee=%d",
		txn.TransactionNo, txn.PayerID, txn.PayeeID, txn.Amount, txn.PlatformFeeAmount)

	return txn, nil
}

// ProcessPayment 提交渠道支付意图
//
// 只允许 PENDING 状态的交易提交。渠道调用发生在任何锁之外，
// 成功后记录渠道标识并迁移到 PROCESSING。
func (s *TransactionService) ProcessPayment(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	txn, err := s.txnRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	if txn.Status != model.TransactionStatusPending {
		return nil, errs.Wrap(errs.ErrState, "只有待支付交易可以提交渠道: status=%s", txn.Status)
	}

	intent, err := s.gw.Submit(ctx, txn)
	if err != nil {
		return nil, err
	}

	err = s.txnRepo.UpdateStatus(ctx, nil, transactionNo,
		model.TransactionStatusPending, model.TransactionStatusProcessing,
		map[string]interface{}{
			"provider_name": s.gw.Name(),
			"preference_id": intent.PreferenceID,
			"redirect_url":  intent.RedirectURL,
		})
	if err != nil {
		return nil, err
	}

	log.Printf("交易已提交渠道: transactionNo=%s, preferenceID=%s", transactionNo, intent.PreferenceID)

	return s.txnRepo.GetByTransactionNo(ctx, transactionNo)
}

// CompleteTransaction 完成交易并落账
//
// 【幂等】交易已是 COMPLETED 时直接返回，不报错——webhook 重复投递
// 是常态。对已托管的交易只迁移状态（资金留在托管账户，放款时才入账）；
// 非托管支付直接给收款方入净额，并同事务开票。
func (s *TransactionService) CompleteTransaction(ctx context.Context, transactionNo string, providerPaymentID string) (*model.Transaction, error) {
	txn, err := s.txnRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	if txn.Status == model.TransactionStatusCompleted {
		return txn, nil
	}
	if model.IsTerminalStatus(txn.Status) {
		return nil, errs.Wrap(errs.ErrState, "交易已进入终态: status=%s", txn.Status)
	}

	txnLock := lock.NewTransactionLock(s.redisClient, transactionNo, idgen.GenerateFlowNo())
	if err := txnLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer txnLock.Unlock(ctx)

	// 获取锁后再次检查幂等
	txn, err = s.txnRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	if txn.Status == model.TransactionStatusCompleted {
		return txn, nil
	}
	if model.IsTerminalStatus(txn.Status) {
		return nil, errs.Wrap(errs.ErrState, "交易已进入终态: status=%s", txn.Status)
	}

	escrow, err := s.escrowRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, fmt.Errorf("查询托管账户失败: %w", err)
	}

	directCredit := escrow == nil && txn.Type == model.TransactionTypePayment

	if directCredit {
		// 确保余额账户存在；入账前后值以事务内回读为准
		if _, err := s.balanceRepo.GetOrCreate(ctx, txn.PayeeID); err != nil {
			return nil, fmt.Errorf("获取收款方账户失败: %w", err)
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		extra := map[string]interface{}{}
		if providerPaymentID != "" {
			extra["provider_payment_id"] = providerPaymentID
		}
		if err := s.txnRepo.UpdateStatus(ctx, tx, transactionNo, txn.Status, model.TransactionStatusCompleted, extra); err != nil {
			return err
		}

		if directCredit {
			newBalance, err := s.balanceRepo.Increase(ctx, tx, txn.PayeeID, txn.NetAmount)
			if err != nil {
				return fmt.Errorf("入账失败: %w", err)
			}
			flow := &model.BalanceTransaction{
				FlowNo:        idgen.GenerateFlowNo(),
				UserID:        txn.PayeeID,
				ReferenceNo:   txn.TransactionNo,
				Amount:        txn.NetAmount,
				Type:          model.FlowTypePaymentCredit,
				BalanceBefore: newBalance - txn.NetAmount,
				BalanceAfter:  newBalance,
				Remark:        fmt.Sprintf("支付入账-%s", txn.TransactionNo),
			}
			if err := s.flowRepo.Create(ctx, tx, flow); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}
		}

		if txn.Type == model.TransactionTypePayment {
			if _, err := s.invoiceSvc.generateInTx(ctx, tx, txn); err != nil {
				return err
			}
		}

		return s.enqueueOutbox(ctx, tx, model.EventTransactionCompleted, txn.TransactionNo, map[string]interface{}{
			"transaction_no": txn.TransactionNo,
			"payer_id":       txn.PayerID,
			"payee_id":       txn.PayeeID,
			"amount":         txn.Amount,
			"net_amount":     txn.NetAmount,
			"status":         model.TransactionStatusCompleted,
			"completed_at":   time.Now().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("交易完成: transactionNo=%s, amount=%d, directCredit=%v",
		transactionNo, txn.Amount, directCredit)

	return s.txnRepo.GetByTransactionNo(ctx, transactionNo)
}

// FailTransaction 标记交易失败（渠道拒绝/取消）
//
// 已失败的重复标记是空操作；其他终态拒绝迁移。
func (s *TransactionService) FailTransaction(ctx context.Context, transactionNo string, providerPaymentID string) error {
	txn, err := s.txnRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return err
	}
	if txn.Status == model.TransactionStatusFailed {
		return nil
	}
	if model.IsTerminalStatus(txn.Status) {
		return errs.Wrap(errs.ErrState, "交易已进入终态: status=%s", txn.Status)
	}

	extra := map[string]interface{}{}
	if providerPaymentID != "" {
		extra["provider_payment_id"] = providerPaymentID
	}
	return s.txnRepo.UpdateStatus(ctx, nil, transactionNo, txn.Status, model.TransactionStatusFailed, extra)
}

// MarkProcessing 记录渠道"处理中"事件
//
// 只对 PENDING 交易生效；终态交易收到乱序的 pending 事件按空操作处理，
// 绝不把交易拉出终态。
func (s *TransactionService) MarkProcessing(ctx context.Context, transactionNo string, providerPaymentID string) error {
	txn, err := s.txnRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return err
	}
	if txn.Status != model.TransactionStatusPending {
		return nil
	}
	extra := map[string]interface{}{}
	if providerPaymentID != "" {
		extra["provider_payment_id"] = providerPaymentID
	}
	return s.txnRepo.UpdateStatus(ctx, nil, transactionNo,
		model.TransactionStatusPending, model.TransactionStatusProcessing, extra)
}

// RefundTransaction 显式退款操作
//
// 托管中的交易必须走托管退款（资金还在托管账户里）；
// 已完成的非托管支付反向冲账：收款方扣净额、付款方入净额，
// 平台服务费不退。FAILED 交易退款只改状态，没有资金效果。
func (s *TransactionService) RefundTransaction(ctx context.Context, transactionNo string, reason string) (*model.Transaction, error) {
	txn, err := s.txnRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	if txn.Status == model.TransactionStatusRefunded {
		return txn, nil
	}

	escrow, err := s.escrowRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, fmt.Errorf("查询托管账户失败: %w", err)
	}
	if escrow != nil && escrow.Status != model.EscrowStatusRefunded {
		return nil, errs.Wrap(errs.ErrState, "资金在托管账户中，请对托管账户发起退款: escrowNo=%s", escrow.EscrowNo)
	}

	if txn.Status == model.TransactionStatusFailed {
		if err := s.txnRepo.UpdateStatus(ctx, nil, transactionNo,
			model.TransactionStatusFailed, model.TransactionStatusRefunded, nil); err != nil {
			return nil, err
		}
		return s.txnRepo.GetByTransactionNo(ctx, transactionNo)
	}

	if txn.Status != model.TransactionStatusCompleted {
		return nil, errs.Wrap(errs.ErrState, "交易状态不允许退款: status=%s", txn.Status)
	}

	txnLock := lock.NewTransactionLock(s.redisClient, transactionNo, idgen.GenerateFlowNo())
	if err := txnLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer txnLock.Unlock(ctx)

	txn, err = s.txnRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	if txn.Status == model.TransactionStatusRefunded {
		return txn, nil
	}
	if txn.Status != model.TransactionStatusCompleted {
		return nil, errs.Wrap(errs.ErrState, "交易状态不允许退款: status=%s", txn.Status)
	}

	payeeBalance, err := s.balanceRepo.GetOrCreate(ctx, txn.PayeeID)
	if err != nil {
		return nil, fmt.Errorf("获取收款方账户失败: %w", err)
	}
	if _, err := s.balanceRepo.GetOrCreate(ctx, txn.PayerID); err != nil {
		return nil, fmt.Errorf("获取付款方账户失败: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.txnRepo.UpdateStatus(ctx, tx, transactionNo,
			model.TransactionStatusCompleted, model.TransactionStatusRefunded, nil); err != nil {
			return err
		}

		if err := s.balanceRepo.Deduct(ctx, tx, txn.PayeeID, txn.NetAmount, payeeBalance.Version); err != nil {
			if errors.Is(err, errs.ErrInsufficientFunds) {
				return errs.Wrap(errs.ErrInsufficientFunds, "收款方余额不足以退款")
			}
			return fmt.Errorf("退款扣减失败: %w", err)
		}
		outFlow := &model.BalanceTransaction{
			FlowNo:        idgen.GenerateFlowNo(),
			UserID:        txn.PayeeID,
			ReferenceNo:   txn.TransactionNo,
			Amount:        -txn.NetAmount,
			Type:          model.FlowTypeRefund,
			BalanceBefore: payeeBalance.Balance,
			BalanceAfter:  payeeBalance.Balance - txn.NetAmount,
			Remark:        fmt.Sprintf("退款冲账-%s", reason),
		}
		if err := s.flowRepo.Create(ctx, tx, outFlow); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		newPayerBalance, err := s.balanceRepo.Increase(ctx, tx, txn.PayerID, txn.NetAmount)
		if err != nil {
			return fmt.Errorf("退款入账失败: %w", err)
		}
		inFlow := &model.BalanceTransaction{
			FlowNo:        idgen.GenerateFlowNo(),
			UserID:        txn.PayerID,
			ReferenceNo:   txn.TransactionNo,
			Amount:        txn.NetAmount,
			Type:          model.FlowTypeRefund,
			BalanceBefore: newPayerBalance - txn.NetAmount,
			BalanceAfter:  newPayerBalance,
			Remark:        fmt.Sprintf("退款到账-%s", reason),
		}
		if err := s.flowRepo.Create(ctx, tx, inFlow); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		return s.enqueueOutbox(ctx, tx, model.EventTransactionRefunded, txn.TransactionNo, map[string]interface{}{
			"transaction_no": txn.TransactionNo,
			"payer_id":       txn.PayerID,
			"payee_id":       txn.PayeeID,
			"net_amount":     txn.NetAmount,
			"reason":         reason,
			"refunded_at":    time.Now().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("交易退款成功: transactionNo=%s, netAmount=%d", transactionNo, txn.NetAmount)

	return s.txnRepo.GetByTransactionNo(ctx, transactionNo)
}

func (s *TransactionService) GetTransaction(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	return s.txnRepo.GetByTransactionNo(ctx, transactionNo)
}

func (s *TransactionService) ListUserTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.txnRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *TransactionService) enqueueOutbox(ctx context.Context, tx *gorm.DB, eventType, key string, payload map[string]interface{}) error {
	payloadBytes, _ := json.Marshal(payload)
	msg := &model.OutboxMessage{
		MessageKey: key,
		EventType:  eventType,
		Topic:      s.cfg.Kafka.Topic.SettlementResult,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
