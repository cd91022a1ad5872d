package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"escrowpay/internal/config"
	"escrowpay/internal/infrastructure/lock"
	"escrowpay/internal/model"
	"escrowpay/internal/repository"
	"escrowpay/pkg/errs"
	"escrowpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// EscrowService 里程碑资金托管
//
// 【关键点】放款/退款是"最多一次"的资金动作：
// 1. 手动放款、自动放款扫描、退款走同一套锁和条件迁移
// 2. 状态迁移、托管流水、余额入账同事务
// 3. 托管账户维度分布式锁 + WHERE status=ACTIVE 条件 UPDATE 双保险
type EscrowService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	escrowRepo  *repository.EscrowRepository
	txnRepo     *repository.TransactionRepository
	balanceRepo *repository.BalanceRepository
	flowRepo    *repository.FlowRepository
	outboxRepo  *repository.OutboxRepository
}

func NewEscrowService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *EscrowService {
	return &EscrowService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		escrowRepo:  repository.NewEscrowRepository(db),
		txnRepo:     repository.NewTransactionRepository(db),
		balanceRepo: repository.NewBalanceRepository(db),
		flowRepo:    repository.NewFlowRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

type CreateEscrowRequest struct {
	TransactionNo   string `json:"transaction_no" binding:"required"`
	ProjectID       int64  `json:"project_id" binding:"required"`
	MilestoneID     int64  `json:"milestone_id"`
	ClientID        int64  `json:"client_id" binding:"required"`
	FreelancerID    int64  `json:"freelancer_id" binding:"required"`
	AutoReleaseDays int    `json:"auto_release_days"` // 0 取配置默认值
}

// CreateEscrowAccount 随入金交易创建托管账户
//
// 拆分金额直接取自交易（总额/抽成/净额），入金流水同事务落账。
//
// 【关键点】托管必须在入金结算之前建立：交易一旦 COMPLETED 而没有托管，
// 净额已经直接入了收款方余额，这时再补建托管会导致放款二次入账。
// 所以这里持有和 CompleteTransaction 同一把交易锁，锁内校验状态只能是
// PENDING 或 PROCESSING。
func (s *EscrowService) CreateEscrowAccount(ctx context.Context, req *CreateEscrowRequest) (*model.EscrowAccount, error) {
	if req.ProjectID <= 0 || req.ClientID <= 0 || req.FreelancerID <= 0 {
		return nil, errs.Wrap(errs.ErrValidation, "project_id、client_id、freelancer_id 必须大于0")
	}

	txn, err := s.txnRepo.GetByTransactionNo(ctx, req.TransactionNo)
	if err != nil {
		return nil, err
	}
	if txn.Type != model.TransactionTypePayment {
		return nil, errs.Wrap(errs.ErrValidation, "只有支付交易可以托管: type=%s", txn.Type)
	}

	existing, err := s.escrowRepo.GetByTransactionNo(ctx, req.TransactionNo)
	if err != nil {
		return nil, fmt.Errorf("查询托管账户失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	txnLock := lock.NewTransactionLock(s.redisClient, req.TransactionNo, idgen.GenerateFlowNo())
	if err := txnLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer txnLock.Unlock(ctx)

	// 获取锁后重读交易并复查托管是否已建
	txn, err = s.txnRepo.GetByTransactionNo(ctx, req.TransactionNo)
	if err != nil {
		return nil, err
	}
	existing, err = s.escrowRepo.GetByTransactionNo(ctx, req.TransactionNo)
	if err != nil {
		return nil, fmt.Errorf("查询托管账户失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	if txn.Status == model.TransactionStatusCompleted {
		return nil, errs.Wrap(errs.ErrState, "入金交易已结算，资金已直接入账，不能再托管: status=%s", txn.Status)
	}
	if txn.Status != model.TransactionStatusPending && txn.Status != model.TransactionStatusProcessing {
		return nil, errs.Wrap(errs.ErrState, "交易状态不允许托管: status=%s", txn.Status)
	}

	days := req.AutoReleaseDays
	if days <= 0 {
		days = s.cfg.Business.AutoReleaseDays
	}

	escrow := &model.EscrowAccount{
		EscrowNo:         idgen.GenerateEscrowNo(),
		TransactionNo:    txn.TransactionNo,
		ProjectID:        req.ProjectID,
		MilestoneID:      req.MilestoneID,
		ClientID:         req.ClientID,
		FreelancerID:     req.FreelancerID,
		TotalAmount:      txn.Amount,
		PlatformFee:      txn.PlatformFeeAmount,
		FreelancerAmount: txn.NetAmount,
		Status:           model.EscrowStatusActive,
		AutoReleaseAt:    time.Now().Add(time.Duration(days) * 24 * time.Hour),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.escrowRepo.Create(ctx, tx, escrow); err != nil {
			return fmt.Errorf("创建托管账户失败: %w", err)
		}

		entry := &model.EscrowLedgerEntry{
			EscrowNo:  escrow.EscrowNo,
			EntryType: model.EscrowEntryTypeFund,
			Amount:    escrow.TotalAmount,
			ActorID:   req.ClientID,
			Reason:    fmt.Sprintf("入金-%s", txn.TransactionNo),
		}
		if err := s.escrowRepo.AppendLedgerEntry(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录托管流水失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("托管账户创建成功: escrowNo=%s, transactionNo=%s, total=%d, autoReleaseAt=%s",
		escrow.EscrowNo, escrow.TransactionNo, escrow.TotalAmount,
		escrow.AutoReleaseAt.Format(time.RFC3339))

	return escrow, nil
}

// ReleaseEscrow 放款
//
// 授权：客户本人、管理员或系统（自动放款扫描）。
// 入金交易必须已完成——钱没到平台手里之前不可能放出去。
// 重复放款返回 StateError，余额不会二次入账。
func (s *EscrowService) ReleaseEscrow(ctx context.Context, escrowNo string, actor Actor, reason string) (*model.EscrowAccount, error) {
	escrow, err := s.escrowRepo.GetByEscrowNo(ctx, escrowNo)
	if err != nil {
		return nil, err
	}

	if !actor.isPrivileged() && actor.ID != escrow.ClientID {
		return nil, errs.Wrap(errs.ErrAuthorization, "只有客户或管理员可以放款: actor=%d", actor.ID)
	}
	if escrow.Status != model.EscrowStatusActive {
		return nil, errs.Wrap(errs.ErrState, "托管账户不是活跃状态: status=%s", escrow.Status)
	}

	txn, err := s.txnRepo.GetByTransactionNo(ctx, escrow.TransactionNo)
	if err != nil {
		return nil, err
	}
	if txn.Status != model.TransactionStatusCompleted {
		return nil, errs.Wrap(errs.ErrState, "入金交易尚未完成，不能放款: status=%s", txn.Status)
	}

	escrowLock := lock.NewEscrowLock(s.redisClient, escrowNo, idgen.GenerateFlowNo())
	if err := escrowLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer escrowLock.Unlock(ctx)

	// 获取锁后再次检查状态
	escrow, err = s.escrowRepo.GetByEscrowNo(ctx, escrowNo)
	if err != nil {
		return nil, err
	}
	if escrow.Status != model.EscrowStatusActive {
		return nil, errs.Wrap(errs.ErrState, "托管账户不是活跃状态: status=%s", escrow.Status)
	}

	// 确保余额账户存在；入账前后值以事务内回读为准
	if _, err := s.balanceRepo.GetOrCreate(ctx, escrow.FreelancerID); err != nil {
		return nil, fmt.Errorf("获取接单方账户失败: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.escrowRepo.UpdateStatus(ctx, tx, escrowNo,
			model.EscrowStatusActive, model.EscrowStatusReleased); err != nil {
			return err
		}

		entry := &model.EscrowLedgerEntry{
			EscrowNo:  escrow.EscrowNo,
			EntryType: model.EscrowEntryTypeRelease,
			Amount:    -escrow.FreelancerAmount,
			ActorID:   actor.ID,
			Reason:    reason,
		}
		if err := s.escrowRepo.AppendLedgerEntry(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录托管流水失败: %w", err)
		}

		newBalance, err := s.balanceRepo.Increase(ctx, tx, escrow.FreelancerID, escrow.FreelancerAmount)
		if err != nil {
			return fmt.Errorf("放款入账失败: %w", err)
		}
		flow := &model.BalanceTransaction{
			FlowNo:        idgen.GenerateFlowNo(),
			UserID:        escrow.FreelancerID,
			ReferenceNo:   escrow.EscrowNo,
			Amount:        escrow.FreelancerAmount,
			Type:          model.FlowTypeEscrowRelease,
			BalanceBefore: newBalance - escrow.FreelancerAmount,
			BalanceAfter:  newBalance,
			Remark:        fmt.Sprintf("托管放款-%s", reason),
		}
		if err := s.flowRepo.Create(ctx, tx, flow); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		return s.enqueueOutbox(ctx, tx, model.EventEscrowReleased, escrow.EscrowNo, map[string]interface{}{
			"escrow_no":         escrow.EscrowNo,
			"transaction_no":    escrow.TransactionNo,
			"project_id":        escrow.ProjectID,
			"milestone_id":      escrow.MilestoneID,
			"freelancer_id":     escrow.FreelancerID,
			"freelancer_amount": escrow.FreelancerAmount,
			"actor_id":          actor.ID,
			"released_at":       time.Now().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("托管放款成功: escrowNo=%s, freelancer=%d, amount=%d, actor=%d",
		escrowNo, escrow.FreelancerID, escrow.FreelancerAmount, actor.ID)

	return s.escrowRepo.GetByEscrowNo(ctx, escrowNo)
}

// RefundEscrow 托管退款（仲裁结果或管理操作）
//
// 只有管理员或系统可以发起。总额退回客户的平台余额，
// 入金交易同事务标记为 REFUNDED。
func (s *EscrowService) RefundEscrow(ctx context.Context, escrowNo string, actor Actor, reason string) (*model.EscrowAccount, error) {
	escrow, err := s.escrowRepo.GetByEscrowNo(ctx, escrowNo)
	if err != nil {
		return nil, err
	}

	if !actor.isPrivileged() {
		return nil, errs.Wrap(errs.ErrAuthorization, "只有管理员可以发起托管退款: actor=%d", actor.ID)
	}
	if escrow.Status != model.EscrowStatusActive && escrow.Status != model.EscrowStatusDisputed {
		return nil, errs.Wrap(errs.ErrState, "托管账户状态不允许退款: status=%s", escrow.Status)
	}

	escrowLock := lock.NewEscrowLock(s.redisClient, escrowNo, idgen.GenerateFlowNo())
	if err := escrowLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer escrowLock.Unlock(ctx)

	escrow, err = s.escrowRepo.GetByEscrowNo(ctx, escrowNo)
	if err != nil {
		return nil, err
	}
	fromStatus := escrow.Status
	if fromStatus != model.EscrowStatusActive && fromStatus != model.EscrowStatusDisputed {
		return nil, errs.Wrap(errs.ErrState, "托管账户状态不允许退款: status=%s", fromStatus)
	}

	txn, err := s.txnRepo.GetByTransactionNo(ctx, escrow.TransactionNo)
	if err != nil {
		return nil, err
	}

	// 确保余额账户存在；入账前后值以事务内回读为准
	if _, err := s.balanceRepo.GetOrCreate(ctx, escrow.ClientID); err != nil {
		return nil, fmt.Errorf("获取客户账户失败: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.escrowRepo.UpdateStatus(ctx, tx, escrowNo,
			fromStatus, model.EscrowStatusRefunded); err != nil {
			return err
		}

		entry := &model.EscrowLedgerEntry{
			EscrowNo:  escrow.EscrowNo,
			EntryType: model.EscrowEntryTypeRefund,
			Amount:    -escrow.TotalAmount,
			ActorID:   actor.ID,
			Reason:    reason,
		}
		if err := s.escrowRepo.AppendLedgerEntry(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录托管流水失败: %w", err)
		}

		newBalance, err := s.balanceRepo.Increase(ctx, tx, escrow.ClientID, escrow.TotalAmount)
		if err != nil {
			return fmt.Errorf("退款入账失败: %w", err)
		}
		flow := &model.BalanceTransaction{
			FlowNo:        idgen.GenerateFlowNo(),
			UserID:        escrow.ClientID,
			ReferenceNo:   escrow.EscrowNo,
			Amount:        escrow.TotalAmount,
			Type:          model.FlowTypeEscrowRefund,
			BalanceBefore: newBalance - escrow.TotalAmount,
			BalanceAfter:  newBalance,
			Remark:        fmt.Sprintf("托管退款-%s", reason),
		}
		if err := s.flowRepo.Create(ctx, tx, flow); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		// 入金交易已完成时同步标记为已退款
		if txn.Status == model.TransactionStatusCompleted {
			if err := s.txnRepo.UpdateStatus(ctx, tx, txn.TransactionNo,
				model.TransactionStatusCompleted, model.TransactionStatusRefunded, nil); err != nil {
				return err
			}
		}

		return s.enqueueOutbox(ctx, tx, model.EventEscrowRefunded, escrow.EscrowNo, map[string]interface{}{
			"escrow_no":      escrow.EscrowNo,
			"transaction_no": escrow.TransactionNo,
			"project_id":     escrow.ProjectID,
			"client_id":      escrow.ClientID,
			"total_amount":   escrow.TotalAmount,
			"actor_id":       actor.ID,
			"reason":         reason,
			"refunded_at":    time.Now().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("托管退款成功: escrowNo=%s, client=%d, amount=%d, actor=%d",
		escrowNo, escrow.ClientID, escrow.TotalAmount, actor.ID)

	return s.escrowRepo.GetByEscrowNo(ctx, escrowNo)
}

// MarkDisputed 将活跃托管账户标记为争议中（仲裁入口）
func (s *EscrowService) MarkDisputed(ctx context.Context, escrowNo string, actor Actor) error {
	escrow, err := s.escrowRepo.GetByEscrowNo(ctx, escrowNo)
	if err != nil {
		return err
	}
	if !actor.isPrivileged() && actor.ID != escrow.ClientID && actor.ID != escrow.FreelancerID {
		return errs.Wrap(errs.ErrAuthorization, "只有交易双方或管理员可以发起争议: actor=%d", actor.ID)
	}
	return s.escrowRepo.UpdateStatus(ctx, nil, escrowNo,
		model.EscrowStatusActive, model.EscrowStatusDisputed)
}

func (s *EscrowService) GetEscrow(ctx context.Context, escrowNo string) (*model.EscrowAccount, error) {
	return s.escrowRepo.GetByEscrowNo(ctx, escrowNo)
}

func (s *EscrowService) ListLedgerEntries(ctx context.Context, escrowNo string) ([]*model.EscrowLedgerEntry, error) {
	return s.escrowRepo.ListLedgerEntries(ctx, escrowNo)
}

func (s *EscrowService) enqueueOutbox(ctx context.Context, tx *gorm.DB, eventType, key string, payload map[string]interface{}) error {
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
