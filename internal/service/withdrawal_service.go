package service

import (
	"context"
	"encoding/json"
	"errors"
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

// WithdrawalService 余额提现
//
// 【关键点】扣减余额与创建提现单是同一个数据库事务：
// 1. 用户维度分布式锁防止同一用户并发发起
// 2. 余额扣减走乐观锁条件 UPDATE，两笔并发最多一笔成功
// 3. request_id 幂等，重复提交返回同一张提现单
type WithdrawalService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	withdrawalRepo *repository.WithdrawalRepository
	balanceRepo    *repository.BalanceRepository
	flowRepo       *repository.FlowRepository
	outboxRepo     *repository.OutboxRepository
}

func NewWithdrawalService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *WithdrawalService {
	return &WithdrawalService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		withdrawalRepo: repository.NewWithdrawalRepository(db),
		balanceRepo:    repository.NewBalanceRepository(db),
		flowRepo:       repository.NewFlowRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
	}
}

type CreateWithdrawalRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	UserID    int64  `json:"user_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"` // 单位：分
	Method    string `json:"method" binding:"required"` // BANK_TRANSFER / ALIPAY 等
}

// CreateWithdrawal 发起提现
//
// 手续费从提现金额中扣除：到账 = 申请金额 - 固定手续费。
// 余额扣减的是申请金额全额。
func (s *WithdrawalService) CreateWithdrawal(ctx context.Context, req *CreateWithdrawalRequest) (*model.Withdrawal, error) {
	if req.UserID <= 0 {
		return nil, errs.Wrap(errs.ErrValidation, "user_id 必须大于0")
	}
	if req.Method == "" {
		return nil, errs.Wrap(errs.ErrValidation, "提现方式不能为空")
	}
	if req.Amount < s.cfg.Business.WithdrawalMin {
		return nil, errs.Wrap(errs.ErrValidation, "提现金额低于最低限额: amount=%d, min=%d",
			req.Amount, s.cfg.Business.WithdrawalMin)
	}
	if req.Amount > s.cfg.Business.WithdrawalMax {
		return nil, errs.Wrap(errs.ErrValidation, "提现金额超过单笔上限: amount=%d, max=%d",
			req.Amount, s.cfg.Business.WithdrawalMax)
	}

	// 幂等检查
	existing, err := s.withdrawalRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询提现单失败: %w", err)
	}
	if existing != nil {
		log.Printf("提现请求重复提交，返回已有提现单: requestID=%s, withdrawalNo=%s",
			req.RequestID, existing.WithdrawalNo)
		return existing, nil
	}

	fee := s.cfg.Business.WithdrawalFee
	finalAmount := req.Amount - fee
	if finalAmount <= 0 {
		return nil, errs.Wrap(errs.ErrValidation, "提现金额不足以覆盖手续费: amount=%d, fee=%d", req.Amount, fee)
	}

	withdrawLock := lock.NewWithdrawLock(s.redisClient, req.UserID, req.RequestID)
	if err := withdrawLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer withdrawLock.Unlock(ctx)

	// 获取锁后再做一次幂等检查
	existing, err = s.withdrawalRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询提现单失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	balance, err := s.balanceRepo.GetByUserID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.Wrap(errs.ErrInsufficientFunds, "余额不足: balance=0, amount=%d", req.Amount)
		}
		return nil, err
	}
	if balance.Balance < req.Amount {
		return nil, errs.Wrap(errs.ErrInsufficientFunds, "余额不足: balance=%d, amount=%d",
			balance.Balance, req.Amount)
	}

	withdrawal := &model.Withdrawal{
		WithdrawalNo:    idgen.GenerateWithdrawalNo(),
		RequestID:       req.RequestID,
		UserID:          req.UserID,
		RequestedAmount: req.Amount,
		ProcessingFee:   fee,
		FinalAmount:     finalAmount,
		Method:          req.Method,
		Status:          model.WithdrawalStatusPending,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.balanceRepo.Deduct(ctx, tx, req.UserID, req.Amount, balance.Version); err != nil {
			return err
		}

		if err := s.withdrawalRepo.Create(ctx, tx, withdrawal); err != nil {
			return fmt.Errorf("创建提现单失败: %w", err)
		}

		flow := &model.BalanceTransaction{
			FlowNo:        idgen.GenerateFlowNo(),
			UserID:        req.UserID,
			ReferenceNo:   withdrawal.WithdrawalNo,
			Amount:        -req.Amount,
			Type:          model.FlowTypeWithdrawal,
			BalanceBefore: balance.Balance,
			BalanceAfter:  balance.Balance - req.Amount,
			Remark:        fmt.Sprintf("提现-%s", req.Method),
		}
		if err := s.flowRepo.Create(ctx, tx, flow); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"withdrawal_no":    withdrawal.WithdrawalNo,
			"user_id":          withdrawal.UserID,
			"requested_amount": withdrawal.RequestedAmount,
			"processing_fee":   withdrawal.ProcessingFee,
			"final_amount":     withdrawal.FinalAmount,
			"method":           withdrawal.Method,
			"created_at":       time.Now().Format(time.RFC3339),
		})
		msg := &model.OutboxMessage{
			MessageKey: withdrawal.WithdrawalNo,
			EventType:  model.EventWithdrawalCreated,
			Topic:      s.cfg.Kafka.Topic.WithdrawalResult,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("提现单创建成功: withdrawalNo=%s, user=%d, amount=%d, fee=%d, final=%d",
		withdrawal.WithdrawalNo, req.UserID, req.Amount, fee, finalAmount)

	return withdrawal, nil
}

func (s *WithdrawalService) GetWithdrawal(ctx context.Context, withdrawalNo string) (*model.Withdrawal, error) {
	return s.withdrawalRepo.GetByWithdrawalNo(ctx, withdrawalNo)
}

func (s *WithdrawalService) ListUserWithdrawals(ctx context.Context, userID int64, limit int) ([]*model.Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	withdrawals, _, err := s.withdrawalRepo.ListByUserID(ctx, userID, 1, limit)
	return withdrawals, err
}
