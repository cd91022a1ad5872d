package service

import (
	"context"

	"escrowpay/internal/model"
	"escrowpay/internal/repository"

	"gorm.io/gorm"
)

// BalanceService 平台余额查询
type BalanceService struct {
	balanceRepo *repository.BalanceRepository
	flowRepo    *repository.FlowRepository
}

func NewBalanceService(db *gorm.DB) *BalanceService {
	return &BalanceService{
		balanceRepo: repository.NewBalanceRepository(db),
		flowRepo:    repository.NewFlowRepository(db),
	}
}

// GetUserBalance 查询用户余额，没有账户时返回零余额账户
func (s *BalanceService) GetUserBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.balanceRepo.GetOrCreate(ctx, userID)
}

// ListUserFlows 查询用户资金流水，倒序
func (s *BalanceService) ListUserFlows(ctx context.Context, userID int64, limit int) ([]*model.BalanceTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	flows, _, err := s.flowRepo.ListByUserID(ctx, userID, 1, limit)
	return flows, err
}
