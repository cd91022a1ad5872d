package model

import (
	"time"
)

// Balance 用户余额表
//
// 记录用户在平台的可用余额，只会被三类动作改写：
// 托管放款入账、非托管交易完成入账、提现出账。
// 不变量：Balance 永不为负。
type Balance struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"` // 可用余额（分）
	Version   int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Balance) TableName() string {
	return "balance"
}

const (
	FlowTypeEscrowRelease = "ESCROW_RELEASE"
	FlowTypeEscrowRefund  = "ESCROW_REFUND"
	FlowTypePaymentCredit = "PAYMENT_CREDIT"
	FlowTypeRefund        = "REFUND"
	FlowTypeWithdrawal    = "WITHDRAWAL"
)

// BalanceTransaction 余额流水表
//
// 余额的每一次变动都追加一条流水，记录变动前后余额，
// 与托管流水一起构成对账依据。只追加，不修改，不删除。
type BalanceTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FlowNo        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"flow_no"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	ReferenceNo   string    `gorm:"type:varchar(64);index;not null" json:"reference_no"` // 关联交易/托管/提现单号
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (BalanceTransaction) TableName() string {
	return "balance_transaction"
}
