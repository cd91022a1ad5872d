package model

import (
	"time"
)

const (
	EscrowStatusActive   = "ACTIVE"
	EscrowStatusReleased = "RELEASED"
	EscrowStatusRefunded = "REFUNDED"
	EscrowStatusDisputed = "DISPUTED"
)

// ValidEscrowTransitions 托管账户状态机
//
// ACTIVE → {RELEASED, REFUNDED, DISPUTED}，DISPUTED 由仲裁结果收敛。
// RELEASED / REFUNDED 是终态：一个托管账户最多被放款或退款一次。
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusActive:   {EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusDisputed},
	EscrowStatusDisputed: {EscrowStatusReleased, EscrowStatusRefunded},
}

func CanEscrowTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidEscrowTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// EscrowAccount 托管账户表
//
// 按项目里程碑托管客户已付的资金，放款前平台代为保管。
// 不变量：FreelancerAmount + PlatformFee == TotalAmount
type EscrowAccount struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EscrowNo         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"escrow_no"`
	TransactionNo    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 入金交易
	ProjectID        int64      `gorm:"index;not null" json:"project_id"`
	MilestoneID      int64      `gorm:"index" json:"milestone_id"`
	ClientID         int64      `gorm:"index;not null" json:"client_id"`
	FreelancerID     int64      `gorm:"index;not null" json:"freelancer_id"`
	TotalAmount      int64      `gorm:"not null" json:"total_amount"`
	PlatformFee      int64      `gorm:"not null" json:"platform_fee"`
	FreelancerAmount int64      `gorm:"not null" json:"freelancer_amount"`
	Status           string     `gorm:"type:varchar(20);index;not null" json:"status"`
	AutoReleaseAt    time.Time  `gorm:"index;not null" json:"auto_release_at"`
	ResolvedAt       *time.Time `json:"resolved_at"` // 放款或退款时间
	CreatedAt        time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (EscrowAccount) TableName() string {
	return "escrow_account"
}

const (
	EscrowEntryTypeFund    = "FUND"
	EscrowEntryTypeRelease = "RELEASE"
	EscrowEntryTypeRefund  = "REFUND"
)

// EscrowLedgerEntry 托管流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每条流水带签名金额（入金为正，放款/退款为负）和授权操作者
// 3. 签名和必须与托管账户状态对得上（对账依据）
type EscrowLedgerEntry struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EscrowNo  string    `gorm:"type:varchar(64);index;not null" json:"escrow_no"`
	EntryType string    `gorm:"type:varchar(20);not null" json:"entry_type"`
	Amount    int64     `gorm:"not null" json:"amount"` // 签名金额
	ActorID   int64     `gorm:"not null" json:"actor_id"` // 授权操作者，系统动作为 0
	Reason    string    `gorm:"type:varchar(256)" json:"reason"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (EscrowLedgerEntry) TableName() string {
	return "escrow_ledger_entry"
}

// SystemActorID 系统授权动作（自动放款等）的操作者ID
const SystemActorID int64 = 0
